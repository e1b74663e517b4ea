// Package telemetry records pipeline metrics in a Prometheus registry.
//
// Every recorder is safe to call on a nil *Metrics, so components can take
// metrics as an optional dependency.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "amanrag"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	degradations    *prometheus.CounterVec
	responses       *prometheus.CounterVec
	generationCalls *prometheus.CounterVec
	routing         *prometheus.CounterVec
	branchFailures  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	candidates      prometheus.Histogram
	ingestedChunks  *prometheus.CounterVec
	httpInFlight    prometheus.Gauge
	recentEmpty     *CircularBuffer[EmptyQuery]
	recentDegraded  *CircularBuffer[DegradationEvent]
}

// EmptyQuery is a query whose retrieval returned no candidates.
type EmptyQuery struct {
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// DegradationEvent is one recorded degradation.
type DegradationEvent struct {
	Stage  string    `json:"stage"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the in-memory history.
type Snapshot struct {
	RecentEmptyQueries []EmptyQuery       `json:"recent_empty_queries"`
	RecentDegradations []DegradationEvent `json:"recent_degradations"`
}

// DefaultHistorySize bounds the in-memory histories.
const DefaultHistorySize = 100

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		degradations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "degradations_total",
				Help:      "Degraded pipeline stages by stage.",
			},
			[]string{"stage"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "responses_total",
				Help:      "Completed responses by tier used and whether retrieval ran.",
			},
			[]string{"tier", "retrieval"},
		),
		generationCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "attempts_total",
				Help:      "Generation attempts by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		routing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "decisions_total",
				Help:      "Routing decisions by tier and reason.",
			},
			[]string{"tier", "reason"},
		),
		branchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "branch_failures_total",
				Help:      "Failed retrieval branches by branch.",
			},
			[]string{"branch"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by path and status code.",
			},
			[]string{"method", "path", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "request_duration_seconds",
				Help:      "End-to-end respond duration in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tier"},
		),
		candidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "candidates",
				Help:      "Candidates returned per retrieval.",
				Buckets:   []float64{0, 1, 2, 5, 10, 15, 25, 50, 100},
			},
		),
		ingestedChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "chunks_total",
				Help:      "Chunks written or deleted by the loader.",
			},
			[]string{"op"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "Number of in-flight HTTP requests.",
			},
		),
		recentEmpty:    NewCircularBuffer[EmptyQuery](DefaultHistorySize),
		recentDegraded: NewCircularBuffer[DegradationEvent](DefaultHistorySize),
	}

	registry.MustRegister(
		m.degradations,
		m.responses,
		m.generationCalls,
		m.routing,
		m.branchFailures,
		m.httpRequests,
		m.stageDuration,
		m.requestDuration,
		m.candidates,
		m.ingestedChunks,
		m.httpInFlight,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDegradation counts a degraded stage and remembers it.
func (m *Metrics) RecordDegradation(stage, reason string) {
	if m == nil {
		return
	}
	m.degradations.WithLabelValues(stage).Inc()
	m.recentDegraded.Add(DegradationEvent{Stage: stage, Reason: reason, At: time.Now()})
}

// RecordResponse counts a completed response.
func (m *Metrics) RecordResponse(tier string, retrievalUsed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(tier, strconv.FormatBool(retrievalUsed)).Inc()
	m.requestDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
}

// RecordGenerationAttempt counts one generation attempt.
// outcome is "ok", "error", "timeout", "breaker_open", "empty" or "canceled".
func (m *Metrics) RecordGenerationAttempt(tier, outcome string) {
	if m == nil {
		return
	}
	m.generationCalls.WithLabelValues(tier, outcome).Inc()
}

// RecordRouting counts a routing decision.
func (m *Metrics) RecordRouting(tier, reason string) {
	if m == nil {
		return
	}
	m.routing.WithLabelValues(tier, reason).Inc()
}

// RecordBranchFailure counts a failed vector or keyword lookup.
func (m *Metrics) RecordBranchFailure(branch string) {
	if m == nil {
		return
	}
	m.branchFailures.WithLabelValues(branch).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveCandidates records a retrieval's candidate count. Zero counts are
// remembered along with the query.
func (m *Metrics) ObserveCandidates(query string, n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
	if n == 0 {
		m.recentEmpty.Add(EmptyQuery{Query: query, At: time.Now()})
	}
}

// RecordIngest counts chunks upserted ("put") or removed ("delete").
func (m *Metrics) RecordIngest(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestedChunks.WithLabelValues(op).Add(float64(n))
}

// Snapshot returns the in-memory histories, oldest first.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{RecentEmptyQueries: []EmptyQuery{}, RecentDegradations: []DegradationEvent{}}
	}
	return Snapshot{
		RecentEmptyQueries: m.recentEmpty.Items(),
		RecentDegradations: m.recentDegraded.Items(),
	}
}
