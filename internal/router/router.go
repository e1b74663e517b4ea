// Package router decides which generation tier answers a query and whether
// the query needs retrieved context at all.
//
// Cheap heuristics run first. Queries they cannot settle go to a single
// fast-tier classification call whose answer is cached per session.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Reason records how a tier was chosen.
type Reason string

const (
	ReasonHeuristic  Reason = "heuristic"
	ReasonClassifier Reason = "classifier"
)

// StageClassification names the classifier stage in logs and metrics.
const StageClassification = "classification"

// Decision is computed once per query and never mutated.
type Decision struct {
	Tier           llm.Tier `json:"tier"`
	Reason         Reason   `json:"reason"`
	NeedsRetrieval bool     `json:"needs_retrieval"`

	// Degraded is set when the classifier failed and fast was chosen.
	Degraded bool `json:"degraded,omitempty"`
}

// Router defaults.
const (
	DefaultComplexWordThreshold = 15
	DefaultSimpleWordThreshold  = 4
	DefaultClassifierTimeout    = 2 * time.Second
)

// Config configures a Router.
type Config struct {
	ComplexWordThreshold int
	SimpleWordThreshold  int
	ComplexKeywords      []string
	ClassifierTimeout    time.Duration
	SessionCacheSize     int
	MaxSessions          int
	SessionTTL           time.Duration
}

// Router routes queries to a tier.
type Router struct {
	gen        llm.Service
	heuristics *Heuristics
	cache      *SessionCache
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records routing decisions in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a Router. A nil gen sends ambiguous queries to fast as a
// degraded decision.
func New(gen llm.Service, cfg Config, opts ...Option) *Router {
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = DefaultClassifierTimeout
	}
	r := &Router{
		gen:        gen,
		heuristics: NewHeuristics(cfg.ComplexWordThreshold, cfg.SimpleWordThreshold, cfg.ComplexKeywords),
		cache:      NewSessionCache(cfg.MaxSessions, cfg.SessionCacheSize, cfg.SessionTTL),
		timeout:    cfg.ClassifierTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache exposes the session classification cache.
func (r *Router) Cache() *SessionCache { return r.cache }

// Route decides the tier and retrieval need for query. It never fails:
// a failed classification routes to fast with Degraded set.
func (r *Router) Route(ctx context.Context, sessionID, query string) Decision {
	d := r.route(ctx, sessionID, query)
	r.metrics.RecordRouting(string(d.Tier), string(d.Reason))
	r.logger.Debug("query routed",
		slog.String("session", sessionID),
		slog.String("tier", string(d.Tier)),
		slog.String("reason", string(d.Reason)),
		slog.Bool("needs_retrieval", d.NeedsRetrieval),
		slog.Bool("degraded", d.Degraded))
	return d
}

func (r *Router) route(ctx context.Context, sessionID, query string) Decision {
	query = strings.TrimSpace(query)
	if query == "" || IsConversational(query) {
		return Decision{Tier: llm.TierFast, Reason: ReasonHeuristic, NeedsRetrieval: false}
	}

	if tier, ok := r.heuristics.Classify(query); ok {
		return Decision{Tier: tier, Reason: ReasonHeuristic, NeedsRetrieval: true}
	}

	if tier, ok := r.cache.Get(sessionID, query); ok {
		return Decision{Tier: tier, Reason: ReasonClassifier, NeedsRetrieval: true}
	}

	tier, err := r.classify(ctx, query)
	if err != nil {
		degradation := amanerrors.Degraded(amanerrors.ErrCodeClassificationDegraded, StageClassification, err)
		r.logger.Warn("query classification degraded, routing to fast",
			slog.String("query", query),
			slog.String("stage", StageClassification),
			slog.String("code", degradation.Code),
			slog.String("reason", err.Error()))
		r.metrics.RecordDegradation(StageClassification, err.Error())
		return Decision{Tier: llm.TierFast, Reason: ReasonClassifier, NeedsRetrieval: true, Degraded: true}
	}

	r.cache.Add(sessionID, query, tier)
	return Decision{Tier: tier, Reason: ReasonClassifier, NeedsRetrieval: true}
}

func (r *Router) classify(ctx context.Context, query string) (llm.Tier, error) {
	if r.gen == nil {
		return "", errors.New("no classifier configured")
	}
	start := time.Now()
	defer func() { r.metrics.ObserveStage(StageClassification, time.Since(start)) }()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.gen.Generate(callCtx, llm.TierFast, classificationPrompt(query))
	if err != nil {
		return "", err
	}
	return parseClassification(raw)
}
