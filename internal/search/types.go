package search

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Origin says where a query variant came from.
type Origin string

const (
	OriginOriginal Origin = "original"
	OriginExpanded Origin = "expanded"
)

// QueryVariant is one phrasing of the user's query. Scores found with a
// variant are multiplied by its Weight.
type QueryVariant struct {
	Text   string  `json:"text"`
	Origin Origin  `json:"origin"`
	Weight float64 `json:"weight"`
}

// Candidate is one retrieved chunk. A nil score means the signal did not
// find the chunk, which is different from a zero score.
type Candidate struct {
	ChunkID       string       `json:"chunk_id"`
	VectorScore   *float64     `json:"vector_score,omitempty"`
	KeywordScore  *float64     `json:"keyword_score,omitempty"`
	ExactMatch    bool         `json:"exact_match"`
	CombinedScore float64      `json:"combined_score"`
	SourceVariant QueryVariant `json:"source_variant"`
}

// Strategy names the retrieval paths that produced a result.
type Strategy string

const (
	StrategyHybrid      Strategy = "hybrid"
	StrategyHybridExact Strategy = "hybrid+exact"
	StrategyExact       Strategy = "exact"
	StrategyNone        Strategy = "none"
)

// RetrievalResult is the output of one Retrieve call. It is not persisted.
type RetrievalResult struct {
	Candidates      []Candidate   `json:"candidates"`
	Strategy        Strategy      `json:"strategy"`
	TotalConsidered int           `json:"total_considered"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Degradation stage names shared with the pipeline.
const (
	StageExpansion = "expansion"
	StageRetrieval = "retrieval"
	StageRerank    = "rerank"
)

// Option configures the logger and metrics of a search component.
type Option func(*instruments)

type instruments struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *instruments) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics records stage metrics in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *instruments) {
		i.metrics = m
	}
}

func newInstruments(opts []Option) instruments {
	i := instruments{logger: slog.Default()}
	for _, opt := range opts {
		opt(&i)
	}
	return i
}

func scorePtr(v float64) *float64 {
	return &v
}
