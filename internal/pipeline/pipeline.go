// Package pipeline composes routing, retrieval and generation into the
// respond operation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// EmptyQueryText is returned for a blank query without calling any model.
const EmptyQueryText = "Please ask a question."

// DefaultTopK is the number of chunks handed to generation.
const DefaultTopK = 5

// Request is one user turn.
type Request struct {
	Query     string             `json:"query"`
	Filters   *search.FilterSpec `json:"filters,omitempty"`
	SessionID string             `json:"session_id,omitempty"`

	// RequestID is generated when empty.
	RequestID string `json:"request_id,omitempty"`
}

// Response is the answer to a Request.
type Response struct {
	RequestID     string   `json:"request_id"`
	Text          string   `json:"text"`
	Citations     []string `json:"citations"`
	TierUsed      llm.Tier `json:"tier_used"`
	RetrievalUsed bool     `json:"retrieval_used"`

	// Degradations lists the stages that fell back during this request.
	Degradations []string      `json:"degradations,omitempty"`
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Components are the stages a Pipeline runs. Router, Retriever and
// Dispatcher are required; a nil Expander or Reranker skips that stage.
type Components struct {
	Router     *router.Router
	Expander   *search.Expander
	Retriever  *search.HybridRetriever
	Reranker   *search.RerankStage
	Dispatcher *generate.Dispatcher
}

// Config configures a Pipeline.
type Config struct {
	TopK        int
	MaxVariants int
}

// Pipeline answers queries.
type Pipeline struct {
	router     *router.Router
	expander   *search.Expander
	retriever  *search.HybridRetriever
	reranker   *search.RerankStage
	dispatcher *generate.Dispatcher
	config     Config
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records responses in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline.
func New(c Components, cfg Config, opts ...Option) (*Pipeline, error) {
	switch {
	case c.Router == nil:
		return nil, errors.New("pipeline: router is required")
	case c.Retriever == nil:
		return nil, errors.New("pipeline: retriever is required")
	case c.Dispatcher == nil:
		return nil, errors.New("pipeline: dispatcher is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	p := &Pipeline{
		router:     c.Router,
		expander:   c.Expander,
		retriever:  c.Retriever,
		reranker:   c.Reranker,
		dispatcher: c.Dispatcher,
		config:     cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Respond routes the query, retrieves context when the query needs it and
// generates an answer with citations.
//
// Stage failures other than generation degrade and are listed in
// Response.Degradations. The only errors returned are GenerationUnavailable
// and the caller's cancellation.
func (p *Pipeline) Respond(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp := Response{
		RequestID: req.RequestID,
		Citations: []string{},
		TierUsed:  llm.TierFast,
	}
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	logger := p.logger.With(slog.String("request_id", resp.RequestID))

	query := strings.TrimSpace(req.Query)
	if query == "" {
		resp.Text = EmptyQueryText
		resp.Elapsed = time.Since(start)
		p.metrics.RecordResponse(string(resp.TierUsed), false, resp.Elapsed)
		return resp, nil
	}

	decision := p.router.Route(ctx, req.SessionID, query)
	if decision.Degraded {
		resp.Degradations = append(resp.Degradations, router.StageClassification)
	}

	var sources []search.Candidate
	if decision.NeedsRetrieval {
		resp.RetrievalUsed = true
		candidates, degraded, err := p.retrieve(ctx, query, req.Filters, p.config.TopK, logger)
		if err != nil {
			return Response{}, err
		}
		resp.Degradations = append(resp.Degradations, degraded...)
		sources = candidates
	}

	gen, err := p.dispatcher.Generate(ctx, decision.Tier, query, sources)
	if err != nil {
		if amanerrors.GetCode(err) == amanerrors.ErrCodeGenerationUnavailable {
			logger.Error("respond failed", amanerrors.LogAttrs(err)...)
		}
		return Response{}, err
	}

	resp.Text = gen.Text
	resp.Citations = gen.Citations
	resp.TierUsed = gen.TierUsed
	resp.Attempts = gen.Attempts
	resp.Elapsed = time.Since(start)

	p.metrics.RecordResponse(string(resp.TierUsed), resp.RetrievalUsed, resp.Elapsed)
	logger.Info("respond complete",
		slog.String("session", req.SessionID),
		slog.String("routed_tier", string(decision.Tier)),
		slog.String("route_reason", string(decision.Reason)),
		slog.String("tier_used", string(resp.TierUsed)),
		slog.Bool("retrieval_used", resp.RetrievalUsed),
		slog.Int("citations", len(resp.Citations)),
		slog.Int("attempts", resp.Attempts),
		slog.Any("degradations", resp.Degradations),
		slog.Duration("elapsed", resp.Elapsed))
	return resp, nil
}

// retrieve runs expand, retrieve and rerank. It returns the reranked
// candidates and the names of the stages that degraded.
func (p *Pipeline) retrieve(ctx context.Context, query string, filters *search.FilterSpec, topK int, logger *slog.Logger) ([]search.Candidate, []string, error) {
	var degraded []string

	variants := []search.QueryVariant{{Text: query, Origin: search.OriginOriginal, Weight: 1.0}}
	if p.expander != nil {
		expanded, expansionDegraded := p.expander.Expand(ctx, query, p.config.MaxVariants)
		if expansionDegraded {
			degraded = append(degraded, search.StageExpansion)
		}
		if len(expanded) > 0 {
			variants = expanded
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	result, err := p.retriever.Retrieve(ctx, variants, filters, topK)
	if err != nil {
		return nil, nil, err
	}
	if len(result.Candidates) == 0 {
		logger.Info("retrieval returned no candidates",
			slog.String("query", query),
			slog.String("code", amanerrors.ErrCodeRetrievalEmpty),
			slog.String("strategy", string(result.Strategy)))
		return []search.Candidate{}, degraded, nil
	}

	if p.reranker == nil {
		return truncate(result.Candidates, topK), degraded, nil
	}
	reranked, rerankDegraded := p.reranker.Rerank(ctx, query, result.Candidates, topK)
	if rerankDegraded {
		degraded = append(degraded, search.StageRerank)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return reranked, degraded, nil
}

// RetrieveRequest asks for ranked context without generation.
type RetrieveRequest struct {
	Query   string             `json:"query"`
	Filters *search.FilterSpec `json:"filters,omitempty"`
	TopK    int                `json:"top_k,omitempty"`
}

// RetrieveResponse is the ranked context for a RetrieveRequest.
type RetrieveResponse struct {
	Candidates   []search.Candidate `json:"candidates"`
	Degradations []string           `json:"degradations,omitempty"`
	Elapsed      time.Duration      `json:"elapsed"`
}

// Retrieve runs expansion, hybrid retrieval and reranking for a query and
// returns the candidates that would be handed to generation.
func (p *Pipeline) Retrieve(ctx context.Context, req RetrieveRequest) (RetrieveResponse, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return RetrieveResponse{Candidates: []search.Candidate{}}, nil
	}
	topK := req.TopK
	if topK <= 0 {
		topK = p.config.TopK
	}
	candidates, degraded, err := p.retrieve(ctx, query, req.Filters, topK, p.logger)
	if err != nil {
		return RetrieveResponse{}, err
	}
	return RetrieveResponse{
		Candidates:   candidates,
		Degradations: degraded,
		Elapsed:      time.Since(start),
	}, nil
}

func truncate(cs []search.Candidate, n int) []search.Candidate {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}
