// Package generate builds prompts from retrieved chunks and runs the
// generation attempt plan across model tiers.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Per-attempt timeouts.
const (
	DefaultFastTimeout    = 30 * time.Second
	DefaultComplexTimeout = 120 * time.Second
)

// Attempt outcomes recorded in metrics.
const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeTimeout     = "timeout"
	outcomeBreakerOpen = "breaker_open"
	outcomeEmpty       = "empty"
	outcomeCanceled    = "canceled"
)

// ErrEmptyOutput marks a generation that returned only whitespace.
var ErrEmptyOutput = errors.New("generation returned empty output")

// Response is a generated answer.
type Response struct {
	Text string `json:"text"`

	// Citations are the chunk IDs placed in the prompt, in prompt order.
	Citations []string `json:"citations"`

	TierUsed llm.Tier `json:"tier_used"`
	Attempts int      `json:"attempts"`
}

// Config configures a Dispatcher.
type Config struct {
	FastTimeout    time.Duration
	ComplexTimeout time.Duration
	ContextBudget  int
}

// Dispatcher sends prompts to the generation service with fallback.
type Dispatcher struct {
	gen     llm.Service
	chunks  store.ChunkReader
	config  Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records attempts in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(gen llm.Service, chunks store.ChunkReader, cfg Config, opts ...Option) (*Dispatcher, error) {
	if gen == nil {
		return nil, errors.New("generation service is required")
	}
	if chunks == nil {
		return nil, errors.New("chunk store is required")
	}
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = DefaultFastTimeout
	}
	if cfg.ComplexTimeout <= 0 {
		cfg.ComplexTimeout = DefaultComplexTimeout
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	d := &Dispatcher{gen: gen, chunks: chunks, config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Generate answers query on tier using the candidates as context.
//
// Attempts run in order: tier, tier again, then the other tier. Each has
// its own timeout. An error, timeout, open breaker or blank output counts
// as a failure; after three failures a GenerationUnavailable error is
// returned. Cancellation of ctx stops the plan at once.
func (d *Dispatcher) Generate(ctx context.Context, tier llm.Tier, query string, candidates []search.Candidate) (Response, error) {
	if tier != llm.TierFast && tier != llm.TierComplex {
		tier = llm.TierFast
	}

	sources := d.loadSources(ctx, candidates)
	citations := make([]string, len(sources))
	for i, s := range sources {
		citations[i] = s.ChunkID
	}

	plan := []llm.Tier{tier, tier, tier.Other()}
	prompts := make(map[llm.Tier]string, 2)
	var failures []error

	for i, t := range plan {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		prompt, ok := prompts[t]
		if !ok {
			prompt = BuildPrompt(t, query, sources)
			prompts[t] = prompt
		}

		start := time.Now()
		text, err := d.attempt(ctx, t, prompt)
		if err == nil {
			d.metrics.RecordGenerationAttempt(string(t), outcomeOK)
			d.metrics.ObserveStage("generate_"+string(t), time.Since(start))
			return Response{
				Text:      text,
				Citations: citations,
				TierUsed:  t,
				Attempts:  i + 1,
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			d.metrics.RecordGenerationAttempt(string(t), outcomeCanceled)
			return Response{}, ctxErr
		}

		outcome := classifyFailure(err)
		d.metrics.RecordGenerationAttempt(string(t), outcome)
		d.logger.Warn("generation attempt failed",
			slog.Int("attempt", i+1),
			slog.String("tier", string(t)),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		failures = append(failures, fmt.Errorf("attempt %d (%s): %w", i+1, t, err))
	}

	genErr := amanerrors.GenerationUnavailable(len(plan), errors.Join(failures...)).
		WithDetail("query", query).
		WithDetail("tier", string(tier))
	d.logger.Error("generation unavailable",
		slog.String("query", query),
		slog.String("code", genErr.Code),
		slog.Int("attempts", len(plan)))
	return Response{}, genErr
}

func (d *Dispatcher) attempt(ctx context.Context, tier llm.Tier, prompt string) (string, error) {
	timeout := d.config.FastTimeout
	if tier == llm.TierComplex {
		timeout = d.config.ComplexTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := d.gen.Generate(callCtx, tier, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// loadSources fetches candidate text in candidate order and applies the
// context budget. A store failure yields no context.
func (d *Dispatcher) loadSources(ctx context.Context, candidates []search.Candidate) []Source {
	if len(candidates) == 0 {
		return nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	found, err := d.chunks.GetMany(ctx, ids)
	if err != nil {
		d.logger.Warn("context chunks unavailable, generating without context",
			slog.Int("chunks", len(ids)),
			slog.String("error", err.Error()))
		return nil
	}

	chunks := make([]*store.Chunk, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if c, ok := found[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return selectSources(chunks, d.config.ContextBudget)
}

func classifyFailure(err error) string {
	switch {
	case llm.IsCircuitOpen(err):
		return outcomeBreakerOpen
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	case errors.Is(err, ErrEmptyOutput):
		return outcomeEmpty
	default:
		return outcomeError
	}
}
