package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the per-tier circuit breakers.
type BreakerConfig struct {
	// MinRequests is the number of calls in a window before the breaker may trip.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls is the number of probes allowed while half-open.
	HalfOpenMaxCalls uint32
}

// Operation names used to key breakers.
const (
	OperationGenerate = "generate"
	OperationExpand   = "expand"
	OperationClassify = "classify"
	OperationRerank   = "rerank"
)

// BreakerService guards a Service with one circuit breaker per operation
// and tier. Failures of one operation never open another operation's
// breaker, and an open complex breaker leaves the fast tier untouched.
type BreakerService struct {
	inner  Service
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

// NewBreakerService wraps inner. Calls through Generate use the
// OperationGenerate breakers; Operation returns views for other callers.
func NewBreakerService(inner Service, cfg BreakerConfig, logger *slog.Logger) *BreakerService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &BreakerService{
		inner:    inner,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
	}
}

func (s *BreakerService) Generate(ctx context.Context, tier Tier, prompt string) (string, error) {
	return s.execute(ctx, OperationGenerate, tier, prompt)
}

// Operation returns a Service whose calls trip only operation's breakers.
func (s *BreakerService) Operation(operation string) Service {
	return ServiceFunc(func(ctx context.Context, tier Tier, prompt string) (string, error) {
		return s.execute(ctx, operation, tier, prompt)
	})
}

func (s *BreakerService) execute(ctx context.Context, operation string, tier Tier, prompt string) (string, error) {
	return s.breaker(operation, tier).Execute(func() (string, error) {
		return s.inner.Generate(ctx, tier, prompt)
	})
}

func (s *BreakerService) breaker(operation string, tier Tier) *gobreaker.CircuitBreaker[string] {
	op := strings.TrimSpace(operation)
	if op == "" {
		op = OperationGenerate
	}
	name := op + "_" + string(tier)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}

	cfg := s.cfg
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	s.breakers[name] = cb
	return cb
}

// State returns the generation breaker state for tier.
func (s *BreakerService) State(tier Tier) gobreaker.State {
	return s.OperationState(OperationGenerate, tier)
}

// OperationState returns the breaker state for operation and tier. A
// breaker that has never been used is closed.
func (s *BreakerService) OperationState(operation string, tier Tier) gobreaker.State {
	s.mu.Lock()
	cb, ok := s.breakers[operation+"_"+string(tier)]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// countsAsFailure decides whether err says something about the model's
// health. Caller cancellation and client-side request errors do not.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

var _ Service = (*BreakerService)(nil)
