// Package server exposes the respond pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

const (
	// DefaultRequestTimeout bounds one respond or retrieve call.
	DefaultRequestTimeout = 3 * time.Minute

	maxBodyBytes = 1 << 20
)

// Responder is the part of the pipeline the API serves.
type Responder interface {
	Respond(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	Retrieve(ctx context.Context, req pipeline.RetrieveRequest) (pipeline.RetrieveResponse, error)
}

// Config configures the API server.
type Config struct {
	Addr           string
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
}

// Server serves /v1/respond, /v1/retrieve, /v1/stats, /healthz and /metrics.
type Server struct {
	responder Responder
	config    Config
	limiter   *sessionLimiter
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics serves m on /metrics and counts requests.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server.
func New(responder Responder, cfg Config, opts ...Option) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		responder: responder,
		config:    cfg,
		limiter:   newSessionLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /v1/respond", s.respond)
	mux.HandleFunc("POST /v1/retrieve", s.retrieve)
	mux.HandleFunc("GET /v1/stats", s.stats)
	mux.Handle("GET /metrics", s.metrics.Handler())

	var h http.Handler = s.metrics.Middleware(mux)
	h = s.rateLimitMiddleware(h)
	h = s.accessLogMiddleware(h)
	return requestIDMiddleware(h)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// respondRequest is the JSON body of POST /v1/respond. Filters use the
// "field=value" and "field~v1,v2" forms.
type respondRequest struct {
	Query     string   `json:"query"`
	Filters   []string `json:"filters,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

type retrieveRequest struct {
	Query   string   `json:"query"`
	Filters []string `json:"filters,omitempty"`
	TopK    int      `json:"top_k,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !s.decode(w, r, &req) {
		return
	}
	filters, err := search.ParseFilters(req.Filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = sessionKey(r)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp, err := s.responder.Respond(ctx, pipeline.Request{
		Query:     req.Query,
		Filters:   filters,
		SessionID: req.SessionID,
		RequestID: requestIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	filters, err := search.ParseFilters(req.Filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp, err := s.responder.Retrieve(ctx, pipeline.RetrieveRequest{
		Query:   req.Query,
		Filters: filters,
		TopK:    req.TopK,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, amanerrors.ValidationError("invalid json body", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		attrs := append([]any{slog.String("request_id", requestIDFromContext(r.Context()))}, amanerrors.LogAttrs(err)...)
		s.logger.Error("request failed", attrs...)
	}

	body, marshalErr := amanerrors.FormatJSON(err)
	if marshalErr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	switch amanerrors.GetCode(err) {
	case amanerrors.ErrCodeInvalidInput, amanerrors.ErrCodeInvalidFilter, amanerrors.ErrCodeQueryEmpty:
		return http.StatusBadRequest
	case amanerrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case amanerrors.ErrCodeGenerationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// sessionKey identifies the caller for rate limiting and routing cache
// scope: the X-Session-Id header, or the client address.
func sessionKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionIDHeader)); id != "" {
		return id
	}
	return clientAddr(r)
}
