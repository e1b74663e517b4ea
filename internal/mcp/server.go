package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Tool names.
const (
	ToolRespond  = "respond"
	ToolRetrieve = "retrieve"
)

const (
	respondDescription  = "Answer a question from the indexed regulatory documents. Retrieves relevant chunks, picks a model tier and returns the answer with the chunk IDs it was given as sources. Use filters to pin exact identifiers such as article_number=33 or cas_number=50-00-0."
	retrieveDescription = "Return the ranked document chunks for a query without generating an answer. Exact identifier matches from filters are listed first."
)

// Responder is the part of the pipeline the tools call.
type Responder interface {
	Respond(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	Retrieve(ctx context.Context, req pipeline.RetrieveRequest) (pipeline.RetrieveResponse, error)
}

// Server is the MCP server for amanrag.
type Server struct {
	mcp       *mcp.Server
	responder Responder
	chunks    store.ChunkReader
	metrics   *telemetry.Metrics
	logger    *slog.Logger
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

// WithMetrics exposes m as the amanrag://stats resource.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(responder Responder, chunks store.ChunkReader, opts ...Option) (*Server, error) {
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	if chunks == nil {
		return nil, errors.New("chunk store is required")
	}

	s := &Server{
		responder: responder,
		chunks:    chunks,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "amanrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRespond,
		Description: respondDescription,
	}, s.respondHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRetrieve,
		Description: retrieveDescription,
	}, s.retrieveHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(s.ListTools())))
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ListTools returns the tools the server registers.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: ToolRespond, Description: respondDescription},
		{Name: ToolRetrieve, Description: retrieveDescription},
	}
}

// CallTool invokes a tool by name with JSON-shaped arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRespond:
		var input RespondInput
		if err := decodeArgs(args, &input); err != nil {
			return nil, err
		}
		return s.Respond(ctx, input)
	case ToolRetrieve:
		var input RetrieveInput
		if err := decodeArgs(args, &input); err != nil {
			return nil, err
		}
		return s.Retrieve(ctx, input)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, into any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, into); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) respondHandler(ctx context.Context, _ *mcp.CallToolRequest, input RespondInput) (
	*mcp.CallToolResult,
	RespondOutput,
	error,
) {
	out, err := s.Respond(ctx, input)
	if err != nil {
		return nil, RespondOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatAnswer(out)}},
	}, out, nil
}

func (s *Server) retrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.Retrieve(ctx, input)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatRetrieval(input.Query, out)}},
	}, out, nil
}

// Respond runs the respond tool.
func (s *Server) Respond(ctx context.Context, input RespondInput) (RespondOutput, error) {
	start := time.Now()
	filters, err := search.ParseFilters(input.Filters)
	if err != nil {
		return RespondOutput{}, MapError(err)
	}

	resp, err := s.responder.Respond(ctx, pipeline.Request{
		Query:     input.Query,
		Filters:   filters,
		SessionID: input.SessionID,
	})
	if err != nil {
		s.logger.Error("respond tool failed",
			slog.String("query", input.Query),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return RespondOutput{}, MapError(err)
	}

	out := RespondOutput{
		Answer:        resp.Text,
		Citations:     s.citations(ctx, resp.Citations),
		TierUsed:      string(resp.TierUsed),
		RetrievalUsed: resp.RetrievalUsed,
		Degradations:  resp.Degradations,
		RequestID:     resp.RequestID,
	}
	s.logger.Info("respond tool completed",
		slog.String("request_id", resp.RequestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("citations", len(out.Citations)))
	return out, nil
}

// Retrieve runs the retrieve tool.
func (s *Server) Retrieve(ctx context.Context, input RetrieveInput) (RetrieveOutput, error) {
	filters, err := search.ParseFilters(input.Filters)
	if err != nil {
		return RetrieveOutput{}, MapError(err)
	}

	resp, err := s.responder.Retrieve(ctx, pipeline.RetrieveRequest{
		Query:   input.Query,
		Filters: filters,
		TopK:    clampLimit(input.TopK, pipeline.DefaultTopK, 1, 50),
	})
	if err != nil {
		return RetrieveOutput{}, MapError(err)
	}

	ids := make([]string, len(resp.Candidates))
	for i, c := range resp.Candidates {
		ids[i] = c.ChunkID
	}
	found, err := s.chunks.GetMany(ctx, ids)
	if err != nil {
		return RetrieveOutput{}, MapError(err)
	}

	out := RetrieveOutput{
		Results:      make([]RetrievedChunk, 0, len(resp.Candidates)),
		Degradations: resp.Degradations,
	}
	for _, c := range resp.Candidates {
		chunk, ok := found[c.ChunkID]
		if !ok {
			continue
		}
		out.Results = append(out.Results, RetrievedChunk{
			ChunkID:    c.ChunkID,
			SourceID:   chunk.SourceID,
			Text:       chunk.Text,
			Score:      c.CombinedScore,
			ExactMatch: c.ExactMatch,
			Variant:    c.SourceVariant.Text,
		})
	}
	return out, nil
}

// citations attaches source IDs. A lookup failure leaves them blank.
func (s *Server) citations(ctx context.Context, ids []string) []Citation {
	out := make([]Citation, len(ids))
	found, err := s.chunks.GetMany(ctx, ids)
	if err != nil {
		s.logger.Warn("citation lookup failed", slog.String("error", err.Error()))
	}
	for i, id := range ids {
		out[i] = Citation{ChunkID: id}
		if c, ok := found[id]; ok {
			out[i].SourceID = c.SourceID
		}
	}
	return out
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		return def
	}
	return max(lo, min(v, hi))
}
