package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

const (
	chunkScheme = "chunk://"
	statsURI    = "amanrag://stats"
)

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "chunk",
			URITemplate: chunkScheme + "{id}",
			Description: "Text and metadata of an indexed chunk, by chunk ID",
			MIMEType:    "application/json",
		},
		s.readChunk,
	)

	if s.metrics != nil {
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        "stats",
				URI:         statsURI,
				Description: "Recent empty retrievals and pipeline degradations",
				MIMEType:    "application/json",
			},
			s.readStats,
		)
	}
}

func (s *Server) readChunk(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	content, err := s.ReadChunk(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: content}},
	}, nil
}

// ReadChunk returns the JSON form of the chunk named by a chunk:// URI.
func (s *Server) ReadChunk(ctx context.Context, uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, chunkScheme)
	if !ok || id == "" {
		return "", NewResourceNotFoundError(uri)
	}
	chunk, err := s.chunks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrChunkNotFound) || amanerrors.GetCode(err) == amanerrors.ErrCodeChunkNotFound {
			return "", NewResourceNotFoundError(uri)
		}
		return "", MapError(err)
	}
	if chunk == nil {
		return "", NewResourceNotFoundError(uri)
	}

	view := *chunk
	view.Embedding = nil
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", MapError(err)
	}
	return string(data), nil
}

func (s *Server) readStats(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(s.metrics.Snapshot(), "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: statsURI, MIMEType: "application/json", Text: string(data)}},
	}, nil
}
