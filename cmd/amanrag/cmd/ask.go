package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// askOptions holds CLI flags for ask.
type askOptions struct {
	filters    []string
	session    string
	jsonOutput bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Answer a question using the full pipeline: routing, query expansion,
hybrid retrieval, reranking and generation with fallback.

Filters restrict retrieval by chunk metadata. Use field=value for
equality or field~a,b to match any of several values. Filters on
identifier fields (article_number, cas_number, ...) return exact
matches first.`,
		Example: `  amanrag ask "What does Article 33 require?"
  amanrag ask "Which substances are restricted?" --filter regulation=REACH
  amanrag ask "Compare Annex XIV and XVII" --filter annex~XIV,XVII --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.filters, "filter", "f", nil, "Metadata filter, field=value or field~a,b (repeatable)")
	cmd.Flags().StringVar(&opts.session, "session", "", "Session ID for routing cache reuse")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the response as JSON")

	return cmd
}

// askResult is the --json shape of an answer.
type askResult struct {
	pipeline.Response
	Sources []sourceRef `json:"sources"`
}

type sourceRef struct {
	ChunkID  string `json:"chunk_id"`
	SourceID string `json:"source_id,omitempty"`
}

func runAsk(ctx context.Context, cmd *cobra.Command, query string, opts askOptions) error {
	filters, err := search.ParseFilters(opts.filters)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.pipeline.Respond(ctx, pipeline.Request{
		Query:     query,
		Filters:   filters,
		SessionID: opts.session,
	})
	if err != nil {
		return err
	}

	sources := resolveSources(ctx, a.chunks, resp.Citations)

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(askResult{Response: resp, Sources: sources})
	}

	answer := output.Answer{
		Text:          resp.Text,
		Tier:          resp.TierUsed.String(),
		RetrievalUsed: resp.RetrievalUsed,
		Degradations:  resp.Degradations,
		Elapsed:       resp.Elapsed,
	}
	for _, s := range sources {
		answer.Sources = append(answer.Sources, output.Source{ChunkID: s.ChunkID, SourceID: s.SourceID})
	}
	output.New(cmd.OutOrStdout()).Answer(answer)
	return nil
}

// resolveSources pairs each cited chunk with its source document. A chunk
// deleted since retrieval keeps its ID without a source.
func resolveSources(ctx context.Context, chunks store.ChunkReader, ids []string) []sourceRef {
	refs := make([]sourceRef, 0, len(ids))
	found, err := chunks.GetMany(ctx, ids)
	if err != nil {
		slog.Warn("failed to resolve citation sources", slog.String("error", err.Error()))
	}
	for _, id := range ids {
		ref := sourceRef{ChunkID: id}
		if c, ok := found[id]; ok {
			ref.SourceID = c.SourceID
		}
		refs = append(refs, ref)
	}
	return refs
}
