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
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	filters    []string
	topK       int
	maxChars   int
	jsonOutput bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:     "search <query>",
		Aliases: []string{"retrieve"},
		Short:   "Retrieve ranked chunks without generating an answer",
		Long: `Run retrieval only: query expansion, hybrid search over the keyword,
vector and identifier indexes, and reranking.

Vector and keyword scores are normalized per query and combined as
alpha*vector + (1-alpha)*keyword. Exact identifier matches rank first.`,
		Example: `  amanrag search "formaldehyde exposure limits"
  amanrag search "reporting" --filter article_number=33
  amanrag search "restriction" --filter regulation~REACH,CLP -n 10 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.filters, "filter", "f", nil, "Metadata filter, field=value or field~a,b (repeatable)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Number of results (default: retrieval.top_k)")
	cmd.Flags().IntVar(&opts.maxChars, "max-chars", 200, "Truncate chunk text to this many characters (0 for full text)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

// searchHit is the --json shape of one result.
type searchHit struct {
	search.Candidate
	SourceID string `json:"source_id,omitempty"`
	Text     string `json:"text"`
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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

	resp, err := a.pipeline.Retrieve(ctx, pipeline.RetrieveRequest{
		Query:   query,
		Filters: filters,
		TopK:    opts.topK,
	})
	if err != nil {
		return err
	}

	ids := make([]string, len(resp.Candidates))
	for i, c := range resp.Candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := a.chunks.GetMany(ctx, ids)
	if err != nil {
		return err
	}

	hits := make([]searchHit, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		hit := searchHit{Candidate: c}
		if chunk, ok := chunks[c.ChunkID]; ok {
			hit.SourceID = chunk.SourceID
			hit.Text = chunk.Text
		}
		hits = append(hits, hit)
	}
	slog.Info("search_complete",
		slog.Int("results", len(hits)),
		slog.Duration("elapsed", resp.Elapsed))

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	out := output.New(cmd.OutOrStdout())
	results := make([]output.Result, len(hits))
	for i, h := range hits {
		results[i] = output.Result{
			ChunkID:    h.ChunkID,
			SourceID:   h.SourceID,
			Text:       h.Text,
			Score:      h.CombinedScore,
			ExactMatch: h.ExactMatch,
		}
	}
	out.Results(query, results, opts.maxChars)
	if len(resp.Degradations) > 0 {
		out.Warningf("degraded: %s", strings.Join(resp.Degradations, ", "))
	}
	return nil
}
