package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/preflight"
)

// errChecksFailed is returned when a required check fails.
var errChecksFailed = errors.New("required checks failed")

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose issues",
		Long: `Run diagnostics to ensure amanrag can operate correctly.

Checks:
  - Data directory is writable (required)
  - Disk space (100MB minimum, required)
  - File descriptor limit (1024 minimum)
  - Configured chunk files exist
  - Embedding model is reachable (required)
  - Both generation models are pulled
  - Chunk store and indexes agree

A missing generation model is a warning: the other tier answers instead.`,
		Example: `  amanrag doctor
  amanrag doctor --verbose
  amanrag doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

// doctorReport is the --json shape.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results := preflight.RunAll(ctx, doctorChecks(cfg)...)
	status := preflight.SummaryStatus(results)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorReport{Status: status, Checks: results}); err != nil {
			return err
		}
	} else {
		printCheckResults(output.New(cmd.OutOrStdout()), results, status, verbose)
	}

	if preflight.HasCriticalFailures(results) {
		return errChecksFailed
	}
	return nil
}

func doctorChecks(cfg *config.Config) []preflight.Check {
	g := cfg.Generation
	return []preflight.Check{
		preflight.WritePermissions(cfg.Storage.DataDir),
		preflight.DiskSpace(cfg.Storage.DataDir),
		preflight.FileDescriptors(),
		preflight.ChunkFiles(cfg.Storage.ChunkFiles),
		embedderCheck(cfg.Embeddings),
		preflight.GenerationModels(llm.NewOllamaClient(g.Host, g.FastModel, g.ComplexModel, ""), g.FastModel, g.ComplexModel),
		indexCheck(cfg),
	}
}

func embedderCheck(cfg config.EmbeddingsConfig) preflight.Check {
	return func(ctx context.Context) preflight.CheckResult {
		e, err := embed.New(cfg)
		if err != nil {
			return preflight.CheckResult{
				Name:     "embedder",
				Status:   preflight.StatusFail,
				Message:  err.Error(),
				Required: true,
			}
		}
		defer func() { _ = e.Close() }()
		return preflight.Embedder(e)(ctx)
	}
}

// indexCheck opens the stores read-write, so it cannot run while another
// process holds the keyword index.
func indexCheck(cfg *config.Config) preflight.Check {
	return func(ctx context.Context) preflight.CheckResult {
		result := preflight.CheckResult{Name: "index"}

		a, err := openStores(cfg, slog.Default())
		if err != nil {
			result.Status = preflight.StatusWarn
			result.Message = "cannot open stores"
			result.Details = err.Error()
			return result
		}
		defer func() { _ = a.Close() }()

		runner, err := a.newRunner()
		if err != nil {
			result.Status = preflight.StatusWarn
			result.Message = err.Error()
			return result
		}
		counts, err := runner.Check(ctx)
		switch {
		case err != nil:
			result.Status = preflight.StatusWarn
			result.Message = err.Error()
		case counts.Chunks == 0:
			result.Status = preflight.StatusWarn
			result.Message = "index is empty"
			result.Details = "Run 'amanrag index' to load chunk files"
		case !counts.Consistent():
			result.Status = preflight.StatusWarn
			result.Message = "stores disagree: " + counts.String()
			result.Details = "Re-run 'amanrag index' to repair"
		default:
			result.Status = preflight.StatusPass
			result.Message = fmt.Sprintf("%d chunks", counts.Chunks)
		}
		return result
	}
}

func printCheckResults(out *output.Writer, results []preflight.CheckResult, status string, verbose bool) {
	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case preflight.StatusPass:
			out.Success(line)
		case preflight.StatusWarn:
			out.Warning(line)
		default:
			out.Error(line)
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Status("", "    "+r.Details)
		}
	}
	out.Newline()

	switch status {
	case "ready":
		out.Success("Ready")
	case "ready_with_warnings":
		out.Warning("Ready with warnings")
	default:
		out.Error("Not ready: fix the failed checks above")
	}
}
