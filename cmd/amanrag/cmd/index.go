package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	check  bool
	remove bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Load chunk files into the chunk store and indexes",
		Long: `Load JSONL chunk files into the chunk store, the keyword index and the
vector index. Paths may be files or directories of *.jsonl files; with
no arguments storage.chunk_files is used.

Each line is one chunk:
  {"id": "...", "text": "...", "source_id": "...", "metadata": {...}}

Re-indexing a file replaces every chunk previously loaded from it.
Chunks without an embedding of the configured size are embedded.`,
		Example: `  amanrag index ./chunks
  amanrag index reach.jsonl clp.jsonl
  amanrag index --remove reach.jsonl
  amanrag index --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.check, "check", false, "Only compare entry counts across the stores")
	cmd.Flags().BoolVar(&opts.remove, "remove", false, "Remove the chunks loaded from the given files")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, paths []string, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	a, err := openStores(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}

	if opts.check {
		result, err := runner.Check(ctx)
		if err != nil {
			return err
		}
		out.KeyValues("Index", [][2]string{
			{"chunks", strconv.Itoa(result.Chunks)},
			{"keyword", strconv.Itoa(result.Keyword)},
			{"vector", strconv.Itoa(result.Vector)},
		})
		if !result.Consistent() {
			out.Warning("stores disagree; re-run 'amanrag index' to repair")
			return fmt.Errorf("index inconsistent: %s", result)
		}
		out.Success("stores consistent")
		return nil
	}

	if len(paths) == 0 {
		paths = cfg.Storage.ChunkFiles
	}
	if len(paths) == 0 {
		return errors.New("no chunk files given and storage.chunk_files is empty")
	}

	if opts.remove {
		total := 0
		for _, p := range paths {
			n, err := runner.RemoveFile(ctx, p)
			if err != nil {
				return err
			}
			total += n
		}
		out.Successf("Removed %d chunks", total)
		return nil
	}

	out.Statusf("📥", "Indexing %d path(s) into %s", len(paths), cfg.Storage.DataDir)
	result, err := runner.Run(ctx, paths)
	if err != nil {
		out.Error("Indexing failed")
		return err
	}
	out.KeyValues("", [][2]string{
		{"files", strconv.Itoa(result.Files)},
		{"chunks", strconv.Itoa(result.Chunks)},
		{"replaced", strconv.Itoa(result.Deleted)},
		{"embedded", strconv.Itoa(result.Embedded)},
		{"duration", result.Duration.Round(time.Millisecond).String()},
	})
	out.Success("Index complete")
	return nil
}
