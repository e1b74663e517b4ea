package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the respond and retrieve tools over MCP",
		Long: `Start a Model Context Protocol server on stdio.

Tools:
  respond   answer a question with citations
  retrieve  ranked chunks without generation

Resources:
  chunk://{id}     a stored chunk
  amanrag://stats  recent degradations and empty retrievals

Stdout carries the protocol stream, so logs go to the log file only.`,
		Example: `  # Register with an MCP client
  amanrag mcp --config /path/to/amanrag.yaml`,
		Annotations: map[string]string{annotationOwnLogging: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio)")

	return cmd
}

func runMCP(ctx context.Context, transport string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Nothing may be written to stdout before the protocol starts.
	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupStdioMode(level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	logger := slog.Default()
	a, err := openApp(cfg, logger)
	if err != nil {
		logger.Error("failed to open stores", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = a.Close() }()

	srv, err := mcp.NewServer(a.pipeline, a.chunks, mcp.WithLogger(logger), mcp.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	return srv.Serve(ctx, transport)
}
