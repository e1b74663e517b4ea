package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/server"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	addr       string
	indexFirst bool
	watch      bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API until interrupted.

Endpoints:
  POST /v1/respond   answer a query
  POST /v1/retrieve  ranked chunks without generation
  GET  /v1/stats     recent degradations and empty retrievals
  GET  /healthz      liveness
  GET  /metrics      Prometheus metrics

With --watch (or storage.watch), changes to the configured chunk files
are applied to the indexes while serving.`,
		Example: `  amanrag serve
  amanrag serve --addr :9090 --index --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().BoolVar(&opts.indexFirst, "index", false, "Index storage.chunk_files before serving")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-index chunk files when they change")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	watch := opts.watch || cfg.Storage.Watch

	logger := slog.Default()
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var runner *index.Runner
	if opts.indexFirst || watch {
		if len(cfg.Storage.ChunkFiles) == 0 {
			return fmt.Errorf("storage.chunk_files is empty; nothing to index or watch")
		}
		if runner, err = a.newRunner(); err != nil {
			return err
		}
	}
	if opts.indexFirst {
		result, err := runner.Run(ctx, cfg.Storage.ChunkFiles)
		if err != nil {
			return err
		}
		logger.Info("initial index complete",
			slog.Int("files", result.Files),
			slog.Int("chunks", result.Chunks),
			slog.Duration("duration", result.Duration))
	}

	srv := server.New(a.pipeline, server.Config{
		Addr:           cfg.Server.Addr,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, server.WithLogger(logger), server.WithMetrics(a.metrics))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if watch {
		w, err := watcher.New(watcher.Options{
			Paths:          cfg.Storage.ChunkFiles,
			DebounceWindow: cfg.Storage.WatchDebounce,
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()

		coordinator := index.NewCoordinator(runner, logger)
		g.Go(func() error {
			return w.Start(gctx)
		})
		g.Go(func() error {
			coordinator.Watch(gctx, w)
			return nil
		})
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "amanrag listening on %s\n", cfg.Server.Addr)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
