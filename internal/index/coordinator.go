package index

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/watcher"
)

// Coordinator applies watcher batches to the indexes.
type Coordinator struct {
	runner *Runner
	logger *slog.Logger
}

// NewCoordinator creates a coordinator writing through runner.
func NewCoordinator(runner *Runner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{runner: runner, logger: logger}
}

// HandleEvents processes a batch. A file that fails is logged and skipped;
// the rest of the batch still applies.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	return c.runner.withLock(func() error {
		var processed int
		for _, event := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.handleEvent(ctx, event); err != nil {
				c.logger.Warn("failed to process chunk file event",
					slog.String("path", event.Path),
					slog.String("operation", event.Operation.String()),
					slog.String("error", err.Error()))
				continue
			}
			processed++
		}
		if processed == 0 {
			return nil
		}
		return c.runner.saveVectors()
	})
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		fr, err := c.runner.indexFile(ctx, event.Path)
		if err != nil {
			return err
		}
		c.logger.Info("chunk file reloaded",
			slog.String("path", fr.Path),
			slog.Int("written", fr.Written),
			slog.Int("deleted", fr.Deleted))
		return nil
	case watcher.OpDelete:
		_, err := c.runner.removeFile(ctx, event.Path)
		return err
	default:
		return nil
	}
}

// Watch applies batches from w until ctx ends or w stops.
func (c *Coordinator) Watch(ctx context.Context, w *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			if err := c.HandleEvents(ctx, batch); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to apply chunk file changes", slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			c.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
