package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches chunk files with fsnotify.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	files     map[string]bool
	dirs      map[string]bool
	ext       string
	errors    chan error
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// New creates a watcher over opts.Paths. Each path is a chunk file, which
// need not exist yet, or a directory whose files with the configured
// extension are watched.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Paths) == 0 {
		return nil, errors.New("no paths to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:        fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize, logger),
		files:     make(map[string]bool),
		dirs:      make(map[string]bool),
		ext:       opts.Extension,
		errors:    make(chan error, 10),
		logger:    logger,
	}

	watched := make(map[string]bool)
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		dir := filepath.Dir(abs)
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			w.dirs[abs] = true
			dir = abs
		} else {
			w.files[abs] = true
		}
		if watched[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[dir] = true
	}
	return w, nil
}

// Start processes file system events until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("watching chunk files",
		slog.Int("files", len(w.files)),
		slog.Int("dirs", len(w.dirs)))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.matches(path) {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.logger.Debug("chunk file event",
		slog.String("path", path),
		slog.String("operation", op.String()))
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

func (w *Watcher) matches(path string) bool {
	if w.files[path] {
		return true
	}
	return w.dirs[filepath.Dir(path)] && filepath.Ext(path) == w.ext
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher error dropped", slog.String("error", err.Error()))
	}
}

// Events returns debounced batches. The channel closes on Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop releases the fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	w.debouncer.Stop()
	return w.fs.Close()
}
