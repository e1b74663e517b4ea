package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// DefaultBatchSize is the number of texts sent to the embedder per call.
const DefaultBatchSize = 32

// Dependencies are the stores a Runner writes.
type Dependencies struct {
	Chunks   store.ChunkStore
	Keyword  store.KeywordIndex
	Vector   store.VectorIndex
	Embedder embed.Embedder

	// Lock, when set, is held for the duration of every write.
	Lock *store.IndexLock

	// VectorPath, when set, receives the vector index after every write.
	VectorPath string
}

// Result is the outcome of a Run.
type Result struct {
	Files    int
	Chunks   int
	Deleted  int
	Embedded int
	Duration time.Duration
}

// FileResult is the outcome of indexing one file.
type FileResult struct {
	Path     string
	Written  int
	Deleted  int
	Embedded int
}

// Runner writes chunk files into the chunk store and both indexes.
type Runner struct {
	deps      Dependencies
	batchSize int
	workers   int
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	mu        sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records written and deleted chunk counts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewRunner validates deps and creates a Runner.
func NewRunner(deps Dependencies, opts ...Option) (*Runner, error) {
	switch {
	case deps.Chunks == nil:
		return nil, errors.New("chunk store is required")
	case deps.Keyword == nil:
		return nil, errors.New("keyword index is required")
	case deps.Vector == nil:
		return nil, errors.New("vector index is required")
	case deps.Embedder == nil:
		return nil, errors.New("embedder is required")
	}
	if deps.Embedder.Dimensions() != deps.Vector.Dimensions() {
		return nil, amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d dimensions, vector index expects %d",
				deps.Embedder.Dimensions(), deps.Vector.Dimensions()), nil).
			WithSuggestion("Rebuild the index after changing the embedding model")
	}

	r := &Runner{
		deps:      deps,
		batchSize: DefaultBatchSize,
		workers:   2,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run indexes every chunk file under paths. It stops at the first file
// that fails to load or write.
func (r *Runner) Run(ctx context.Context, paths []string) (*Result, error) {
	start := time.Now()
	files, err := ResolvePaths(paths)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	err = r.withLock(func() error {
		for _, path := range files {
			fr, err := r.indexFile(ctx, path)
			if err != nil {
				return err
			}
			result.Files++
			result.Chunks += fr.Written
			result.Deleted += fr.Deleted
			result.Embedded += fr.Embedded
		}
		return r.saveVectors()
	})
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	r.logger.Info("index run complete",
		slog.Int("files", result.Files),
		slog.Int("chunks", result.Chunks),
		slog.Int("deleted", result.Deleted),
		slog.Int("embedded", result.Embedded),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// IndexFile loads one chunk file, replacing whatever was previously loaded
// from it.
func (r *Runner) IndexFile(ctx context.Context, path string) (FileResult, error) {
	var fr FileResult
	err := r.withLock(func() error {
		var err error
		if fr, err = r.indexFile(ctx, path); err != nil {
			return err
		}
		return r.saveVectors()
	})
	return fr, err
}

// RemoveFile deletes every chunk loaded from path and returns how many.
func (r *Runner) RemoveFile(ctx context.Context, path string) (int, error) {
	var n int
	err := r.withLock(func() error {
		var err error
		if n, err = r.removeFile(ctx, path); err != nil {
			return err
		}
		return r.saveVectors()
	})
	return n, err
}

func (r *Runner) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deps.Lock != nil {
		if err := r.deps.Lock.Lock(); err != nil {
			return err
		}
		defer func() { _ = r.deps.Lock.Unlock() }()
	}
	return fn()
}

func (r *Runner) indexFile(ctx context.Context, path string) (FileResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileResult{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	chunks, err := ReadChunkFile(abs)
	if err != nil {
		return FileResult{}, err
	}
	fr := FileResult{Path: abs}

	embedded, err := r.embedMissing(ctx, chunks)
	if err != nil {
		return FileResult{}, err
	}
	fr.Embedded = embedded

	fresh := make(map[string]bool, len(chunks))
	ids := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		fresh[c.ID] = true
		ids[i] = c.ID
		docs[i] = &store.Document{ID: c.ID, Content: c.Text}
		vectors[i] = c.Embedding
	}

	if err := r.deps.Chunks.Put(ctx, chunks); err != nil {
		return FileResult{}, amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("store chunks: %w", err))
	}
	if err := r.deps.Keyword.Index(ctx, docs); err != nil {
		return FileResult{}, amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("keyword index: %w", err))
	}
	if err := r.deps.Vector.Add(ctx, ids, vectors); err != nil {
		return FileResult{}, amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("vector index: %w", err))
	}
	fr.Written = len(chunks)
	r.metrics.RecordIngest("write", fr.Written)

	previous, err := r.deps.Chunks.FindByMetadata(ctx, SourceFileKey, fr.Path)
	if err != nil {
		return FileResult{}, fmt.Errorf("find previous chunks: %w", err)
	}
	var stale []string
	for _, id := range previous {
		if !fresh[id] {
			stale = append(stale, id)
		}
	}
	if err := r.deleteIDs(ctx, stale); err != nil {
		return FileResult{}, err
	}
	fr.Deleted = len(stale)

	r.logger.Debug("chunk file indexed",
		slog.String("path", fr.Path),
		slog.Int("written", fr.Written),
		slog.Int("deleted", fr.Deleted),
		slog.Int("embedded", fr.Embedded))
	return fr, nil
}

func (r *Runner) removeFile(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", path, err)
	}
	ids, err := r.deps.Chunks.FindByMetadata(ctx, SourceFileKey, abs)
	if err != nil {
		return 0, fmt.Errorf("find chunks for %s: %w", path, err)
	}
	if err := r.deleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	r.logger.Info("chunk file removed", slog.String("path", path), slog.Int("deleted", len(ids)))
	return len(ids), nil
}

func (r *Runner) deleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.deps.Keyword.Delete(ctx, ids); err != nil {
		return amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("keyword delete: %w", err))
	}
	if err := r.deps.Vector.Delete(ctx, ids); err != nil {
		return amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("vector delete: %w", err))
	}
	if err := r.deps.Chunks.Delete(ctx, ids); err != nil {
		return amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("chunk delete: %w", err))
	}
	r.metrics.RecordIngest("delete", len(ids))
	return nil
}

// embedMissing fills in embeddings that are absent or sized for another
// model, returning how many were computed.
func (r *Runner) embedMissing(ctx context.Context, chunks []*store.Chunk) (int, error) {
	dims := r.deps.Embedder.Dimensions()
	var todo []*store.Chunk
	for _, c := range chunks {
		if len(c.Embedding) != dims {
			todo = append(todo, c)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for start := 0; start < len(todo); start += r.batchSize {
		batch := todo[start:min(start+r.batchSize, len(todo))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vecs, err := r.deps.Embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return amanerrors.Wrap(amanerrors.ErrCodeEmbeddingFailed, err)
			}
			if len(vecs) != len(batch) {
				return amanerrors.New(amanerrors.ErrCodeEmbeddingFailed,
					fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), len(batch)), nil)
			}
			for i, c := range batch {
				c.Embedding = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(todo), nil
}

func (r *Runner) saveVectors() error {
	if r.deps.VectorPath == "" {
		return nil
	}
	if err := r.deps.Vector.Save(r.deps.VectorPath); err != nil {
		return amanerrors.Wrap(amanerrors.ErrCodeIndexFailed, fmt.Errorf("save vector index: %w", err))
	}
	return nil
}
