package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Files under storage.data_dir.
const (
	chunkDBFile     = "chunks.db"
	keywordBleveDir = "keyword.bleve"
	keywordDBFile   = "keyword.db"
	vectorFile      = "vectors.hnsw"
)

// app holds the opened stores and the assembled pipeline for one command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	embedder *embed.CachedEmbedder
	ollama   *llm.OllamaClient
	gen      llm.Service

	chunks  store.ChunkStore
	keyword store.KeywordIndex
	vector  *store.HNSWVectorIndex
	lock    *store.IndexLock

	pipeline *pipeline.Pipeline
}

// openStores opens the chunk store and both indexes under the data dir.
// Callers that only index or inspect stop here.
func openStores(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(),
		lock:    store.NewIndexLock(dataDir),
	}

	var err error
	if a.embedder, err = embed.New(cfg.Embeddings); err != nil {
		return nil, err
	}

	switch cfg.Storage.ChunkStore {
	case "memory":
		a.chunks = store.NewMemoryChunkStore()
	default:
		chunks, err := store.NewSQLiteChunkStore(filepath.Join(dataDir, chunkDBFile))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to open chunk store: %w", err)
		}
		a.chunks = chunks
	}

	if a.keyword, err = openKeywordIndex(dataDir, cfg.Retrieval.KeywordBackend); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}

	if a.vector, err = openVectorIndex(a.vectorPath(), cfg.Embeddings.Dimensions); err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.Debug("stores opened",
		slog.String("data_dir", dataDir),
		slog.String("chunk_store", cfg.Storage.ChunkStore),
		slog.String("keyword_backend", cfg.Retrieval.KeywordBackend),
		slog.Int("vectors", a.vector.Count()))
	return a, nil
}

// openApp opens the stores and assembles the full query pipeline.
func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.buildPipeline(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func openKeywordIndex(dataDir, backend string) (store.KeywordIndex, error) {
	if backend == "sqlite" {
		idx, err := store.NewSQLiteKeywordIndex(filepath.Join(dataDir, keywordDBFile))
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	idx, err := store.NewBleveKeywordIndex(filepath.Join(dataDir, keywordBleveDir))
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// openVectorIndex loads a saved index, refusing one built with a different
// embedding size.
func openVectorIndex(path string, dims int) (*store.HNSWVectorIndex, error) {
	saved, err := store.ReadHNSWDimensions(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector index metadata: %w", err)
	}
	if saved != 0 && saved != dims {
		return nil, fmt.Errorf("vector index has %d dimensions but embeddings.dimensions is %d; remove %s and re-run 'amanrag index'",
			saved, dims, path)
	}

	vector, err := store.NewHNSWVectorIndex(store.HNSWConfig{Dimensions: dims})
	if err != nil {
		return nil, err
	}
	if saved == 0 {
		return vector, nil
	}
	if err := vector.Load(path); err != nil {
		_ = vector.Close()
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}
	return vector, nil
}

func (a *app) vectorPath() string {
	return filepath.Join(a.cfg.Storage.DataDir, vectorFile)
}

func (a *app) buildPipeline() error {
	cfg := a.cfg
	g := cfg.Generation

	a.ollama = llm.NewOllamaClient(g.Host, g.FastModel, g.ComplexModel, g.SystemPrompt)
	a.gen = a.ollama
	// Expansion, classification and rerank trip their own breakers, never
	// the generation ones.
	auxiliary := func(string) llm.Service { return a.ollama }
	if g.Breaker.Enabled {
		guarded := llm.NewBreakerService(a.ollama, llm.BreakerConfig{
			MinRequests:  g.Breaker.MinRequests,
			FailureRatio: g.Breaker.FailureRatio,
			OpenTimeout:  g.Breaker.OpenTimeout,
		}, a.logger)
		a.gen = guarded
		auxiliary = guarded.Operation
	}

	searchOpts := []search.Option{search.WithLogger(a.logger), search.WithMetrics(a.metrics)}

	retriever, err := search.NewHybridRetriever(a.chunks, a.keyword, a.vector, a.embedder, search.RetrieverConfig{
		Alpha:            cfg.Retrieval.Alpha,
		Oversample:       cfg.Retrieval.Oversample,
		IdentifierFields: cfg.Retrieval.IdentifierFields,
		MaxConcurrency:   cfg.Retrieval.MaxConcurrency,
		EmbedTimeout:     cfg.Retrieval.EmbedTimeout,
	}, searchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	expander := search.NewExpander(auxiliary(llm.OperationExpand), search.ExpanderConfig{
		Enabled:        cfg.Expansion.Enabled,
		MaxVariants:    cfg.Expansion.MaxVariants,
		ExpandedWeight: cfg.Expansion.ExpandedWeight,
		Timeout:        cfg.Expansion.Timeout,
	}, searchOpts...)

	var reranker search.Reranker
	switch cfg.Rerank.Provider {
	case "lexical":
		reranker = search.NewLexicalReranker()
	default:
		reranker = search.NewLLMReranker(auxiliary(llm.OperationRerank))
	}
	rerank := search.NewRerankStage(reranker, a.chunks, search.RerankConfig{
		Enabled: cfg.Rerank.Enabled,
		Timeout: cfg.Rerank.Timeout,
	}, searchOpts...)

	rt := router.New(auxiliary(llm.OperationClassify), router.Config{
		ComplexWordThreshold: cfg.Router.ComplexWordThreshold,
		SimpleWordThreshold:  cfg.Router.SimpleWordThreshold,
		ComplexKeywords:      cfg.Router.ComplexKeywords,
		ClassifierTimeout:    cfg.Router.ClassifierTimeout,
		SessionCacheSize:     cfg.Router.SessionCacheSize,
		MaxSessions:          cfg.Router.MaxSessions,
		SessionTTL:           cfg.Router.SessionTTL,
	}, router.WithLogger(a.logger), router.WithMetrics(a.metrics))

	dispatcher, err := generate.NewDispatcher(a.gen, a.chunks, generate.Config{
		FastTimeout:    g.FastTimeout,
		ComplexTimeout: g.ComplexTimeout,
		ContextBudget:  g.ContextBudget,
	}, generate.WithLogger(a.logger), generate.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	a.pipeline, err = pipeline.New(pipeline.Components{
		Router:     rt,
		Expander:   expander,
		Retriever:  retriever,
		Reranker:   rerank,
		Dispatcher: dispatcher,
	}, pipeline.Config{
		TopK:        cfg.Retrieval.TopK,
		MaxVariants: cfg.Expansion.MaxVariants,
	}, pipeline.WithLogger(a.logger), pipeline.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	return nil
}

// newRunner returns an ingestion runner over the app's stores.
func (a *app) newRunner() (*index.Runner, error) {
	return index.NewRunner(index.Dependencies{
		Chunks:     a.chunks,
		Keyword:    a.keyword,
		Vector:     a.vector,
		Embedder:   a.embedder,
		Lock:       a.lock,
		VectorPath: a.vectorPath(),
	}, index.WithLogger(a.logger), index.WithMetrics(a.metrics))
}

// Close releases every opened store.
func (a *app) Close() error {
	var errs []error
	if a.vector != nil {
		errs = append(errs, a.vector.Close())
	}
	if a.keyword != nil {
		errs = append(errs, a.keyword.Close())
	}
	if a.chunks != nil {
		errs = append(errs, a.chunks.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
