package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Retriever defaults.
const (
	DefaultAlpha          = 0.7
	DefaultOversample     = 3
	DefaultMaxConcurrency = 8
	DefaultEmbedTimeout   = 10 * time.Second

	// ExactBoost lifts exact-identifier matches above every fuzzy candidate,
	// whose combined score is at most 1.
	ExactBoost = 2.0

	// keywordWiden multiplies the BM25 fetch size each time too few
	// keyword hits pass the metadata filters.
	keywordWiden = 4
)

// Branch names used in logs and metrics.
const (
	branchVector  = "vector"
	branchKeyword = "keyword"
	branchExact   = "exact"
)

// RetrieverConfig configures the hybrid retriever.
type RetrieverConfig struct {
	// Alpha weights the normalized vector score; 1-Alpha weights keyword.
	Alpha float64

	// Oversample multiplies topK to size the candidate list.
	Oversample int

	// IdentifierFields are metadata keys whose equality predicates run as
	// exact lookups against the chunk store.
	IdentifierFields []string

	MaxConcurrency int
	EmbedTimeout   time.Duration
}

// HybridRetriever merges vector, keyword and exact-identifier matches
// across query variants.
type HybridRetriever struct {
	chunks   store.ChunkReader
	keyword  store.KeywordIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	config   RetrieverConfig
	identity map[string]struct{}
	instruments
}

// NewHybridRetriever creates a retriever. chunks and keyword are required;
// vector and embedder are optional but must be given together.
func NewHybridRetriever(
	chunks store.ChunkReader,
	keyword store.KeywordIndex,
	vector store.VectorIndex,
	embedder embed.Embedder,
	cfg RetrieverConfig,
	opts ...Option,
) (*HybridRetriever, error) {
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk store", ErrNilDependency)
	}
	if keyword == nil {
		return nil, fmt.Errorf("%w: keyword index", ErrNilDependency)
	}
	if (vector == nil) != (embedder == nil) {
		return nil, fmt.Errorf("%w: vector index and embedder must be set together", ErrNilDependency)
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("alpha must be in [0,1], got %f", cfg.Alpha)
	}
	if cfg.Oversample < 1 {
		cfg.Oversample = DefaultOversample
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}

	identity := make(map[string]struct{}, len(cfg.IdentifierFields))
	for _, f := range cfg.IdentifierFields {
		identity[f] = struct{}{}
	}

	return &HybridRetriever{
		chunks:      chunks,
		keyword:     keyword,
		vector:      vector,
		embedder:    embedder,
		config:      cfg,
		identity:    identity,
		instruments: newInstruments(opts),
	}, nil
}

// Oversample returns the configured candidate multiplier.
func (r *HybridRetriever) Oversample() int { return r.config.Oversample }

// branchHits holds one variant's hits from one branch.
type branchHits struct {
	ids    []string
	scores []float64
}

// Retrieve returns up to topK*oversample candidates ordered by combined score
// descending, then chunk ID ascending. Exact-identifier matches come first.
//
// A failing vector or keyword branch is logged and the surviving branches
// are used. Only context cancellation is returned as an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, variants []QueryVariant, filters *FilterSpec, topK int) (RetrievalResult, error) {
	start := time.Now()

	live := make([]QueryVariant, 0, len(variants))
	for _, v := range variants {
		if strings.TrimSpace(v.Text) != "" {
			live = append(live, v)
		}
	}
	if len(live) == 0 || topK <= 0 {
		return RetrievalResult{Candidates: []Candidate{}, Strategy: StrategyNone}, nil
	}
	if err := filters.Validate(); err != nil {
		// An unevaluable predicate matches no chunk.
		r.logger.Warn("invalid retrieval filter",
			slog.String("query", live[0].Text),
			slog.String("error", err.Error()))
		return RetrievalResult{Candidates: []Candidate{}, Strategy: StrategyNone, Elapsed: time.Since(start)}, nil
	}

	limit := topK * r.config.Oversample
	identPreds, rest := filters.splitIdentifiers(r.identity)
	meta := newMetadataCache(r.chunks)

	vecHits := make([]*branchHits, len(live))
	kwHits := make([]*branchHits, len(live))
	var exactIDs []string

	var mu sync.Mutex
	var failed []string
	fail := func(branch string, variant string, err error) {
		mu.Lock()
		failed = append(failed, branch)
		mu.Unlock()
		r.logger.Warn("retrieval branch failed",
			slog.String("branch", branch),
			slog.String("query", variant),
			slog.String("error", err.Error()))
		r.metrics.RecordBranchFailure(branch)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(r.config.MaxConcurrency))
	run := func(fn func() error) {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return fn()
		})
	}

	for i, v := range live {
		if r.vector != nil {
			run(func() error {
				hits, err := r.searchVector(gctx, v.Text, limit, rest, meta)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					fail(branchVector, v.Text, err)
					return nil
				}
				vecHits[i] = hits
				return nil
			})
		}
		run(func() error {
			hits, err := r.searchKeyword(gctx, v.Text, limit, rest, meta)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fail(branchKeyword, v.Text, err)
				return nil
			}
			kwHits[i] = hits
			return nil
		})
	}
	if len(identPreds) > 0 {
		run(func() error {
			ids, err := r.lookupExact(gctx, identPreds, rest, meta)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fail(branchExact, live[0].Text, err)
				return nil
			}
			exactIDs = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return RetrievalResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RetrievalResult{}, err
	}

	candidates := r.fuse(live, vecHits, kwHits, exactIDs)
	total := len(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := RetrievalResult{
		Candidates:      candidates,
		Strategy:        r.strategy(len(identPreds) > 0, len(live), failed, exactIDs),
		TotalConsidered: total,
		Elapsed:         time.Since(start),
	}

	r.metrics.ObserveStage(StageRetrieval, result.Elapsed)
	r.metrics.ObserveCandidates(live[0].Text, len(result.Candidates))
	r.logger.Debug("retrieval complete",
		slog.String("query", live[0].Text),
		slog.Int("variants", len(live)),
		slog.Int("candidates", len(result.Candidates)),
		slog.Int("considered", total),
		slog.String("strategy", string(result.Strategy)),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (r *HybridRetriever) searchVector(ctx context.Context, text string, limit int, rest *FilterSpec, meta *metadataCache) (*branchHits, error) {
	embedCtx, cancel := context.WithTimeout(ctx, r.config.EmbedTimeout)
	vec, err := r.embedder.Embed(embedCtx, text)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var filter store.Filter
	if !rest.IsEmpty() {
		filter = func(id string) bool {
			md, ok := meta.lookup(ctx, id)
			return ok && rest.Matches(md)
		}
	}

	results, err := r.vector.Search(ctx, vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := &branchHits{ids: make([]string, len(results)), scores: make([]float64, len(results))}
	for i, res := range results {
		hits.ids[i] = res.ChunkID
		hits.scores[i] = res.Score
	}
	return hits, nil
}

// searchKeyword returns up to limit BM25 hits that pass rest. With filters,
// the fetch widens until enough hits pass or the index has no more matches.
func (r *HybridRetriever) searchKeyword(ctx context.Context, text string, limit int, rest *FilterSpec, meta *metadataCache) (*branchHits, error) {
	if rest.IsEmpty() {
		results, err := r.keyword.Search(ctx, text, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		hits := &branchHits{ids: make([]string, len(results)), scores: make([]float64, len(results))}
		for i, res := range results {
			hits.ids[i] = res.ChunkID
			hits.scores[i] = res.Score
		}
		return hits, nil
	}

	fetch := limit
	for {
		results, err := r.keyword.Search(ctx, text, fetch)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}

		ids := make([]string, len(results))
		for i, res := range results {
			ids[i] = res.ChunkID
		}
		if err := meta.prefetch(ctx, ids); err != nil {
			return nil, err
		}

		hits := &branchHits{}
		for _, res := range results {
			if len(hits.ids) >= limit {
				break
			}
			md, ok := meta.lookup(ctx, res.ChunkID)
			if !ok || !rest.Matches(md) {
				continue
			}
			hits.ids = append(hits.ids, res.ChunkID)
			hits.scores = append(hits.scores, res.Score)
		}

		exhausted := len(results) < fetch || fetch >= r.keyword.Count()
		if len(hits.ids) >= limit || exhausted {
			return hits, nil
		}
		fetch *= keywordWiden
	}
}

// lookupExact intersects the chunk IDs matching every identifier predicate
// and keeps those that pass the remaining filters.
func (r *HybridRetriever) lookupExact(ctx context.Context, ident []Predicate, rest *FilterSpec, meta *metadataCache) ([]string, error) {
	var ids []string
	for i, p := range ident {
		found, err := r.chunks.FindByMetadata(ctx, p.Field, p.Values[0])
		if err != nil {
			return nil, fmt.Errorf("exact lookup %s: %w", p, err)
		}
		if i == 0 {
			ids = found
			continue
		}
		ids = slices.DeleteFunc(ids, func(id string) bool {
			_, ok := slices.BinarySearch(found, id)
			return !ok
		})
	}
	if len(ids) == 0 || rest.IsEmpty() {
		return ids, nil
	}

	if err := meta.prefetch(ctx, ids); err != nil {
		return nil, err
	}
	return slices.DeleteFunc(ids, func(id string) bool {
		md, ok := meta.lookup(ctx, id)
		return !ok || !rest.Matches(md)
	}), nil
}

// accum gathers one chunk's best signals across variants.
type accum struct {
	vector, keyword       *float64
	vecVariant, kwVariant int
	exact                 bool
}

func (r *HybridRetriever) fuse(variants []QueryVariant, vecHits, kwHits []*branchHits, exactIDs []string) []Candidate {
	merged := make(map[string]*accum)
	get := func(id string) *accum {
		a, ok := merged[id]
		if !ok {
			a = &accum{}
			merged[id] = a
		}
		return a
	}

	// Variants are visited in order so the earliest wins equal scores.
	for i, v := range variants {
		if h := vecHits[i]; h != nil {
			for j, id := range h.ids {
				s := h.scores[j] * v.Weight
				if a := get(id); a.vector == nil || s > *a.vector {
					a.vector, a.vecVariant = scorePtr(s), i
				}
			}
		}
		if h := kwHits[i]; h != nil {
			for j, id := range h.ids {
				s := h.scores[j] * v.Weight
				if a := get(id); a.keyword == nil || s > *a.keyword {
					a.keyword, a.kwVariant = scorePtr(s), i
				}
			}
		}
	}
	for _, id := range exactIDs {
		get(id).exact = true
	}

	var maxVec, maxKw float64
	for _, a := range merged {
		if a.vector != nil && *a.vector > maxVec {
			maxVec = *a.vector
		}
		if a.keyword != nil && *a.keyword > maxKw {
			maxKw = *a.keyword
		}
	}

	alpha := r.config.Alpha
	candidates := make([]Candidate, 0, len(merged))
	for id, a := range merged {
		vecPart := alpha * normalize(a.vector, maxVec)
		kwPart := (1 - alpha) * normalize(a.keyword, maxKw)

		source := 0
		switch {
		case a.vector != nil && (a.keyword == nil || vecPart >= kwPart):
			source = a.vecVariant
		case a.keyword != nil:
			source = a.kwVariant
		}

		c := Candidate{
			ChunkID:       id,
			VectorScore:   a.vector,
			KeywordScore:  a.keyword,
			ExactMatch:    a.exact,
			CombinedScore: vecPart + kwPart,
			SourceVariant: variants[source],
		}
		if c.ExactMatch {
			c.CombinedScore += ExactBoost
		}
		candidates = append(candidates, c)
	}

	sortCandidates(candidates)
	return candidates
}

func (r *HybridRetriever) strategy(identRan bool, variants int, failed []string, exactIDs []string) Strategy {
	fuzzyOK := !r.allFailed(variants, failed)
	switch {
	case identRan && !fuzzyOK && len(exactIDs) > 0:
		return StrategyExact
	case identRan:
		return StrategyHybridExact
	default:
		return StrategyHybrid
	}
}

// allFailed reports whether no vector or keyword lookup succeeded.
func (r *HybridRetriever) allFailed(variants int, failed []string) bool {
	var fuzzyFailures int
	for _, b := range failed {
		if b != branchExact {
			fuzzyFailures++
		}
	}
	return fuzzyFailures > 0 && fuzzyFailures == r.fuzzyBranches()*variants
}

// fuzzyBranches is the number of fuzzy lookups run per variant.
func (r *HybridRetriever) fuzzyBranches() int {
	if r.vector != nil {
		return 2
	}
	return 1
}

// normalize scales x by the maximum; absent scores and non-positive
// maxima give 0.
func normalize(x *float64, maxScore float64) float64 {
	if x == nil || maxScore <= 0 {
		return 0
	}
	return *x / maxScore
}

// sortCandidates orders by combined score descending, then chunk ID.
func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CombinedScore != cs[j].CombinedScore {
			return cs[i].CombinedScore > cs[j].CombinedScore
		}
		return cs[i].ChunkID < cs[j].ChunkID
	})
}

// metadataCache memoizes chunk metadata for one request. Chunks missing
// from the store are remembered as absent.
type metadataCache struct {
	chunks store.ChunkReader
	mu     sync.Mutex
	m      map[string]store.Metadata
	absent map[string]struct{}
}

func newMetadataCache(chunks store.ChunkReader) *metadataCache {
	return &metadataCache{
		chunks: chunks,
		m:      make(map[string]store.Metadata),
		absent: make(map[string]struct{}),
	}
}

func (c *metadataCache) prefetch(ctx context.Context, ids []string) error {
	c.mu.Lock()
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		_, have := c.m[id]
		_, gone := c.absent[id]
		if !have && !gone {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()
	if len(missing) == 0 {
		return nil
	}

	found, err := c.chunks.GetMany(ctx, missing)
	if err != nil {
		return fmt.Errorf("load chunk metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range missing {
		if ch, ok := found[id]; ok {
			c.m[id] = ch.Metadata
		} else {
			c.absent[id] = struct{}{}
		}
	}
	return nil
}

func (c *metadataCache) lookup(ctx context.Context, id string) (store.Metadata, bool) {
	c.mu.Lock()
	if md, ok := c.m[id]; ok {
		c.mu.Unlock()
		return md, true
	}
	if _, gone := c.absent[id]; gone {
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	ch, err := c.chunks.Get(ctx, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if errors.Is(err, store.ErrChunkNotFound) {
			c.absent[id] = struct{}{}
		}
		return nil, false
	}
	c.m[id] = ch.Metadata
	return ch.Metadata, true
}
