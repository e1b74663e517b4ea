package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

const dims = 32

type harness struct {
	chunks  *store.MemoryChunkStore
	keyword *store.BleveKeywordIndex
	vector  *store.HNSWVectorIndex
	metrics *telemetry.Metrics
	runner  *Runner
	dir     string
}

func newHarness(t *testing.T, vectorPath string) *harness {
	t.Helper()
	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	vector, err := store.NewHNSWVectorIndex(store.HNSWConfig{Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = keyword.Close()
		_ = vector.Close()
	})

	h := &harness{
		chunks:  store.NewMemoryChunkStore(),
		keyword: keyword,
		vector:  vector,
		metrics: telemetry.NewMetrics(),
		dir:     t.TempDir(),
	}
	h.runner, err = NewRunner(Dependencies{
		Chunks:     h.chunks,
		Keyword:    keyword,
		Vector:     vector,
		Embedder:   embed.NewStaticEmbedder(dims),
		Lock:       store.NewIndexLock(h.dir),
		VectorPath: vectorPath,
	}, WithMetrics(h.metrics), WithBatchSize(2))
	require.NoError(t, err)
	return h
}

const reachV1 = `{"id":"art33-01","text":"Article 33 duty to communicate information on substances in articles.","metadata":{"article_number":"33"}}
{"id":"art33-02","text":"Recipients of an article containing a candidate list substance above 0.1%.","metadata":{"article_number":"33"}}
{"id":"art31-01","text":"Article 31 requirements for safety data sheets.","metadata":{"article_number":"31"}}
`

const reachV2 = `{"id":"art33-01","text":"Article 33 duty to communicate information on substances in articles.","metadata":{"article_number":"33"}}
{"id":"art57-01","text":"Article 57 substances to be included in Annex XIV.","metadata":{"article_number":"57"}}
`

// =============================================================================
// Construction
// =============================================================================

func TestNewRunner_Validation(t *testing.T) {
	vector, err := store.NewHNSWVectorIndex(store.HNSWConfig{Dimensions: 16})
	require.NoError(t, err)
	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = keyword.Close() }()

	_, err = NewRunner(Dependencies{})
	assert.Error(t, err)

	// Embedder and index dimensions must agree
	_, err = NewRunner(Dependencies{
		Chunks:   store.NewMemoryChunkStore(),
		Keyword:  keyword,
		Vector:   vector,
		Embedder: embed.NewStaticEmbedder(32),
	})
	assert.Equal(t, amanerrors.ErrCodeDimensionMismatch, amanerrors.GetCode(err))
}

// =============================================================================
// Run
// =============================================================================

func TestRunner_Run_IndexesAllStores(t *testing.T) {
	vectorPath := filepath.Join(t.TempDir(), "vectors.hnsw")
	h := newHarness(t, vectorPath)
	ctx := context.Background()
	writeFile(t, h.dir, "reach.jsonl", reachV1)

	// When: running over the data directory
	result, err := h.runner.Run(ctx, []string{h.dir})
	require.NoError(t, err)

	// Then: every store holds the three chunks
	assert.Equal(t, 1, result.Files)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, 3, result.Embedded)

	check, err := h.runner.Check(ctx)
	require.NoError(t, err)
	assert.True(t, check.Consistent(), check.String())
	assert.Equal(t, 3, check.Chunks)

	hits, err := h.keyword.Search(ctx, "safety data sheets", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "art31-01", hits[0].ChunkID)

	_, err = os.Stat(vectorPath)
	assert.NoError(t, err, "vector index saved")
	expected := `
# HELP amanrag_ingest_chunks_total Chunks written or deleted by the loader.
# TYPE amanrag_ingest_chunks_total counter
amanrag_ingest_chunks_total{op="write"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected),
		"amanrag_ingest_chunks_total"))
}

func TestRunner_IndexFile_ReplacesPreviousContents(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	path := writeFile(t, h.dir, "reach.jsonl", reachV1)
	_, err := h.runner.IndexFile(ctx, path)
	require.NoError(t, err)

	// Given: the file is rewritten without two of its chunks
	require.NoError(t, os.WriteFile(path, []byte(reachV2), 0o644))

	// When: indexing it again
	fr, err := h.runner.IndexFile(ctx, path)
	require.NoError(t, err)

	// Then: the dropped chunks are gone from every store
	assert.Equal(t, 2, fr.Written)
	assert.Equal(t, 2, fr.Deleted)

	_, err = h.chunks.Get(ctx, "art31-01")
	assert.ErrorIs(t, err, store.ErrChunkNotFound)
	check, err := h.runner.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, CheckResult{Chunks: 2, Keyword: 2, Vector: 2}, check)

	ids, err := h.chunks.FindByMetadata(ctx, "article_number", "57")
	require.NoError(t, err)
	assert.Equal(t, []string{"art57-01"}, ids)
}

func TestRunner_KeepsSuppliedEmbeddings(t *testing.T) {
	h := newHarness(t, "")
	vec := make([]float32, dims)
	vec[0] = 1
	line := `{"id":"pre","text":"pre-embedded chunk","embedding":[1` + zeros(dims-1) + `]}` + "\n" +
		`{"id":"short","text":"wrong size embedding","embedding":[1,0]}` + "\n"
	path := writeFile(t, h.dir, "pre.jsonl", line)

	fr, err := h.runner.IndexFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, fr.Embedded, "only the mis-sized embedding is recomputed")
	c, err := h.chunks.Get(context.Background(), "pre")
	require.NoError(t, err)
	assert.Equal(t, vec, c.Embedding)
}

func zeros(n int) string {
	return strings.Repeat(",0", n)
}

func TestRunner_RemoveFile(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	path := writeFile(t, h.dir, "reach.jsonl", reachV1)
	other := writeFile(t, h.dir, "clp.jsonl", `{"id":"clp-1","text":"CLP hazard classes."}`)
	_, err := h.runner.Run(ctx, []string{path, other})
	require.NoError(t, err)

	n, err := h.runner.RemoveFile(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	count, err := h.chunks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, h.vector.Count())
}

func TestRunner_BadFileLeavesStoresUntouched(t *testing.T) {
	h := newHarness(t, "")
	path := writeFile(t, h.dir, "bad.jsonl", `{"id":"ok","text":"fine"}`+"\n"+`{"id":`)

	_, err := h.runner.Run(context.Background(), []string{path})

	require.Error(t, err)
	count, _ := h.chunks.Count(context.Background())
	assert.Zero(t, count)
}

// =============================================================================
// Coordinator
// =============================================================================

func TestCoordinator_HandleEvents(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	reach := writeFile(t, h.dir, "reach.jsonl", reachV1)
	clp := writeFile(t, h.dir, "clp.jsonl", `{"id":"clp-1","text":"CLP hazard classes."}`)
	_, err := h.runner.Run(ctx, []string{reach, clp})
	require.NoError(t, err)
	c := NewCoordinator(h.runner, nil)

	// Given: clp is deleted, reach rewritten and a broken file appears
	require.NoError(t, os.Remove(clp))
	require.NoError(t, os.WriteFile(reach, []byte(reachV2), 0o644))
	broken := writeFile(t, h.dir, "broken.jsonl", "not json")

	// When: the watcher batch arrives
	err = c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: broken, Operation: watcher.OpCreate, Timestamp: time.Now()},
		{Path: clp, Operation: watcher.OpDelete, Timestamp: time.Now()},
		{Path: reach, Operation: watcher.OpModify, Timestamp: time.Now()},
	})

	// Then: the good events apply and the broken file is skipped
	require.NoError(t, err)
	check, err := h.runner.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, CheckResult{Chunks: 2, Keyword: 2, Vector: 2}, check)
}

func TestCoordinator_CanceledContext(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewCoordinator(h.runner, nil).HandleEvents(ctx, []watcher.FileEvent{
		{Path: filepath.Join(h.dir, "x.jsonl"), Operation: watcher.OpCreate},
	})

	assert.ErrorIs(t, err, context.Canceled)
}
