package search

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// bruteVectorIndex is an exact cosine VectorIndex for tests.
type bruteVectorIndex struct {
	mu      sync.RWMutex
	dims    int
	vectors map[string][]float32
}

func newBruteVectorIndex(dims int) *bruteVectorIndex {
	return &bruteVectorIndex{dims: dims, vectors: make(map[string][]float32)}
}

func (b *bruteVectorIndex) Add(_ context.Context, ids []string, vectors [][]float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, id := range ids {
		b.vectors[id] = vectors[i]
	}
	return nil
}

func (b *bruteVectorIndex) Search(ctx context.Context, query []float32, k int, filter store.Filter) ([]*store.VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var results []*store.VectorResult
	for id, v := range b.vectors {
		if filter != nil && !filter(id) {
			continue
		}
		cos := cosine(query, v)
		results = append(results, &store.VectorResult{ChunkID: id, Score: (1 + cos) / 2, Distance: float32(1 - cos)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (b *bruteVectorIndex) Delete(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.vectors, id)
	}
	return nil
}

func (b *bruteVectorIndex) Count() int        { return len(b.vectors) }
func (b *bruteVectorIndex) Dimensions() int   { return b.dims }
func (b *bruteVectorIndex) Save(string) error { return nil }
func (b *bruteVectorIndex) Load(string) error { return nil }
func (b *bruteVectorIndex) Close() error      { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// failingEmbedder always errors.
type failingEmbedder struct {
	embed.Embedder
	calls atomic.Int64
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("embedding service unreachable")
}

// countingKeywordIndex counts searches on top of a real index.
type countingKeywordIndex struct {
	store.KeywordIndex
	searches atomic.Int64
	err      error
}

func (c *countingKeywordIndex) Search(ctx context.Context, q string, limit int) ([]*store.KeywordResult, error) {
	c.searches.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.KeywordIndex.Search(ctx, q, limit)
}

// regulationChunks is a small REACH-style corpus.
var regulationChunks = []*store.Chunk{
	{
		ID: "reach-art31-01", SourceID: "reach.pdf", Position: 31,
		Text:     "Article 31 Requirements for safety data sheets. The supplier of a substance shall provide the recipient with a safety data sheet.",
		Metadata: store.Metadata{"article_number": {"31"}, "jurisdiction": {"EU"}},
	},
	{
		ID: "reach-art33-01", SourceID: "reach.pdf", Position: 33,
		Text:     "Article 33 Duty to communicate information on substances in articles. Any supplier of an article containing a substance of very high concern shall provide the recipient with sufficient information.",
		Metadata: store.Metadata{"article_number": {"33"}, "jurisdiction": {"EU"}},
	},
	{
		ID: "reach-art33-02", SourceID: "reach.pdf", Position: 34,
		Text:     "On request by a consumer the supplier shall provide the information within 45 days of receipt of the request, free of charge.",
		Metadata: store.Metadata{"article_number": {"33"}, "jurisdiction": {"EU"}},
	},
	{
		ID: "reach-art36-01", SourceID: "reach.pdf", Position: 36,
		Text:     "Article 36 Obligation to keep information. Each manufacturer, importer, downstream user and distributor shall assemble and keep available all the information required for reporting obligations.",
		Metadata: store.Metadata{"article_number": {"36"}, "jurisdiction": {"EU"}},
	},
	{
		ID: "cas-50-00-0", SourceID: "prop65.csv", Position: 1,
		Text:     "Formaldehyde (gas), CAS 50-00-0, listed as known to cause cancer.",
		Metadata: store.Metadata{"cas_number": {"50-00-0"}, "hazard_tags": {"carcinogenic", "toxic"}, "jurisdiction": {"CA"}},
	},
	{
		ID: "cas-71-43-2", SourceID: "prop65.csv", Position: 2,
		Text:     "Benzene, CAS 71-43-2, listed as known to cause cancer and developmental toxicity.",
		Metadata: store.Metadata{"cas_number": {"71-43-2"}, "hazard_tags": {"carcinogenic", "reproductive"}, "jurisdiction": {"CA"}},
	},
}

type fixture struct {
	chunks   *store.MemoryChunkStore
	keyword  *countingKeywordIndex
	vector   *bruteVectorIndex
	embedder embed.Embedder
}

func newFixture(t *testing.T, chunks []*store.Chunk) *fixture {
	t.Helper()
	ctx := context.Background()

	cs := store.NewMemoryChunkStore()
	require.NoError(t, cs.Put(ctx, chunks))

	kw, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	emb := embed.NewStaticEmbedder(128)
	vec := newBruteVectorIndex(128)

	docs := make([]*store.Document, len(chunks))
	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Text}
		ids[i] = c.ID
		v, err := emb.Embed(ctx, c.Text)
		require.NoError(t, err)
		vecs[i] = v
	}
	require.NoError(t, kw.Index(ctx, docs))
	require.NoError(t, vec.Add(ctx, ids, vecs))

	return &fixture{
		chunks:   cs,
		keyword:  &countingKeywordIndex{KeywordIndex: kw},
		vector:   vec,
		embedder: emb,
	}
}

func defaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Alpha:            DefaultAlpha,
		Oversample:       DefaultOversample,
		IdentifierFields: []string{"article_number", "cas_number"},
	}
}

func (f *fixture) retriever(t *testing.T) *HybridRetriever {
	t.Helper()
	r, err := NewHybridRetriever(f.chunks, f.keyword, f.vector, f.embedder, defaultRetrieverConfig())
	require.NoError(t, err)
	return r
}

func original(text string) []QueryVariant {
	return []QueryVariant{{Text: text, Origin: OriginOriginal, Weight: 1}}
}

func candidateIDs(cs []Candidate) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ChunkID
	}
	return ids
}
