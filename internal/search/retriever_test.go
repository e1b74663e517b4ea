package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// =============================================================================
// Construction
// =============================================================================

func TestNewHybridRetriever_ValidatesDependencies(t *testing.T) {
	f := newFixture(t, regulationChunks)

	_, err := NewHybridRetriever(nil, f.keyword, f.vector, f.embedder, defaultRetrieverConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewHybridRetriever(f.chunks, nil, f.vector, f.embedder, defaultRetrieverConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewHybridRetriever(f.chunks, f.keyword, f.vector, nil, defaultRetrieverConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	cfg := defaultRetrieverConfig()
	cfg.Alpha = 1.5
	_, err = NewHybridRetriever(f.chunks, f.keyword, f.vector, f.embedder, cfg)
	assert.Error(t, err)

	// Keyword-only is allowed.
	r, err := NewHybridRetriever(f.chunks, f.keyword, nil, nil, defaultRetrieverConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultOversample, r.Oversample())
}

// =============================================================================
// Retrieve
// =============================================================================

func TestRetrieve_Article33Scenario(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	// Given: a question about Article 33 filtered to that article
	filters := &FilterSpec{Predicates: []Predicate{{Field: "article_number", Op: OpEq, Values: []string{"33"}}}}

	// When: retrieving
	res, err := r.Retrieve(context.Background(),
		original("What does Article 33 say about reporting obligations?"), filters, 5)
	require.NoError(t, err)

	// Then: both Article 33 chunks lead as exact matches
	require.GreaterOrEqual(t, len(res.Candidates), 3)
	assert.ElementsMatch(t, []string{"reach-art33-01", "reach-art33-02"}, candidateIDs(res.Candidates[:2]))
	for _, c := range res.Candidates[:2] {
		assert.True(t, c.ExactMatch, c.ChunkID)
		assert.GreaterOrEqual(t, c.CombinedScore, ExactBoost)
	}

	// And: fuzzy matches such as Article 36 follow, never marked exact
	assert.Contains(t, candidateIDs(res.Candidates[2:]), "reach-art36-01")
	for _, c := range res.Candidates[2:] {
		assert.False(t, c.ExactMatch, c.ChunkID)
		assert.Less(t, c.CombinedScore, ExactBoost)
	}
	assert.Equal(t, StrategyHybridExact, res.Strategy)
}

func TestRetrieve_ExactIdentifierOutranksBetterFuzzyMatch(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	// Given: a query that matches formaldehyde text, filtered to benzene's CAS
	filters := &FilterSpec{Predicates: []Predicate{{Field: "cas_number", Op: OpEq, Values: []string{"71-43-2"}}}}

	res, err := r.Retrieve(context.Background(), original("formaldehyde gas cancer"), filters, 5)
	require.NoError(t, err)

	// Then: benzene is first even though formaldehyde matches the words better
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "cas-71-43-2", res.Candidates[0].ChunkID)
	assert.True(t, res.Candidates[0].ExactMatch)
	assert.Contains(t, candidateIDs(res.Candidates), "cas-50-00-0")
}

func TestRetrieve_IsDeterministic(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)
	ctx := context.Background()
	variants := []QueryVariant{
		{Text: "supplier information duties", Origin: OriginOriginal, Weight: 1},
		{Text: "obligations to communicate information", Origin: OriginExpanded, Weight: 0.8},
	}

	first, err := r.Retrieve(ctx, variants, nil, 3)
	require.NoError(t, err)
	second, err := r.Retrieve(ctx, variants, nil, 3)
	require.NoError(t, err)

	assert.Equal(t, first.Candidates, second.Candidates)
	assert.Equal(t, first.TotalConsidered, second.TotalConsidered)
}

func TestRetrieve_EqualScoresOrderByChunkID(t *testing.T) {
	// Given: two chunks with identical text
	chunks := []*store.Chunk{
		{ID: "zz-dup", SourceID: "a", Text: "Restriction on lead in jewellery articles."},
		{ID: "aa-dup", SourceID: "b", Text: "Restriction on lead in jewellery articles."},
		{ID: "mm-other", SourceID: "c", Text: "Labelling of mixtures containing solvents."},
	}
	f := newFixture(t, chunks)
	r := f.retriever(t)

	res, err := r.Retrieve(context.Background(), original("lead in jewellery"), nil, 5)
	require.NoError(t, err)

	// Then: the tie is broken by chunk ID ascending
	require.GreaterOrEqual(t, len(res.Candidates), 2)
	assert.Equal(t, res.Candidates[0].CombinedScore, res.Candidates[1].CombinedScore)
	assert.Equal(t, []string{"aa-dup", "zz-dup"}, candidateIDs(res.Candidates[:2]))
}

func TestRetrieve_BlankQueryMakesNoIndexCalls(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	res, err := r.Retrieve(context.Background(), []QueryVariant{{Text: "   ", Weight: 1}}, nil, 5)
	require.NoError(t, err)

	assert.Empty(t, res.Candidates)
	assert.Equal(t, StrategyNone, res.Strategy)
	assert.Equal(t, int64(0), f.keyword.searches.Load())
}

func TestRetrieve_NoMatchesIsEmptyNotError(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r, err := NewHybridRetriever(f.chunks, f.keyword, nil, nil, defaultRetrieverConfig())
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), original("zeppelin quasar"), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, StrategyHybrid, res.Strategy)
}

func TestRetrieve_UnknownFilterKeyMatchesNothing(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	// Given: a filter on a key no chunk carries
	filters := &FilterSpec{Predicates: []Predicate{{Field: "annex", Op: OpEq, Values: []string{"XVII"}}}}

	// When: retrieving a query that would otherwise match
	res, err := r.Retrieve(context.Background(), original("supplier information"), filters, 5)

	// Then: every chunk is excluded and no error is raised
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestRetrieve_SelectiveFilterReachesPastDominantKeywordHits(t *testing.T) {
	// Given: twelve US chunks that outrank the only EU chunk on "benzene"
	var chunks []*store.Chunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, &store.Chunk{
			ID:       fmt.Sprintf("us-%02d", i),
			SourceID: "tsca.pdf",
			Text:     "benzene benzene benzene exposure limits for benzene",
			Metadata: store.Metadata{"jurisdiction": {"US"}},
		})
	}
	chunks = append(chunks, &store.Chunk{
		ID:       "eu-01",
		SourceID: "reach.pdf",
		Text:     "Annex XVII restricts benzene in toys and mixtures placed on the market.",
		Metadata: store.Metadata{"jurisdiction": {"EU"}},
	})
	f := newFixture(t, chunks)
	r, err := NewHybridRetriever(f.chunks, f.keyword, nil, nil, defaultRetrieverConfig())
	require.NoError(t, err)

	// When: retrieving keyword-only with a filter only the weak hit passes
	filters := &FilterSpec{Predicates: []Predicate{{Field: "jurisdiction", Op: OpEq, Values: []string{"EU"}}}}
	res, err := r.Retrieve(context.Background(), original("benzene"), filters, 1)

	// Then: the matching chunk still carries its keyword signal
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-01"}, candidateIDs(res.Candidates))
	require.NotNil(t, res.Candidates[0].KeywordScore)
	assert.Greater(t, f.keyword.searches.Load(), int64(1), "fetch widened past the first page")
}

func TestRetrieve_InvalidPredicateMatchesNothing(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	tests := []struct {
		name string
		pred Predicate
	}{
		{"identifier eq without value", Predicate{Field: "article_number", Op: OpEq}},
		{"eq with two values", Predicate{Field: "article_number", Op: OpEq, Values: []string{"31", "33"}}},
		{"unknown op", Predicate{Field: "jurisdiction", Op: "gt", Values: []string{"EU"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters := &FilterSpec{Predicates: []Predicate{tt.pred}}

			res, err := r.Retrieve(context.Background(), original("supplier information"), filters, 5)

			require.NoError(t, err)
			assert.Empty(t, res.Candidates)
			assert.Equal(t, StrategyNone, res.Strategy)
		})
	}
}

func TestRetrieve_AnyOfFilter(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	filters := &FilterSpec{Predicates: []Predicate{
		{Field: "hazard_tags", Op: OpIn, Values: []string{"reproductive", "mutagenic"}},
	}}

	res, err := r.Retrieve(context.Background(), original("known to cause cancer"), filters, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"cas-71-43-2"}, candidateIDs(res.Candidates))
}

func TestRetrieve_EmbedderFailureFallsBackToKeyword(t *testing.T) {
	f := newFixture(t, regulationChunks)
	emb := &failingEmbedder{}
	r, err := NewHybridRetriever(f.chunks, f.keyword, f.vector, emb, defaultRetrieverConfig())
	require.NoError(t, err)

	// When: the embedder is down
	res, err := r.Retrieve(context.Background(), original("safety data sheet"), nil, 5)

	// Then: keyword results still come back without vector scores
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "reach-art31-01", res.Candidates[0].ChunkID)
	for _, c := range res.Candidates {
		assert.Nil(t, c.VectorScore)
		assert.NotNil(t, c.KeywordScore)
	}
	assert.Equal(t, int64(1), emb.calls.Load())
}

func TestRetrieve_ExactOnlyWhenFuzzyBranchesFail(t *testing.T) {
	f := newFixture(t, regulationChunks)
	f.keyword.err = errors.New("index unavailable")
	r, err := NewHybridRetriever(f.chunks, f.keyword, f.vector, &failingEmbedder{}, defaultRetrieverConfig())
	require.NoError(t, err)

	filters := &FilterSpec{Predicates: []Predicate{{Field: "article_number", Op: OpEq, Values: []string{"33"}}}}
	res, err := r.Retrieve(context.Background(), original("Article 33"), filters, 5)

	require.NoError(t, err)
	assert.Equal(t, StrategyExact, res.Strategy)
	assert.Equal(t, []string{"reach-art33-01", "reach-art33-02"}, candidateIDs(res.Candidates))
}

func TestRetrieve_TruncatesToOversampledLimit(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	res, err := r.Retrieve(context.Background(), original("supplier substance information article"), nil, 1)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(res.Candidates), DefaultOversample)
	assert.GreaterOrEqual(t, res.TotalConsidered, len(res.Candidates))
}

func TestRetrieve_ExpandedVariantIsAttributed(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r, err := NewHybridRetriever(f.chunks, f.keyword, nil, nil, defaultRetrieverConfig())
	require.NoError(t, err)

	variants := []QueryVariant{
		{Text: "safety data sheets", Origin: OriginOriginal, Weight: 1},
		{Text: "formaldehyde", Origin: OriginExpanded, Weight: 0.8},
	}
	res, err := r.Retrieve(context.Background(), variants, nil, 5)
	require.NoError(t, err)

	byID := map[string]Candidate{}
	for _, c := range res.Candidates {
		byID[c.ChunkID] = c
	}
	require.Contains(t, byID, "cas-50-00-0")
	require.Contains(t, byID, "reach-art31-01")
	assert.Equal(t, OriginExpanded, byID["cas-50-00-0"].SourceVariant.Origin)
	assert.Equal(t, OriginOriginal, byID["reach-art31-01"].SourceVariant.Origin)
}

func TestRetrieve_CanceledContext(t *testing.T) {
	f := newFixture(t, regulationChunks)
	r := f.retriever(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, original("supplier"), nil, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
