package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkBackends(t *testing.T) map[string]func(t *testing.T) ChunkStore {
	t.Helper()
	return map[string]func(t *testing.T) ChunkStore{
		"memory": func(t *testing.T) ChunkStore {
			return NewMemoryChunkStore()
		},
		"sqlite": func(t *testing.T) ChunkStore {
			s, err := NewSQLiteChunkStore("")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func sampleChunks() []*Chunk {
	return []*Chunk{
		{
			ID: "reach-33", Text: "Article 33 duty to communicate information on substances in articles.",
			SourceID: "reach.pdf", Position: 33, Embedding: []float32{0.1, 0.2, 0.3},
			Metadata: Metadata{"article_number": {"33"}, "jurisdiction": {"EU"}},
		},
		{
			ID: "reach-32", Text: "Article 32 duty to communicate information down the supply chain.",
			SourceID: "reach.pdf", Position: 32,
			Metadata: Metadata{"article_number": {"32"}, "jurisdiction": {"EU"}},
		},
		{
			ID: "sds-formaldehyde", Text: "Formaldehyde safety data sheet.",
			SourceID: "sds.pdf", Position: 1,
			Metadata: Metadata{"cas_number": {"50-00-0"}, "hazard_tags": {"carcinogen", "toxic"}},
		},
	}
}

// =============================================================================
// Metadata JSON
// =============================================================================

func TestMetadata_UnmarshalAcceptsScalarsAndArrays(t *testing.T) {
	var m Metadata
	err := json.Unmarshal([]byte(`{"article_number":"33","hazard_tags":["flammable","toxic"],"page":12,"draft":false,"empty":null}`), &m)
	require.NoError(t, err)

	assert.Equal(t, []string{"33"}, m["article_number"])
	assert.Equal(t, []string{"flammable", "toxic"}, m["hazard_tags"])
	assert.Equal(t, "12", m.Get("page"))
	assert.Equal(t, "false", m.Get("draft"))
	_, ok := m.Values("empty")
	assert.False(t, ok)
	assert.Equal(t, []string{"article_number", "draft", "hazard_tags", "page"}, m.Keys())
}

func TestMetadata_UnmarshalRejectsObjects(t *testing.T) {
	var m Metadata
	err := json.Unmarshal([]byte(`{"nested":{"a":1}}`), &m)
	assert.Error(t, err)
}

// =============================================================================
// ChunkStore behaviour
// =============================================================================

func TestChunkStore_GetAndGetMany(t *testing.T) {
	for name, open := range chunkBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Put(ctx, sampleChunks()))

			c, err := s.Get(ctx, "reach-33")
			require.NoError(t, err)
			assert.Equal(t, "reach.pdf", c.SourceID)
			assert.Equal(t, 33, c.Position)
			assert.Equal(t, "EU", c.Metadata.Get("jurisdiction"))
			assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, c.Embedding, 1e-6)

			_, err = s.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrChunkNotFound)

			many, err := s.GetMany(ctx, []string{"reach-32", "nope", "sds-formaldehyde"})
			require.NoError(t, err)
			assert.Len(t, many, 2)
			assert.Contains(t, many, "reach-32")

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestChunkStore_FindByMetadata(t *testing.T) {
	for name, open := range chunkBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Put(ctx, sampleChunks()))

			ids, err := s.FindByMetadata(ctx, "article_number", "33")
			require.NoError(t, err)
			assert.Equal(t, []string{"reach-33"}, ids)

			ids, err = s.FindByMetadata(ctx, "jurisdiction", "EU")
			require.NoError(t, err)
			assert.Equal(t, []string{"reach-32", "reach-33"}, ids, "sorted ascending")

			ids, err = s.FindByMetadata(ctx, "hazard_tags", "toxic")
			require.NoError(t, err)
			assert.Equal(t, []string{"sds-formaldehyde"}, ids)

			ids, err = s.FindByMetadata(ctx, "unknown_key", "33")
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestChunkStore_ReplaceDeleteAndSource(t *testing.T) {
	for name, open := range chunkBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Put(ctx, sampleChunks()))

			// When: a chunk is replaced with different metadata
			updated := &Chunk{ID: "reach-33", Text: "amended", SourceID: "reach.pdf", Metadata: Metadata{"article_number": {"33a"}}}
			require.NoError(t, s.Put(ctx, []*Chunk{updated}))

			// Then: old metadata no longer matches
			ids, err := s.FindByMetadata(ctx, "article_number", "33")
			require.NoError(t, err)
			assert.Empty(t, ids)

			bySource, err := s.IDsBySource(ctx, "reach.pdf")
			require.NoError(t, err)
			assert.Equal(t, []string{"reach-32", "reach-33"}, bySource)

			// When: deleting
			require.NoError(t, s.Delete(ctx, []string{"reach-33", "ghost"}))
			_, err = s.Get(ctx, "reach-33")
			assert.ErrorIs(t, err, ErrChunkNotFound)
			ids, err = s.FindByMetadata(ctx, "article_number", "33a")
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestSQLiteChunkStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.db")

	s, err := NewSQLiteChunkStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sampleChunks()))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteChunkStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	c, err := reopened.Get(ctx, "sds-formaldehyde")
	require.NoError(t, err)
	assert.Equal(t, []string{"carcinogen", "toxic"}, c.Metadata["hazard_tags"])
}

func TestVectorEncoding_RoundTrip(t *testing.T) {
	v := []float32{1.5, -2.25, 0}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
}
