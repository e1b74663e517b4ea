package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// countingEmbedder records how many texts reach the model.
type countingEmbedder struct {
	texts atomic.Int64
	inner *StaticEmbedder
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                  { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                { return "counting" }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                     { return nil }

// =============================================================================
// StaticEmbedder
// =============================================================================

func TestStaticEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewStaticEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Article 33 reporting obligations")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Article 33 reporting obligations")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, magnitude(a), 1e-5)
}

func TestStaticEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(16)

	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}

func TestStaticEmbedder_ClosedFails(t *testing.T) {
	e := NewStaticEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

// =============================================================================
// CachedEmbedder
// =============================================================================

func TestCachedEmbedder_SkipsRepeatedTexts(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder(32)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// Given: one text already embedded
	_, err := c.Embed(ctx, "formaldehyde")
	require.NoError(t, err)

	// When: a batch repeats it alongside a new text
	vecs, err := c.EmbedBatch(ctx, []string{"formaldehyde", "benzene"})
	require.NoError(t, err)

	// Then: only the new text reaches the model
	require.Len(t, vecs, 2)
	assert.Equal(t, int64(2), inner.texts.Load())
	assert.Equal(t, 2, c.Len())

	again, err := c.Embed(ctx, "benzene")
	require.NoError(t, err)
	assert.Equal(t, vecs[1], again)
	assert.Equal(t, int64(2), inner.texts.Load())
}

// =============================================================================
// OllamaEmbedder
// =============================================================================

func TestOllamaEmbedder_EmbedsAndNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{3, 4}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 2})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, v, 1e-6)
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2, MaxRetries: 2})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestOllamaEmbedder_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2, MaxRetries: 2})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeEmbeddingFailed, amanerrors.GetCode(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 0, 0}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2, MaxRetries: 0})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	assert.Equal(t, amanerrors.ErrCodeDimensionMismatch, amanerrors.GetCode(err))
}

func TestOllamaEmbedder_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
}

func TestOllamaEmbedder_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.True(t, e.Available(context.Background()))

	other, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "mxbai-embed-large"})
	require.NoError(t, err)
	assert.False(t, other.Available(context.Background()))
}

// =============================================================================
// Factory
// =============================================================================

func TestNew_SelectsProvider(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "static"
	cfg.Dimensions = 48

	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 48, e.Dimensions())
	assert.IsType(t, &StaticEmbedder{}, e.Inner())

	cfg.Provider = "bogus"
	_, err = New(cfg)
	assert.Error(t, err)
}
