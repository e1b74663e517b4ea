// Package store holds the chunk store and the two search indexes the
// retrieval engine reads from: a BM25 keyword index and an HNSW vector index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrChunkNotFound is returned when a chunk ID is not in the store.
var ErrChunkNotFound = errors.New("chunk not found")

// ErrClosed is returned by operations on a closed store or index.
var ErrClosed = errors.New("store is closed")

// ErrDimensionMismatch is returned when a vector does not match the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Metadata maps a field name to its values. Scalar fields hold one value.
type Metadata map[string][]string

// Values returns the values stored for key and whether the key exists.
func (m Metadata) Values(key string) ([]string, bool) {
	v, ok := m[key]
	return v, ok
}

// Get returns the first value for key, or "".
func (m Metadata) Get(key string) string {
	if v := m[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Keys returns the field names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON accepts each field as a string, number, bool or an array of those.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for key, value := range raw {
		var list []any
		if err := json.Unmarshal(value, &list); err == nil {
			vals := make([]string, 0, len(list))
			for _, item := range list {
				s, err := scalarString(item)
				if err != nil {
					return fmt.Errorf("metadata %q: %w", key, err)
				}
				vals = append(vals, s)
			}
			out[key] = vals
			continue
		}
		var item any
		if err := json.Unmarshal(value, &item); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		if item == nil {
			continue
		}
		s, err := scalarString(item)
		if err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		out[key] = []string{s}
	}
	*m = out
	return nil
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Chunk is one indexed passage. Chunks are immutable once indexed.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	SourceID  string    `json:"source_id"`
	Position  int       `json:"position"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// ChunkReader is the read side of the chunk store used by the query path.
type ChunkReader interface {
	// Get returns the chunk or ErrChunkNotFound.
	Get(ctx context.Context, id string) (*Chunk, error)

	// GetMany returns the chunks that exist, keyed by ID. Missing IDs are skipped.
	GetMany(ctx context.Context, ids []string) (map[string]*Chunk, error)

	// FindByMetadata returns IDs of chunks whose values for key contain value,
	// sorted ascending.
	FindByMetadata(ctx context.Context, key, value string) ([]string, error)
}

// ChunkStore is the full chunk store, written by ingestion.
type ChunkStore interface {
	ChunkReader

	// Put inserts or replaces chunks.
	Put(ctx context.Context, chunks []*Chunk) error

	// Delete removes chunks. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// IDsBySource returns the IDs of every chunk with the given source ID.
	IDsBySource(ctx context.Context, sourceID string) ([]string, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Document is the unit the keyword index stores.
type Document struct {
	ID      string
	Content string
}

// KeywordResult is one BM25 hit. Higher scores are better.
type KeywordResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// KeywordIndex is a lexical BM25 index over chunk text.
type KeywordIndex interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*Document) error

	// Search returns up to limit hits ordered by score descending.
	// A query with no searchable terms returns no hits.
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)

	// Delete removes documents. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed documents.
	Count() int

	Close() error
}

// Filter reports whether a chunk may appear in results.
type Filter func(chunkID string) bool

// VectorResult is one nearest-neighbour hit. Score is a similarity in [0,1].
type VectorResult struct {
	ChunkID  string
	Score    float64
	Distance float32
}

// VectorIndex is an approximate nearest-neighbour index over chunk embeddings.
type VectorIndex interface {
	// Add inserts or replaces vectors.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns up to k hits passing filter (nil accepts all),
	// ordered by similarity descending.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error)

	// Delete removes vectors. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	Count() int
	Dimensions() int

	// Save persists the index to path. Load replaces the in-memory index.
	Save(path string) error
	Load(path string) error

	Close() error
}
