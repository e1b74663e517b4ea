package store

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryChunkStore keeps chunks in a map. Used for tests and small corpora.
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]*Chunk
	closed bool
}

// NewMemoryChunkStore creates an empty in-memory chunk store.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunks: make(map[string]*Chunk)}
}

func (s *MemoryChunkStore) Get(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	c, ok := s.chunks[id]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return c, nil
}

func (s *MemoryChunkStore) GetMany(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]*Chunk, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *MemoryChunkStore) FindByMetadata(ctx context.Context, key, value string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	for id, c := range s.chunks {
		if slices.Contains(c.Metadata[key], value) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryChunkStore) Put(ctx context.Context, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryChunkStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		delete(s.chunks, id)
	}
	return nil
}

func (s *MemoryChunkStore) IDsBySource(ctx context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	for id, c := range s.chunks {
		if c.SourceID == sourceID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	return len(s.chunks), nil
}

func (s *MemoryChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ ChunkStore = (*MemoryChunkStore)(nil)
