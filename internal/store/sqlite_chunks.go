package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// sqliteBatchSize bounds the number of bound parameters per IN query.
const sqliteBatchSize = 500

// SQLiteChunkStore persists chunks and an inverted metadata table for
// exact identifier lookups.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// NewSQLiteChunkStore opens or creates the chunk database at path. An empty
// path creates an in-memory database.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if validErr := validateSQLiteIntegrity(path, "chunks"); validErr != nil {
			slog.Warn("chunk_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			removeSQLiteFiles(path)
		}
		dsn = path
	}

	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLiteChunkStore{db: db, path: path}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		id        TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		position  INTEGER NOT NULL,
		text      TEXT NOT NULL,
		embedding BLOB,
		metadata  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id);
	CREATE TABLE IF NOT EXISTS chunk_metadata (
		chunk_id TEXT NOT NULL,
		key      TEXT NOT NULL,
		value    TEXT NOT NULL,
		PRIMARY KEY (chunk_id, key, value)
	);
	CREATE INDEX IF NOT EXISTS idx_chunk_metadata_kv ON chunk_metadata(key, value);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) Get(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, source_id, position, text, embedding, metadata FROM chunks WHERE id = ?", id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChunkNotFound
	}
	return c, err
}

func (s *SQLiteChunkStore) GetMany(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[string]*Chunk, len(ids))
	for start := 0; start < len(ids); start += sqliteBatchSize {
		end := min(start+sqliteBatchSize, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := "SELECT id, source_id, position, text, embedding, metadata FROM chunks WHERE id IN (" +
			placeholders(len(batch)) + ")"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query chunks: %w", err)
		}
		for rows.Next() {
			c, err := scanChunk(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[c.ID] = c
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to query chunks: %w", err)
		}
	}
	return out, nil
}

func (s *SQLiteChunkStore) FindByMetadata(ctx context.Context, key, value string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.queryIDs(ctx,
		"SELECT DISTINCT chunk_id FROM chunk_metadata WHERE key = ? AND value = ? ORDER BY chunk_id", key, value)
}

func (s *SQLiteChunkStore) IDsBySource(ctx context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.queryIDs(ctx, "SELECT id FROM chunks WHERE source_id = ? ORDER BY id", sourceID)
}

func (s *SQLiteChunkStore) Put(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO chunks (id, source_id, position, text, embedding, metadata)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.SourceID, c.Position, c.Text, encodeVector(c.Embedding), string(meta)); err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_metadata WHERE chunk_id = ?", c.ID); err != nil {
			return fmt.Errorf("failed to clear metadata for %s: %w", c.ID, err)
		}
		for key, values := range c.Metadata {
			for _, v := range values {
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO chunk_metadata (chunk_id, key, value) VALUES (?, ?, ?)",
					c.ID, key, v); err != nil {
					return fmt.Errorf("failed to store metadata for %s: %w", c.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *SQLiteChunkStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_metadata WHERE chunk_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete metadata for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

func (s *SQLiteChunkStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c         Chunk
		embedding []byte
		meta      string
	)
	if err := row.Scan(&c.ID, &c.SourceID, &c.Position, &c.Text, &embedding, &meta); err != nil {
		return nil, err
	}
	c.Embedding = decodeVector(embedding)
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// encodeVector stores float32 values little-endian.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
