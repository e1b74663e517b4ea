package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// IndexLock is an exclusive cross-process lock over a data directory.
// Writers (ingestion) hold it while mutating the store and both indexes.
type IndexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIndexLock creates a lock file at <dir>/.index.lock.
func NewIndexLock(dir string) *IndexLock {
	path := filepath.Join(dir, ".index.lock")
	return &IndexLock{path: path, flock: flock.New(path)}
}

// Lock blocks until the lock is acquired.
func (l *IndexLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking. It returns ERR_207 when
// another process holds it.
func (l *IndexLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return amanerrors.New(amanerrors.ErrCodeIndexLocked, "index is locked by another process", nil).
			WithDetail("lock", l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *IndexLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *IndexLock) Path() string {
	return l.path
}
