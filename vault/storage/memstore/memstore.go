// Package memstore provides a thread-safe in-memory vault store, used in
// tests and as a scratch store for demo installations.
package memstore

import (
	"context"
	"sync"

	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/vault/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]storage.Entry
}

// New creates an empty in-memory vault store.
func New() *Store {
	return &Store{entries: make(map[string]storage.Entry)}
}

// Get retrieves an entry by key.
func (s *Store) Get(ctx context.Context, key string) (storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return storage.Entry{}, apperrors.ErrNotFound
	}
	return copyEntry(entry), nil
}

// Put stores or replaces an entry.
func (s *Store) Put(ctx context.Context, entry storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key] = copyEntry(entry)
	return nil
}

// Delete removes an entry. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// List returns every stored entry.
func (s *Store) List(ctx context.Context) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, copyEntry(entry))
	}
	return out, nil
}

// ReplaceAll atomically swaps the full entry set.
func (s *Store) ReplaceAll(ctx context.Context, entries []storage.Entry) error {
	next := make(map[string]storage.Entry, len(entries))
	for _, entry := range entries {
		next[entry.Key] = copyEntry(entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = next
	return nil
}

// copyEntry clones the ciphertext so callers cannot mutate stored state.
func copyEntry(entry storage.Entry) storage.Entry {
	ct := make([]byte, len(entry.Ciphertext))
	copy(ct, entry.Ciphertext)
	return storage.Entry{Key: entry.Key, Ciphertext: ct, Version: entry.Version}
}

var _ storage.Store = (*Store)(nil)
