// Package storage defines the persistence contract for encrypted vault
// entries. Implementations never see plaintext; they store ciphertext blobs
// keyed by entry name.
package storage

import "context"

// Entry is one encrypted vault record. Version identifies the encryption key
// generation the ciphertext was sealed under.
type Entry struct {
	Key        string
	Ciphertext []byte
	Version    int
}

// Store persists encrypted vault entries. Get returns errors.ErrNotFound for
// a missing key. ReplaceAll swaps the full entry set in a single transaction
// so key rotation is all-or-nothing.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Entry, error)
	ReplaceAll(ctx context.Context, entries []Entry) error
}
