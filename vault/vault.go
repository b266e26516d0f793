// Package vault is an encrypted key-value store for tokens and provider
// secrets. Plaintext never reaches the storage medium: every entry is sealed
// with AES-GCM under a key derived from a platform keystore, and every write
// is atomic at the entry level.
package vault

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/vault/storage"
)

const writeLockStripes = 32

// Vault encrypts and persists secret material.
type Vault struct {
	store    storage.Store
	keystore Keystore
	log      zerolog.Logger

	// rotMu serializes key rotation against all other operations; normal
	// reads and writes only take the read side.
	rotMu   sync.RWMutex
	version int

	// keyLocks serialize concurrent writes to the same entry.
	keyLocks [writeLockStripes]sync.Mutex
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger used for integrity events.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Vault) {
		v.log = log
	}
}

// New creates a Vault over the given store and keystore. The current key
// version is recovered from existing entries so a restart keeps decrypting
// previously written data.
func New(ctx context.Context, store storage.Store, keystore Keystore, options ...Option) (*Vault, error) {
	if store == nil {
		return nil, errors.New("[vault.New] store is required")
	}
	if keystore == nil {
		return nil, errors.New("[vault.New] keystore is required")
	}

	v := &Vault{
		store:    store,
		keystore: keystore,
		log:      zerolog.Nop(),
		version:  1,
	}
	for _, opt := range options {
		opt(v)
	}

	entries, err := store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[vault.New] list entries")
	}
	for _, entry := range entries {
		if entry.Version > v.version {
			v.version = entry.Version
		}
	}

	return v, nil
}

// Put encrypts plaintext and stores it under key, replacing any previous
// value (last writer wins).
func (v *Vault) Put(ctx context.Context, key string, plaintext []byte) error {
	v.rotMu.RLock()
	defer v.rotMu.RUnlock()

	lock := v.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	entryKey, err := v.entryKey(ctx, v.version)
	if err != nil {
		return errors.Wrap(err, "[Vault.Put] derive entry key")
	}
	ciphertext, err := seal(entryKey, plaintext)
	if err != nil {
		return errors.Wrap(err, "[Vault.Put] seal")
	}

	err = v.store.Put(ctx, storage.Entry{Key: key, Ciphertext: ciphertext, Version: v.version})
	return errors.Wrap(err, "[Vault.Put] store put")
}

// Get decrypts and returns the plaintext stored under key. A missing entry
// fails with ErrNotFound; an undecryptable one fails with ErrCorrupt after
// emitting an integrity event. Corrupt entries are never silently treated as
// absent.
func (v *Vault) Get(ctx context.Context, key string) ([]byte, error) {
	v.rotMu.RLock()
	defer v.rotMu.RUnlock()

	entry, err := v.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	entryKey, err := v.entryKey(ctx, entry.Version)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.Get] derive entry key")
	}
	plaintext, err := open(entryKey, entry.Ciphertext)
	if err != nil {
		eventID := uuid.New().String()
		v.log.Error().
			Str("event_id", eventID).
			Str("entry_key", key).
			Int("key_version", entry.Version).
			Msg("vault integrity failure: entry failed authentication")
		return nil, errors.Wrapf(apperrors.ErrCorrupt, "[Vault.Get] entry %q (event %s)", key, eventID)
	}
	return plaintext, nil
}

// Delete removes the entry stored under key. Deleting a missing key is a
// no-op.
func (v *Vault) Delete(ctx context.Context, key string) error {
	v.rotMu.RLock()
	defer v.rotMu.RUnlock()

	lock := v.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	return errors.Wrap(v.store.Delete(ctx, key), "[Vault.Delete] store delete")
}

// RotateEncryptionKey re-encrypts every entry under the next key version in
// one logical transaction: either all entries migrate or the vault remains
// fully readable under the previous version.
func (v *Vault) RotateEncryptionKey(ctx context.Context) error {
	v.rotMu.Lock()
	defer v.rotMu.Unlock()

	entries, err := v.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "[Vault.RotateEncryptionKey] list entries")
	}

	nextVersion := v.version + 1
	nextKey, err := v.entryKey(ctx, nextVersion)
	if err != nil {
		return errors.Wrap(err, "[Vault.RotateEncryptionKey] derive next key")
	}

	migrated := make([]storage.Entry, 0, len(entries))
	for _, entry := range entries {
		oldKey, err := v.entryKey(ctx, entry.Version)
		if err != nil {
			return errors.Wrap(err, "[Vault.RotateEncryptionKey] derive old key")
		}
		plaintext, err := open(oldKey, entry.Ciphertext)
		if err != nil {
			return errors.Wrapf(apperrors.ErrCorrupt, "[Vault.RotateEncryptionKey] entry %q", entry.Key)
		}
		ciphertext, err := seal(nextKey, plaintext)
		if err != nil {
			return errors.Wrap(err, "[Vault.RotateEncryptionKey] reseal")
		}
		migrated = append(migrated, storage.Entry{Key: entry.Key, Ciphertext: ciphertext, Version: nextVersion})
	}

	if err := v.store.ReplaceAll(ctx, migrated); err != nil {
		return errors.Wrap(err, "[Vault.RotateEncryptionKey] replace entries")
	}

	v.version = nextVersion
	v.log.Info().Int("key_version", nextVersion).Int("entries", len(migrated)).Msg("vault encryption key rotated")
	return nil
}

func (v *Vault) entryKey(ctx context.Context, version int) ([]byte, error) {
	masterKey, err := v.keystore.MasterKey(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "keystore master key")
	}
	return deriveEntryKey(masterKey, version)
}

func (v *Vault) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &v.keyLocks[h.Sum32()%writeLockStripes]
}
