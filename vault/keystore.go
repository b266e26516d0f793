package vault

import "context"

// Keystore supplies the master key material the vault derives its entry
// encryption keys from. Implementations back this with a platform secure
// keystore; the master key is never persisted alongside ciphertext.
type Keystore interface {
	// MasterKey returns the current master key. Must be at least 16 bytes.
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKeystore wraps a fixed key, for installations where the key is
// provisioned out of band (for example from an environment secret).
type StaticKeystore struct {
	key []byte
}

// NewStaticKeystore copies the provided key into a StaticKeystore.
func NewStaticKeystore(key []byte) *StaticKeystore {
	k := make([]byte, len(key))
	copy(k, key)
	return &StaticKeystore{key: k}
}

// MasterKey implements Keystore.
func (s *StaticKeystore) MasterKey(ctx context.Context) ([]byte, error) {
	k := make([]byte, len(s.key))
	copy(k, s.key)
	return k, nil
}
