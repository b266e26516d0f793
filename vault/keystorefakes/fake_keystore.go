// Package keystorefakes provides a fake Keystore for tests.
package keystorefakes

import (
	"context"
	"sync"
)

// FakeKeystore is a thread-safe Keystore backed by a fixed key. The returned
// error and call count are controllable for failure-path tests.
type FakeKeystore struct {
	mu    sync.Mutex
	key   []byte
	err   error
	calls int
}

// NewFakeKeystore creates a fake keystore with the given master key.
func NewFakeKeystore(key []byte) *FakeKeystore {
	k := make([]byte, len(key))
	copy(k, key)
	return &FakeKeystore{key: k}
}

// MasterKey returns the configured key or error.
func (f *FakeKeystore) MasterKey(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	k := make([]byte, len(f.key))
	copy(k, f.key)
	return k, nil
}

// SetError makes subsequent MasterKey calls fail with err.
func (f *FakeKeystore) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns how many times MasterKey has been invoked.
func (f *FakeKeystore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
