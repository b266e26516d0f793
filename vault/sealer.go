package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const derivedKeyLen = 32

// deriveEntryKey derives the AES key for a key version from the keystore
// master key with HKDF-SHA256. Salting with the version means rotation only
// has to bump the version to get a fresh key, without touching the keystore.
func deriveEntryKey(masterKey []byte, version int) ([]byte, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("[deriveEntryKey] master key too short")
	}
	salt := []byte(fmt.Sprintf("easyinventory-vault-v%d", version))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, salt, []byte("vault-entry")), key); err != nil {
		return nil, errors.Wrap(err, "[deriveEntryKey] hkdf read")
	}
	return key, nil
}

// seal encrypts plaintext with AES-GCM under key. The returned ciphertext is
// nonce || sealed.
func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	// AES-GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "[seal] read nonce")
	}

	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// open decrypts a nonce || sealed payload produced by seal.
func open(key, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("[open] ciphertext too short")
	}
	plaintext, err := aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "[open] aead open")
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "[newAEAD] new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "[newAEAD] new gcm")
	}
	return aead, nil
}
