package tabkeep

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const sealVersion byte = 1

// Sealer seals and opens values using AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a sealer from a raw 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, &EncryptionError{Op: "key", Err: fmt.Errorf("key must be 32 bytes, got %d", len(key))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &EncryptionError{Op: "key", Err: fmt.Errorf("new cipher: %w", err)}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &EncryptionError{Op: "key", Err: fmt.Errorf("new gcm: %w", err)}
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plain. aad is authenticated but not stored; the store passes
// the storage key so a value copied under another key fails to open.
//
//	version(1) | nonce(12) | ciphertext+tag
func (s *Sealer) Seal(plain, aad []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, &EncryptionError{Op: "seal", Err: errors.New("sealer is not configured")}
	}
	// GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &EncryptionError{Op: "seal", Err: fmt.Errorf("read nonce: %w", err)}
	}
	out := make([]byte, 0, 1+len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, aad), nil
}

// Open decrypts a value produced by Seal with the same aad. Any tampering
// with version, nonce, ciphertext or aad yields an EncryptionError.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, &EncryptionError{Op: "open", Err: errors.New("sealer is not configured")}
	}
	ns := s.aead.NonceSize()
	if len(sealed) < 1+ns+s.aead.Overhead() {
		return nil, &EncryptionError{Op: "open", Err: errors.New("sealed value is too short")}
	}
	if sealed[0] != sealVersion {
		return nil, &EncryptionError{Op: "open", Err: fmt.Errorf("unknown envelope version %d", sealed[0])}
	}
	nonce := sealed[1 : 1+ns]
	plain, err := s.aead.Open(nil, nonce, sealed[1+ns:], aad)
	if err != nil {
		return nil, &EncryptionError{Op: "open", Err: fmt.Errorf("decrypt sealed value: %w", err)}
	}
	return plain, nil
}
