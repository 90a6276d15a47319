package tabkeep

import (
	"errors"
	"fmt"
)

var (
	// ErrUnchanged is returned by an Update callback to skip the write.
	ErrUnchanged = errors.New("tabkeep: unchanged")
	ErrClosed    = errors.New("tabkeep: store closed")
	// ErrReservedKey rejects application access to internal records.
	ErrReservedKey = errors.New("tabkeep: reserved key")
)

// StorageError is a backing-store I/O failure.
type StorageError struct {
	Op  string // get, set, remove, clear, keys, ledger
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EncryptionError covers a missing or unusable key and any seal/open failure.
// Encrypted operations fail with it instead of falling back to plaintext.
type EncryptionError struct {
	Op  string // key, seal, open
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError is returned by Get when a stored value could not be
// decrypted with the current key. The entry has already been dropped from the
// backend and the cache: the key now reads as absent. Callers should treat it
// as a warning.
type DecryptionError struct {
	Key string
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %q (entry dropped): %v", e.Key, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// KeyManagementError is a secure-store or key-format failure.
type KeyManagementError struct {
	Op  string // generate, store, get, remove, initialize
	Err error
}

func (e *KeyManagementError) Error() string {
	return fmt.Sprintf("key management %s: %v", e.Op, e.Err)
}

func (e *KeyManagementError) Unwrap() error { return e.Err }
