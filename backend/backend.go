// Package backend defines the persistent key-value medium tabkeep is built on.
//
// A Backend is the only component that touches durable storage. It knows
// nothing about encryption, caching or the pending-change ledger: values are
// opaque bytes and must be returned exactly as written.
//
// Important: keys starting with "__tabkeep" are reserved for internal records
// (key material fallback, ledger). Application code goes through tabkeep.Store
// and never writes those keys directly.
package backend

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("backend: closed")

// Backend is a string-keyed persistent byte store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear deletes every key owned by this backend.
	Clear(ctx context.Context) error

	// Keys lists every stored key in unspecified order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
