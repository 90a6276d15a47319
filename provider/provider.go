// Package provider defines the in-memory cache tier fronting tabkeep's
// backing store.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key. Entries are
// framed by tabkeep (generation + expiry); the provider never interprets them.
//
// The TTL passed to Set is an eviction hint in wall-clock time. Freshness is
// decided by tabkeep against its own clock, so a provider may keep an entry
// longer (or drop it sooner) without affecting correctness.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Clear drops every entry. Used by the memory-pressure sweep.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}
