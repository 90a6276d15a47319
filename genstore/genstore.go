// Package genstore holds per-key write generations for the store's cache.
// A cached entry is valid only while its generation matches the current one.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes generations untouched for longer than retention.
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
