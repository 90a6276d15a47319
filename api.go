package tabkeep

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/tabkeep/backend"
	gen "github.com/unkn0wn-root/tabkeep/genstore"
	pr "github.com/unkn0wn-root/tabkeep/provider"
)

// Store is the local-first key-value store. Values are opaque bytes; use
// Typed for a codec-backed view.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) when absent.
	// A value that fails to decrypt is dropped and reported as *DecryptionError.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set persists value, refreshes the cache and appends a pending change.
	Set(ctx context.Context, key string, value []byte) error
	// Update runs fn under the key's write lock. fn returning ErrUnchanged
	// skips the write and the ledger append.
	Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error), opts ...WriteOption) error
	Remove(ctx context.Context, key string) error
	// Clear removes every application key and empties cache and ledger.
	// Internal records such as fallback key material survive.
	Clear(ctx context.Context) error
	// Keys lists application keys; internal records are hidden.
	Keys(ctx context.Context) ([]string, error)
	// ClearCache empties the memory tier only.
	ClearCache(ctx context.Context, reason string) error
	Ledger() *Ledger
	Close(ctx context.Context) error
}

// WriteOption adjusts a single Update.
type WriteOption func(*writeOptions)

type writeOptions struct {
	skipLedger bool
}

// SkipLedger writes without queuing a pending change. Sync merge results use
// it: they carry no local change that is not already queued.
func SkipLedger() WriteOption {
	return func(o *writeOptions) { o.skipLedger = true }
}

// KeySource supplies the hex-encoded 256-bit master key.
type KeySource interface {
	GetKey(ctx context.Context) (string, error)
}

// Options configure a Store. Only Backend is required.
type Options struct {
	Backend backend.Backend
	Cache   pr.Provider  // nil => in-process map
	Gen     gen.GenStore // nil => in-process generations

	// Keys supplies the encryption key. When nil, keys in EncryptedKeys cannot
	// be read or written and the ledger is kept in plaintext.
	Keys          KeySource
	EncryptedKeys []string      // nil => DefaultEncryptedKeys
	LocalOnlyKeys []string      // nil => DefaultLocalOnlyKeys
	TTL           time.Duration // 0 => DefaultTTL
	GenRetention  time.Duration // 0 => 24h

	Clock  func() time.Time // nil => time.Now
	Logger Logger           // nil => NopLogger
	Hooks  Hooks            // nil => NopHooks
}

// New opens a Store over opts.Backend and reloads the persisted ledger.
// It fails when the ledger is sealed and the key is unavailable.
func New(ctx context.Context, opts Options) (Store, error) {
	if opts.Backend == nil {
		return nil, errors.New("tabkeep: Options.Backend is required")
	}
	return newStore(ctx, opts)
}
