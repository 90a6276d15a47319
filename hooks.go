package tabkeep

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow sinks with
// hooks/async.
type Hooks interface {
	// A cached entry was dropped on read.
	// reason ∈ {"corrupt", "gen_mismatch"}
	SelfHeal(storageKey, reason string)

	// A stored value failed to decrypt and was removed.
	DecryptDropped(key string, err error)

	// Cache tier returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors.
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// The ledger could not be written to the backing store.
	LedgerPersistError(pending int, err error)

	// The cache tier was emptied. reason ∈ {"memory_pressure", "manual", "clear"}
	CacheCleared(reason string)

	// One entity failed to reach the remote during a sync cycle.
	SyncItemFailed(collection, id string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)              {}
func (NopHooks) DecryptDropped(string, error)         {}
func (NopHooks) ProviderSetRejected(string)           {}
func (NopHooks) GenSnapshotError(string, error)       {}
func (NopHooks) GenBumpError(string, error)           {}
func (NopHooks) LedgerPersistError(int, error)        {}
func (NopHooks) CacheCleared(string)                  {}
func (NopHooks) SyncItemFailed(string, string, error) {}
