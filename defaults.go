package tabkeep

import "time"

const (
	DefaultTTL = 5 * time.Minute

	// ReservedPrefix marks internal records in the backing store.
	ReservedPrefix = "__tabkeep"
	// LedgerKey holds the persisted pending-change ledger.
	LedgerKey = ReservedPrefix + "_pending_changes"
)

// DefaultEncryptedKeys are the base keys whose values are sealed at rest.
var DefaultEncryptedKeys = []string{"auth_token", "user_profile", "readiness_assessment"}

// DefaultLocalOnlyKeys are the base keys never synced, so their writes are
// not recorded in the ledger.
var DefaultLocalOnlyKeys = []string{"auth_token"}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
