// Package entity defines the per-user records tabkeep persists and syncs,
// their composite storage keys and their tagged schemas.
package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Base keys. Every record of a user lives under {base}_{userID}.
const (
	KindProfile    = "user_profile"
	KindSettings   = "user_settings"
	KindDrinks     = "drinks"
	KindBudget     = "budget"
	KindPlans      = "pregame_plans"
	KindAssessment = "readiness_assessment"
	KindAuthToken  = "auth_token"
)

// Kinds lists every base key, synced or not.
var Kinds = []string{KindProfile, KindSettings, KindDrinks, KindBudget, KindPlans, KindAssessment, KindAuthToken}

var ErrInvalid = errors.New("entity: invalid")

// Key returns the composite storage key for a user's records of one kind.
func Key(base, userID string) string { return base + "_" + userID }

// UserKeys returns every storage key a user can own.
func UserKeys(userID string) []string {
	out := make([]string, len(Kinds))
	for i, k := range Kinds {
		out[i] = Key(k, userID)
	}
	return out
}

// Entity is what the sync engine needs to reconcile a record.
type Entity interface {
	EntityID() string
	Modified() time.Time
}

func NewID() string { return uuid.NewString() }

// Now is the timestamp stored on records: UTC, millisecond precision, so it
// survives every codec and the remote's JSON unchanged.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func invalid(kind, format string, args ...any) error {
	return fmt.Errorf("%w %s: %s", ErrInvalid, kind, fmt.Sprintf(format, args...))
}

func requireIDs(kind, id, userID string) error {
	if strings.TrimSpace(id) == "" {
		return invalid(kind, "missing id")
	}
	if strings.TrimSpace(userID) == "" {
		return invalid(kind, "missing user id")
	}
	return nil
}

// Record is an entity owned by one user that the repo layer can stamp with an
// id and a modification time.
type Record[T any] interface {
	Entity
	Owner() string
	WithID(id string) T
	Touched(at time.Time) T
	Validate() error
}
