// Package repo is the typed, user-scoped surface applications call. Every
// write commits to the local store first and then, when the remote answers
// its health check, is pushed best-effort. A push that fails stays in the
// store's ledger and is reconciled by the next sync cycle.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/entity"
)

var (
	ErrNotFound          = errors.New("repo: not found")
	ErrRemoteUnavailable = errors.New("repo: remote unavailable")
)

// DuplicateError rejects a record that repeats an existing one.
type DuplicateError struct {
	Kind       string
	ID         string
	ExistingID string
}

func (e *DuplicateError) Error() string {
	if e.ID == e.ExistingID {
		return fmt.Sprintf("repo: %s %s already exists", e.Kind, e.ID)
	}
	return fmt.Sprintf("repo: %s %s duplicates %s", e.Kind, e.ID, e.ExistingID)
}

// Remote is one remote collection. *remote.Collection and *fake.Collection
// both satisfy it.
type Remote[T entity.Entity] interface {
	List(ctx context.Context, userID string) ([]T, error)
	Create(ctx context.Context, userID string, v T) error
	Update(ctx context.Context, userID string, v T) error
	Delete(ctx context.Context, userID, id string) error
}

// Remotes wires each kind to its remote collection. A nil member keeps that
// kind local-only.
type Remotes struct {
	Profiles    Remote[entity.UserProfile]
	Settings    Remote[entity.UserSettings]
	Drinks      Remote[entity.Drink]
	Budgets     Remote[entity.Budget]
	Plans       Remote[entity.PreGamePlan]
	Assessments Remote[entity.ReadinessAssessment]
}

type Prober interface {
	Available(ctx context.Context) bool
}

type Config struct {
	Store   tabkeep.Store // required
	Codecs  entity.Codecs // required
	Remotes Remotes
	Probe   Prober // nil => never push
	Logger  tabkeep.Logger
	Clock   func() time.Time // nil => time.Now
}

// Repo groups the per-kind accessors of one store.
type Repo struct {
	Profiles    *Singleton[entity.UserProfile]
	Settings    *Singleton[entity.UserSettings]
	Assessments *Singleton[entity.ReadinessAssessment]
	Budgets     *Budgets
	Drinks      *List[entity.Drink]
	Plans       *List[entity.PreGamePlan]
	Tokens      *Tokens
	Account     *Account
}

// New builds the accessors. Drinks reject a re-submission of the same drink
// within DuplicateWindow.
func New(cfg Config) (*Repo, error) {
	if cfg.Store == nil {
		return nil, errors.New("repo: Store is required")
	}
	if cfg.Codecs.Drinks == nil {
		return nil, errors.New("repo: Codecs are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &env{
		store: cfg.Store,
		probe: cfg.Probe,
		log:   cfg.Logger,
		now:   func() time.Time { return clock().UTC().Truncate(time.Millisecond) },
	}
	if e.log == nil {
		e.log = tabkeep.NopLogger{}
	}

	cs, rs := cfg.Codecs, cfg.Remotes
	r := &Repo{
		Profiles:    newSingleton(e, entity.KindProfile, cs.Profile, rs.Profiles),
		Settings:    newSingleton(e, entity.KindSettings, cs.Settings, rs.Settings),
		Assessments: newSingleton(e, entity.KindAssessment, cs.Assessment, rs.Assessments),
		Budgets:     &Budgets{Singleton: newSingleton(e, entity.KindBudget, cs.Budget, rs.Budgets)},
		Drinks:      newList(e, entity.KindDrinks, cs.Drinks, rs.Drinks),
		Plans:       newList(e, entity.KindPlans, cs.Plans, rs.Plans),
		Tokens:      &Tokens{view: tabkeep.NewTyped(cfg.Store, cs.Token)},
	}
	r.Drinks.similar = sameDrink
	r.Drinks.prepare = func(d entity.Drink, now time.Time) entity.Drink {
		if d.ConsumedAt.IsZero() {
			d.ConsumedAt = now
		}
		return d
	}
	r.Account = &Account{env: e, purge: []purger{
		purgeFunc(entity.KindProfile, rs.Profiles),
		purgeFunc(entity.KindSettings, rs.Settings),
		purgeFunc(entity.KindDrinks, rs.Drinks),
		purgeFunc(entity.KindBudget, rs.Budgets),
		purgeFunc(entity.KindPlans, rs.Plans),
		purgeFunc(entity.KindAssessment, rs.Assessments),
	}}
	return r, nil
}

// env is what every accessor shares.
type env struct {
	store tabkeep.Store
	probe Prober
	log   tabkeep.Logger
	now   func() time.Time
}

func (e *env) online(ctx context.Context) bool {
	return e.probe != nil && e.probe.Available(ctx)
}

// push runs call when the remote is reachable. Failures are logged only; the
// ledger still holds the local write.
func (e *env) push(ctx context.Context, kind, op, id string, call func(context.Context) error) {
	if !e.online(ctx) {
		e.log.Debug("remote unreachable; write left for sync", tabkeep.Fields{"kind": kind, "op": op, "id": id})
		return
	}
	if err := call(ctx); err != nil {
		e.log.Warn("remote write failed; left for sync", tabkeep.Fields{"kind": kind, "op": op, "id": id, "err": err})
	}
}

func requireOwner(kind, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w %s: missing user id", entity.ErrInvalid, kind)
	}
	return nil
}
