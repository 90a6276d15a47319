package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/entity"
)

// ResetKinds are the kinds cleared by Account.Reset. The auth token survives
// a data reset so the user stays signed in.
var ResetKinds = []string{
	entity.KindProfile,
	entity.KindSettings,
	entity.KindDrinks,
	entity.KindBudget,
	entity.KindPlans,
	entity.KindAssessment,
}

type purger struct {
	kind string
	run  func(ctx context.Context, userID string) error
}

func purgeFunc[T entity.Entity](kind string, r Remote[T]) purger {
	if r == nil {
		return purger{kind: kind}
	}
	return purger{kind: kind, run: func(ctx context.Context, userID string) error {
		vs, err := r.List(ctx, userID)
		if err != nil {
			return err
		}
		var errs []error
		for _, v := range vs {
			if err := r.Delete(ctx, userID, v.EntityID()); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", v.EntityID(), err))
			}
		}
		return errors.Join(errs...)
	}}
}

// Account covers operations spanning every kind of a user.
type Account struct {
	*env
	purge []purger
}

type snapshot struct {
	key string
	raw []byte
	ok  bool
}

// Reset removes the user's local data. It either removes every kind or
// restores what it already removed and returns the error.
func (a *Account) Reset(ctx context.Context, userID string) error {
	if err := requireOwner("account", userID); err != nil {
		return err
	}
	keys := make([]string, len(ResetKinds))
	for i, k := range ResetKinds {
		keys[i] = entity.Key(k, userID)
	}
	return a.removeAll(ctx, keys)
}

// Delete removes the user's data from the remote and then locally. A partial
// deletion is never hidden: an unreachable remote or any failed call is
// returned and local data is only removed once the remote side succeeded.
func (a *Account) Delete(ctx context.Context, userID string) error {
	if err := requireOwner("account", userID); err != nil {
		return err
	}
	if !a.online(ctx) {
		return ErrRemoteUnavailable
	}
	var errs []error
	for _, p := range a.purge {
		if p.run == nil {
			continue
		}
		if err := p.run(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.kind, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("remote account deletion incomplete; local data kept", tabkeep.Fields{"err": err})
		return fmt.Errorf("delete remote data: %w", err)
	}

	keys := entity.UserKeys(userID)
	if err := a.removeAll(ctx, keys); err != nil {
		a.log.Error("remote data deleted but local removal failed", tabkeep.Fields{"err": err})
		return fmt.Errorf("delete local data: %w", err)
	}
	a.log.Info("account deleted", tabkeep.Fields{"kinds": len(keys)})
	return nil
}

func (a *Account) removeAll(ctx context.Context, keys []string) error {
	saved := make([]snapshot, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := a.store.Get(ctx, k)
		var de *tabkeep.DecryptionError
		switch {
		case errors.As(err, &de):
			// already dropped by the store; nothing to restore
		case err != nil:
			return fmt.Errorf("read %s: %w", k, err)
		}
		saved = append(saved, snapshot{key: k, raw: raw, ok: ok})
	}

	for i, s := range saved {
		if err := a.store.Remove(ctx, s.key); err != nil {
			if rerr := a.restore(ctx, saved[:i]); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	return nil
}

func (a *Account) restore(ctx context.Context, removed []snapshot) error {
	var errs []error
	for _, s := range removed {
		if !s.ok {
			continue
		}
		if err := a.store.Set(ctx, s.key, s.raw); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", s.key, err))
		}
	}
	if len(errs) > 0 {
		a.log.Error("reset rollback incomplete", tabkeep.Fields{"failed": len(errs)})
	}
	return errors.Join(errs...)
}
