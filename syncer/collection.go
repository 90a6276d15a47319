package syncer

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/codec"
	"github.com/unkn0wn-root/tabkeep/entity"
)

// Remote is the slice of the remote API the engine needs per collection.
type Remote[T entity.Entity] interface {
	List(ctx context.Context, userID string) ([]T, error)
	Create(ctx context.Context, userID string, v T) error
	Update(ctx context.Context, userID string, v T) error
}

// Record is what a synced entity must offer: identity, LWW timestamp, owner
// and self-validation.
type Record interface {
	entity.Entity
	Owner() string
	Validate() error
}

// Syncable is a registered collection. Build one with List or Single.
type Syncable interface {
	Name() string
	sync(ctx context.Context, e *Engine, userID string) (Stats, error)
}

type listCollection[T Record] struct {
	name   string
	codec  codec.Codec[[]T]
	remote Remote[T]
}

// List registers a collection stored locally as one []T per user under
// {name}_{userID} and exposed remotely as the resource name.
func List[T Record](name string, c codec.Codec[[]T], r Remote[T]) Syncable {
	return &listCollection[T]{name: name, codec: c, remote: r}
}

func (c *listCollection[T]) Name() string { return c.name }

func (c *listCollection[T]) sync(ctx context.Context, e *Engine, userID string) (Stats, error) {
	st := Stats{Collection: c.name}
	remote, err := c.remote.List(ctx, userID)
	if err != nil {
		e.listFailed(&st, err)
		return st, nil
	}

	remote = admit(e, &st, userID, remote)

	key := entity.Key(c.name, userID)
	var (
		plan  Plan[T]
		bound uint64
	)
	err = e.store.Update(ctx, key, func(cur []byte, ok bool) ([]byte, error) {
		bound = e.store.Ledger().Last(key)
		var local []T
		if ok {
			v, err := c.codec.Decode(cur)
			if err != nil {
				return nil, err
			}
			local = v
		}
		plan = Merge(local, remote)
		if !plan.Changed {
			return nil, tabkeep.ErrUnchanged
		}
		return c.codec.Encode(plan.Merged)
	}, tabkeep.SkipLedger())
	if err != nil {
		return st, fmt.Errorf("sync %s: %w", c.name, err)
	}
	st.Wrote = plan.Changed
	st.Pulled = plan.Pulled

	for _, v := range plan.Create {
		if err := c.remote.Create(ctx, userID, v); err != nil {
			e.uploadFailed(&st, v.EntityID(), err)
			continue
		}
		st.Created++
	}
	for _, v := range plan.Update {
		if err := c.remote.Update(ctx, userID, v); err != nil {
			e.uploadFailed(&st, v.EntityID(), err)
			continue
		}
		st.Updated++
	}
	if err := e.acknowledge(ctx, &st, key, bound); err != nil {
		return st, fmt.Errorf("sync %s: %w", c.name, err)
	}
	return st, nil
}

type singleCollection[T Record] struct {
	name   string
	codec  codec.Codec[T]
	remote Remote[T]
}

// Single registers a one-per-user aggregate reconciled as a whole. Concurrent
// edits of the same aggregate on two devices keep only the newer one.
func Single[T Record](name string, c codec.Codec[T], r Remote[T]) Syncable {
	return &singleCollection[T]{name: name, codec: c, remote: r}
}

func (c *singleCollection[T]) Name() string { return c.name }

func (c *singleCollection[T]) sync(ctx context.Context, e *Engine, userID string) (Stats, error) {
	st := Stats{Collection: c.name}
	remote, err := c.remote.List(ctx, userID)
	if err != nil {
		e.listFailed(&st, err)
		return st, nil
	}

	remote = admit(e, &st, userID, remote)

	key := entity.Key(c.name, userID)
	var (
		plan  SingletonPlan[T]
		bound uint64
	)
	err = e.store.Update(ctx, key, func(cur []byte, ok bool) ([]byte, error) {
		bound = e.store.Ledger().Last(key)
		var local T
		if ok {
			v, err := c.codec.Decode(cur)
			if err != nil {
				return nil, err
			}
			local = v
		}
		plan = MergeSingleton(local, ok, remote)
		if !plan.Changed {
			return nil, tabkeep.ErrUnchanged
		}
		return c.codec.Encode(plan.Value)
	}, tabkeep.SkipLedger())
	if err != nil {
		return st, fmt.Errorf("sync %s: %w", c.name, err)
	}
	st.Wrote = plan.Changed
	if plan.Changed {
		st.Pulled = 1
	}

	switch {
	case plan.Create:
		err = c.remote.Create(ctx, userID, plan.Value)
		if err == nil {
			st.Created++
		}
	case plan.Update:
		err = c.remote.Update(ctx, userID, plan.Value)
		if err == nil {
			st.Updated++
		}
	}
	if err != nil {
		e.uploadFailed(&st, plan.Value.EntityID(), err)
	}
	if err := e.acknowledge(ctx, &st, key, bound); err != nil {
		return st, fmt.Errorf("sync %s: %w", c.name, err)
	}
	return st, nil
}

// admit drops remote entities that fail validation or belong to another user,
// so one bad record cannot block the rest of the collection.
func admit[T Record](e *Engine, st *Stats, userID string, remote []T) []T {
	kept := make([]T, 0, len(remote))
	for _, v := range remote {
		err := v.Validate()
		if err == nil && v.Owner() != userID {
			err = fmt.Errorf("%w: owned by %q", entity.ErrInvalid, v.Owner())
		}
		if err != nil {
			e.rejected(st, v.EntityID(), err)
			continue
		}
		kept = append(kept, v)
	}
	return kept
}
