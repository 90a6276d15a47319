package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/codec"
	"github.com/unkn0wn-root/tabkeep/entity"
)

// Singleton is a kind with at most one record per user.
type Singleton[T entity.Record[T]] struct {
	*env
	kind   string
	view   tabkeep.Typed[T]
	remote Remote[T]
}

func newSingleton[T entity.Record[T]](e *env, kind string, c codec.Codec[T], r Remote[T]) *Singleton[T] {
	return &Singleton[T]{env: e, kind: kind, view: tabkeep.NewTyped(e.store, c), remote: r}
}

func (s *Singleton[T]) Get(ctx context.Context, userID string) (T, bool, error) {
	return s.view.Get(ctx, entity.Key(s.kind, userID))
}

// Save stores v as the user's record and returns it stamped. An empty id
// reuses the stored record's id or gets a fresh one.
func (s *Singleton[T]) Save(ctx context.Context, v T) (T, error) {
	if err := requireOwner(s.kind, v.Owner()); err != nil {
		return v, err
	}
	var existed bool
	err := s.view.Update(ctx, entity.Key(s.kind, v.Owner()), func(cur T, ok bool) (T, error) {
		if v.EntityID() == "" {
			if ok {
				v = v.WithID(cur.EntityID())
			} else {
				v = v.WithID(entity.NewID())
			}
		}
		existed = ok && cur.EntityID() == v.EntityID()
		v = v.Touched(s.now())
		return v, nil
	})
	if err != nil {
		return v, err
	}
	if s.remote != nil {
		s.push(ctx, s.kind, "save", v.EntityID(), func(ctx context.Context) error {
			if existed {
				return s.remote.Update(ctx, v.Owner(), v)
			}
			return s.remote.Create(ctx, v.Owner(), v)
		})
	}
	return v, nil
}

// Remove deletes the user's record. Removing nothing is not an error.
func (s *Singleton[T]) Remove(ctx context.Context, userID string) error {
	key := entity.Key(s.kind, userID)
	cur, ok, err := s.view.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.view.Remove(ctx, key); err != nil {
		return err
	}
	if ok && s.remote != nil {
		s.push(ctx, s.kind, "delete", cur.EntityID(), func(ctx context.Context) error {
			return s.remote.Delete(ctx, userID, cur.EntityID())
		})
	}
	return nil
}

// List is a kind with many records per user, stored as one value.
type List[T entity.Record[T]] struct {
	*env
	kind   string
	view   tabkeep.Typed[[]T]
	remote Remote[T]

	similar func(existing, v T) bool
	prepare func(v T, now time.Time) T
}

func newList[T entity.Record[T]](e *env, kind string, c codec.Codec[[]T], r Remote[T]) *List[T] {
	return &List[T]{env: e, kind: kind, view: tabkeep.NewTyped(e.store, c), remote: r}
}

func (l *List[T]) List(ctx context.Context, userID string) ([]T, error) {
	vs, _, err := l.view.Get(ctx, entity.Key(l.kind, userID))
	return vs, err
}

func (l *List[T]) Get(ctx context.Context, userID, id string) (T, bool, error) {
	var zero T
	vs, err := l.List(ctx, userID)
	if err != nil {
		return zero, false, err
	}
	if i := index(vs, id); i >= 0 {
		return vs[i], true, nil
	}
	return zero, false, nil
}

// Add appends v and returns it stamped. A repeated id, or a record the kind
// considers a re-submission of an existing one, is a *DuplicateError.
func (l *List[T]) Add(ctx context.Context, v T) (T, error) {
	if err := requireOwner(l.kind, v.Owner()); err != nil {
		return v, err
	}
	if v.EntityID() == "" {
		v = v.WithID(entity.NewID())
	}
	now := l.now()
	v = v.Touched(now)
	if l.prepare != nil {
		v = l.prepare(v, now)
	}
	err := l.view.Update(ctx, entity.Key(l.kind, v.Owner()), func(cur []T, _ bool) ([]T, error) {
		for _, x := range cur {
			if x.EntityID() == v.EntityID() || (l.similar != nil && l.similar(x, v)) {
				return nil, &DuplicateError{Kind: l.kind, ID: v.EntityID(), ExistingID: x.EntityID()}
			}
		}
		return append(cur, v), nil
	})
	if err != nil {
		return v, err
	}
	if l.remote != nil {
		l.push(ctx, l.kind, "create", v.EntityID(), func(ctx context.Context) error {
			return l.remote.Create(ctx, v.Owner(), v)
		})
	}
	return v, nil
}

// Update replaces the record with v's id and returns it stamped.
func (l *List[T]) Update(ctx context.Context, v T) (T, error) {
	if err := requireOwner(l.kind, v.Owner()); err != nil {
		return v, err
	}
	v = v.Touched(l.now())
	err := l.view.Update(ctx, entity.Key(l.kind, v.Owner()), func(cur []T, _ bool) ([]T, error) {
		i := index(cur, v.EntityID())
		if i < 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, l.kind, v.EntityID())
		}
		out := append([]T(nil), cur...)
		out[i] = v
		return out, nil
	})
	if err != nil {
		return v, err
	}
	if l.remote != nil {
		l.push(ctx, l.kind, "update", v.EntityID(), func(ctx context.Context) error {
			return l.remote.Update(ctx, v.Owner(), v)
		})
	}
	return v, nil
}

func (l *List[T]) Remove(ctx context.Context, userID, id string) error {
	err := l.view.Update(ctx, entity.Key(l.kind, userID), func(cur []T, _ bool) ([]T, error) {
		i := index(cur, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, l.kind, id)
		}
		out := make([]T, 0, len(cur)-1)
		out = append(out, cur[:i]...)
		return append(out, cur[i+1:]...), nil
	})
	if err != nil {
		return err
	}
	if l.remote != nil {
		l.push(ctx, l.kind, "delete", id, func(ctx context.Context) error {
			return l.remote.Delete(ctx, userID, id)
		})
	}
	return nil
}

func index[T entity.Entity](vs []T, id string) int {
	for i, v := range vs {
		if v.EntityID() == id {
			return i
		}
	}
	return -1
}
