package tabkeep

import (
	"context"
	"fmt"

	c "github.com/unkn0wn-root/tabkeep/codec"
)

// Typed is a codec-backed view over a Store.
type Typed[V any] struct {
	s     Store
	codec c.Codec[V]
}

func NewTyped[V any](s Store, codec c.Codec[V]) Typed[V] {
	return Typed[V]{s: s, codec: codec}
}

// Get decodes the stored value. A value that fails to decode is reported as
// an error; it is not dropped.
func (t Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := t.s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, true, nil
}

func (t Typed[V]) Set(ctx context.Context, key string, v V) error {
	raw, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return t.s.Set(ctx, key, raw)
}

// Update decodes the current value, applies fn and stores the result under the
// key's write lock. fn may return ErrUnchanged.
func (t Typed[V]) Update(ctx context.Context, key string, fn func(cur V, ok bool) (V, error)) error {
	return t.s.Update(ctx, key, func(raw []byte, ok bool) ([]byte, error) {
		var cur V
		if ok {
			v, err := t.codec.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("decode %q: %w", key, err)
			}
			cur = v
		}
		next, err := fn(cur, ok)
		if err != nil {
			return nil, err
		}
		b, err := t.codec.Encode(next)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", key, err)
		}
		return b, nil
	})
}

func (t Typed[V]) Remove(ctx context.Context, key string) error { return t.s.Remove(ctx, key) }

// Store returns the underlying store.
func (t Typed[V]) Store() Store { return t.s }
