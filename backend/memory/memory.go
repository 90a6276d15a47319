package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/tabkeep/backend"
)

// Backend keeps values in process memory. Nothing survives a restart, so it
// is meant for tests and throwaway sessions.
type Backend struct {
	mu     sync.RWMutex
	m      map[string][]byte
	closed bool

	// FailOn, when set, is consulted before every operation; a non-nil
	// return value is returned instead of touching the map.
	FailOn func(op, key string) error
}

var _ backend.Backend = (*Backend)(nil)

func New() *Backend { return &Backend{m: make(map[string][]byte)} }

func (b *Backend) fail(op, key string) error {
	if b.FailOn != nil {
		return b.FailOn(op, key)
	}
	return nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := b.fail("get", key); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, backend.ErrClosed
	}
	v, ok := b.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	if err := b.fail("set", key); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	b.m[key] = cp
	return nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	if err := b.fail("remove", key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	delete(b.m, key)
	return nil
}

func (b *Backend) Clear(_ context.Context) error {
	if err := b.fail("clear", ""); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	b.m = make(map[string][]byte)
	return nil
}

func (b *Backend) Keys(_ context.Context) ([]string, error) {
	if err := b.fail("keys", ""); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, backend.ErrClosed
	}
	out := make([]string, 0, len(b.m))
	for k := range b.m {
		out = append(out, k)
	}
	return out, nil
}

func (b *Backend) Close(_ context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Raw returns the stored bytes without copying semantics guarantees. Tests use
// it to inspect or tamper with what actually hit the medium.
func (b *Backend) Raw(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	return v, ok
}

// Put writes bytes directly, bypassing FailOn.
func (b *Backend) Put(key string, value []byte) {
	b.mu.Lock()
	b.m[key] = value
	b.mu.Unlock()
}
