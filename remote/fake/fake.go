// Package fake is an in-memory stand-in for the remote API. Collection and
// Probe plug straight into the sync engine; Server speaks the REST contract
// over HTTP for client tests and offline demos.
package fake

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tabkeep/entity"
)

var (
	ErrConflict = errors.New("fake: already exists")
	ErrNotFound = errors.New("fake: not found")
)

// Collection keeps entities per user. Failure hooks must be set before use.
type Collection[T entity.Entity] struct {
	FailList   func(userID string) error
	FailCreate func(v T) error
	FailUpdate func(v T) error

	mu      sync.Mutex
	items   map[string]map[string]T
	creates int
	updates int
	deletes int
}

func NewCollection[T entity.Entity]() *Collection[T] {
	return &Collection[T]{items: make(map[string]map[string]T)}
}

// List returns the user's entities ordered by id.
func (c *Collection[T]) List(_ context.Context, userID string) ([]T, error) {
	if c.FailList != nil {
		if err := c.FailList(userID); err != nil {
			return nil, err
		}
	}
	return c.Items(userID), nil
}

func (c *Collection[T]) Create(_ context.Context, userID string, v T) error {
	if c.FailCreate != nil {
		if err := c.FailCreate(v); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[userID][v.EntityID()]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, v.EntityID())
	}
	c.put(userID, v)
	c.creates++
	return nil
}

func (c *Collection[T]) Update(_ context.Context, userID string, v T) error {
	if c.FailUpdate != nil {
		if err := c.FailUpdate(v); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[userID][v.EntityID()]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, v.EntityID())
	}
	c.put(userID, v)
	c.updates++
	return nil
}

func (c *Collection[T]) Delete(_ context.Context, userID, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[userID][id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.items[userID], id)
	c.deletes++
	return nil
}

// Seed stores v without counting it as a client write.
func (c *Collection[T]) Seed(userID string, vs ...T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vs {
		c.put(userID, v)
	}
}

func (c *Collection[T]) Items(userID string) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(c.items[userID]))
	for _, v := range c.items[userID] {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(a.EntityID(), b.EntityID()) })
	return out
}

// Writes reports client creates, updates and deletes so far.
func (c *Collection[T]) Writes() (creates, updates, deletes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates, c.updates, c.deletes
}

func (c *Collection[T]) put(userID string, v T) {
	m := c.items[userID]
	if m == nil {
		m = make(map[string]T)
		c.items[userID] = m
	}
	m[v.EntityID()] = v
}

// Probe reports a settable availability.
type Probe struct {
	up    atomic.Bool
	calls atomic.Int64
}

func NewProbe(up bool) *Probe {
	p := &Probe{}
	p.up.Store(up)
	return p
}

func (p *Probe) Set(up bool) { p.up.Store(up) }

func (p *Probe) Available(context.Context) bool {
	p.calls.Add(1)
	return p.up.Load()
}

func (p *Probe) Calls() int64 { return p.calls.Load() }
