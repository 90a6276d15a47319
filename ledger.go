package tabkeep

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// PendingChange is one local write not yet confirmed by the remote.
type PendingChange struct {
	Key       string
	Value     []byte
	Timestamp time.Time
	// Seq orders changes within a process. It is assigned on Append and on
	// reload, and is not persisted.
	Seq uint64
}

// Ledger is the ordered queue of pending changes. The store appends on every
// successful write; the sync engine acknowledges after uploads succeed.
// A Ledger obtained from a Store persists itself on every mutation.
type Ledger struct {
	mu      sync.Mutex
	changes []PendingChange
	seq     uint64

	persist func(ctx context.Context, changes []PendingChange) error
	onError func(pending int, err error)
}

// NewLedger returns an in-memory ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Append records c. The in-memory entry is kept even when persisting fails.
func (l *Ledger) Append(ctx context.Context, c PendingChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	c.Seq = l.seq
	l.changes = append(l.changes, c)
	return l.save(ctx)
}

// restore installs reloaded changes, numbering them in order.
func (l *Ledger) restore(changes []PendingChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range changes {
		l.seq++
		changes[i].Seq = l.seq
	}
	l.changes = changes
}

// Last returns the Seq of the newest change for key, or 0 when none is
// pending. Read under the key's write lock it bounds exactly the changes
// committed so far.
func (l *Ledger) Last(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.changes) - 1; i >= 0; i-- {
		if l.changes[i].Key == key {
			return l.changes[i].Seq
		}
	}
	return 0
}

// Snapshot returns a copy safe to iterate while writes continue.
func (l *Ledger) Snapshot() []PendingChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingChange, len(l.changes))
	for i, c := range l.changes {
		c.Value = bytes.Clone(c.Value)
		out[i] = c
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

// Pending counts unacknowledged changes for key.
func (l *Ledger) Pending(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.changes {
		if c.Key == key {
			n++
		}
	}
	return n
}

// Acknowledge drops changes for key with Seq at or below through and reports
// how many were removed.
func (l *Ledger) Acknowledge(ctx context.Context, key string, through uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.changes[:0]
	removed := 0
	for _, c := range l.changes {
		if c.Key == key && c.Seq <= through {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	clear(l.changes[len(kept):])
	l.changes = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, l.save(ctx)
}

// Clear drops every change.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = nil
	return l.save(ctx)
}

// save must be called with l.mu held.
func (l *Ledger) save(ctx context.Context) error {
	if l.persist == nil {
		return nil
	}
	if err := l.persist(ctx, l.changes); err != nil {
		if l.onError != nil {
			l.onError(len(l.changes), err)
		}
		return &StorageError{Op: "ledger", Key: LedgerKey, Err: err}
	}
	return nil
}
