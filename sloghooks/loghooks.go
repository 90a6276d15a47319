// Package sloghooks logs tabkeep hook events through log/slog.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
}

var _ tabkeep.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Redact(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tabkeep.self_heal", "key", h.redact(storageKey), "reason", reason)
}

func (h *Hooks) DecryptDropped(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tabkeep.decrypt_dropped", "key", h.redact(key), "err", err)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tabkeep.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tabkeep.gen_snapshot_error", "key", h.redact(storageKey), "err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tabkeep.gen_bump_error", "key", h.redact(storageKey), "err", err)
}

func (h *Hooks) LedgerPersistError(pending int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tabkeep.ledger_persist_error", "pending", pending, "err", err)
}

func (h *Hooks) CacheCleared(reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("tabkeep.cache_cleared", "reason", reason)
}

func (h *Hooks) SyncItemFailed(collection, id string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tabkeep.sync_item_failed", "collection", collection, "id", id, "err", err)
}
