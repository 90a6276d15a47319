package tabkeep

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tabkeep/backend"
	gen "github.com/unkn0wn-root/tabkeep/genstore"
	"github.com/unkn0wn-root/tabkeep/internal/util"
	"github.com/unkn0wn-root/tabkeep/internal/wire"
	pr "github.com/unkn0wn-root/tabkeep/provider"
	memprov "github.com/unkn0wn-root/tabkeep/provider/memory"
)

const cachePrefix = "kv:"

type store struct {
	be     backend.Backend
	cache  pr.Provider
	gen    gen.GenStore
	ownGen bool

	keys      KeySource
	encrypted []string
	localOnly []string
	ttl       time.Duration
	now       func() time.Time

	log   Logger
	hooks Hooks

	locks  util.Locks
	ledger *Ledger

	sealMu  sync.Mutex
	sealHex string
	sealer  *Sealer

	closed atomic.Bool
}

var _ Store = (*store)(nil)

func newStore(ctx context.Context, opts Options) (*store, error) {
	s := &store{
		be:        opts.Backend,
		cache:     opts.Cache,
		gen:       opts.Gen,
		keys:      opts.Keys,
		encrypted: slices.Clone(opts.EncryptedKeys),
		localOnly: slices.Clone(opts.LocalOnlyKeys),
		ttl:       coalesce(opts.TTL, DefaultTTL),
		now:       opts.Clock,
		log:       opts.Logger,
		hooks:     opts.Hooks,
	}
	if s.encrypted == nil {
		s.encrypted = slices.Clone(DefaultEncryptedKeys)
	}
	if s.localOnly == nil {
		s.localOnly = slices.Clone(DefaultLocalOnlyKeys)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	if s.cache == nil {
		s.cache = memprov.New()
	}
	if s.gen == nil {
		s.gen = gen.NewLocal(gen.LocalConfig{
			CleanupInterval: time.Hour,
			Retention:       coalesce(opts.GenRetention, 24*time.Hour),
			Now:             s.now,
		})
		s.ownGen = true
	}

	s.ledger = &Ledger{persist: s.persistLedger, onError: s.hooks.LedgerPersistError}
	changes, err := s.loadLedger(ctx)
	if err != nil {
		if s.ownGen {
			_ = s.gen.Close(ctx)
		}
		return nil, err
	}
	s.ledger.restore(changes)
	if len(changes) > 0 {
		s.log.Info("pending changes restored", Fields{"count": len(changes)})
	}
	return s, nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(key); err != nil {
		return nil, false, err
	}
	ck := cachePrefix + key
	if v, ok := s.fromCache(ctx, ck); ok {
		return v, true, nil
	}

	obs, snapErr := s.gen.Snapshot(ctx, ck)
	if snapErr != nil {
		s.hooks.GenSnapshotError(ck, snapErr)
		s.log.Warn("gen snapshot failed; skipping cache fill", Fields{"key": util.Redact(ck), "err": snapErr})
	}

	raw, ok, err := s.be.Get(ctx, key)
	if err != nil {
		return nil, false, &StorageError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		return nil, false, nil
	}

	plain, err := s.open(ctx, key, raw)
	if err != nil {
		var de *DecryptionError
		if errors.As(err, &de) {
			s.drop(ctx, key, de)
		}
		return nil, false, err
	}

	if snapErr == nil {
		s.refill(ctx, ck, obs, plain)
	}
	return plain, true, nil
}

func (s *store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	mu := s.locks.For(key)
	mu.Lock()
	defer mu.Unlock()
	return s.write(ctx, key, value, true)
}

func (s *store) Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error), opts ...WriteOption) error {
	if err := s.check(key); err != nil {
		return err
	}
	mu := s.locks.For(key)
	mu.Lock()
	defer mu.Unlock()

	cur, ok, err := s.Get(ctx, key)
	var de *DecryptionError
	if errors.As(err, &de) {
		// already dropped and logged; rebuild from scratch
		cur, ok, err = nil, false, nil
	}
	if err != nil {
		return err
	}
	next, err := fn(cur, ok)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	var wo writeOptions
	for _, o := range opts {
		o(&wo)
	}
	return s.write(ctx, key, next, !wo.skipLedger)
}

func (s *store) Remove(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	mu := s.locks.For(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.be.Remove(ctx, key); err != nil {
		return &StorageError{Op: "remove", Key: key, Err: err}
	}
	s.invalidate(ctx, cachePrefix+key)
	// nothing left to upload for a removed key
	if _, err := s.ledger.Acknowledge(ctx, key, s.ledger.Last(key)); err != nil {
		return err
	}
	return nil
}

func (s *store) Clear(ctx context.Context) error {
	ks, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range ks {
		if err := s.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.log.Warn("cache clear failed", Fields{"err": err})
	} else {
		s.hooks.CacheCleared("clear")
	}
	if err := s.ledger.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *store) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	all, err := s.be.Keys(ctx)
	if err != nil {
		return nil, &StorageError{Op: "keys", Err: err}
	}
	out := all[:0]
	for _, k := range all {
		if !strings.HasPrefix(k, ReservedPrefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *store) ClearCache(ctx context.Context, reason string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	s.hooks.CacheCleared(reason)
	s.log.Info("cache cleared", Fields{"reason": reason})
	return nil
}

func (s *store) Ledger() *Ledger { return s.ledger }

// Close releases the cache tier, owned generations and the backend.
func (s *store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	var errs []error
	if s.ownGen {
		errs = append(errs, s.gen.Close(ctx))
	}
	errs = append(errs, s.cache.Close(ctx), s.be.Close(ctx))
	return errors.Join(errs...)
}

func (s *store) check(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return errors.New("tabkeep: empty key")
	}
	if strings.HasPrefix(key, ReservedPrefix) {
		return ErrReservedKey
	}
	return nil
}

// write must be called with the key's lock held.
func (s *store) write(ctx context.Context, key string, value []byte, queue bool) error {
	stored, err := s.seal(ctx, key, value)
	if err != nil {
		return err
	}
	if err := s.be.Set(ctx, key, stored); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	ck := cachePrefix + key
	g, err := s.gen.Bump(ctx, ck)
	if err != nil {
		s.hooks.GenBumpError(ck, err)
		s.log.Warn("gen bump failed; dropping cached entry", Fields{"key": util.Redact(ck), "err": err})
		if derr := s.cache.Del(ctx, ck); derr != nil {
			s.log.Error("stale cache entry may survive", Fields{"key": util.Redact(ck), "err": derr})
		}
	} else {
		s.put(ctx, ck, g, value)
	}

	if !queue || matchBase(s.localOnly, key) {
		return nil
	}
	return s.ledger.Append(ctx, PendingChange{
		Key:       key,
		Value:     bytes.Clone(value),
		Timestamp: s.now(),
	})
}

func (s *store) fromCache(ctx context.Context, ck string) ([]byte, bool) {
	raw, ok, err := s.cache.Get(ctx, ck)
	if err != nil {
		s.log.Debug("cache get failed", Fields{"key": util.Redact(ck), "err": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = s.cache.Del(ctx, ck)
		s.hooks.SelfHeal(ck, "corrupt")
		return nil, false
	}
	if s.now().UnixNano() >= e.ExpiresAt {
		_ = s.cache.Del(ctx, ck)
		return nil, false
	}
	cur, err := s.gen.Snapshot(ctx, ck)
	if err != nil {
		s.hooks.GenSnapshotError(ck, err)
		return nil, false
	}
	if cur != e.Gen {
		_ = s.cache.Del(ctx, ck)
		s.hooks.SelfHeal(ck, "gen_mismatch")
		return nil, false
	}
	return bytes.Clone(e.Payload), true
}

// refill caches a backend read only if no write happened since obs was taken.
func (s *store) refill(ctx context.Context, ck string, obs uint64, plain []byte) {
	cur, err := s.gen.Snapshot(ctx, ck)
	if err != nil || cur != obs {
		return
	}
	s.put(ctx, ck, obs, plain)
}

func (s *store) put(ctx context.Context, ck string, g uint64, plain []byte) {
	b := wire.EncodeEntry(wire.Entry{
		Gen:       g,
		ExpiresAt: s.now().Add(s.ttl).UnixNano(),
		Payload:   plain,
	})
	ok, err := s.cache.Set(ctx, ck, b, int64(len(b)), s.ttl)
	if err != nil {
		s.log.Debug("cache set failed", Fields{"key": util.Redact(ck), "err": err})
		return
	}
	if !ok {
		s.hooks.ProviderSetRejected(ck)
	}
}

func (s *store) invalidate(ctx context.Context, ck string) {
	if _, err := s.gen.Bump(ctx, ck); err != nil {
		s.hooks.GenBumpError(ck, err)
	}
	if err := s.cache.Del(ctx, ck); err != nil {
		s.log.Warn("cache delete failed", Fields{"key": util.Redact(ck), "err": err})
	}
}

// drop removes a value that no longer decrypts under the current key.
func (s *store) drop(ctx context.Context, key string, de *DecryptionError) {
	s.hooks.DecryptDropped(key, de.Err)
	s.log.Warn("undecryptable value dropped", Fields{"key": util.Redact(key), "err": de.Err})
	if err := s.be.Remove(ctx, key); err != nil {
		s.log.Error("drop undecryptable value failed", Fields{"key": util.Redact(key), "err": err})
	}
	s.invalidate(ctx, cachePrefix+key)
}

func (s *store) isEncrypted(key string) bool { return matchBase(s.encrypted, key) }

// matchBase reports whether key is one of bases or a per-user key of one.
func matchBase(bases []string, key string) bool {
	for _, base := range bases {
		if key == base || strings.HasPrefix(key, base+"_") {
			return true
		}
	}
	return false
}

func (s *store) seal(ctx context.Context, key string, plain []byte) ([]byte, error) {
	if !s.isEncrypted(key) {
		return plain, nil
	}
	sl, err := s.sealerFor(ctx)
	if err != nil {
		return nil, err
	}
	return sl.Seal(plain, []byte(key))
}

// open returns *EncryptionError when the key is unavailable (entry kept) and
// *DecryptionError when the ciphertext does not open (entry must be dropped).
func (s *store) open(ctx context.Context, key string, stored []byte) ([]byte, error) {
	if !s.isEncrypted(key) {
		return stored, nil
	}
	sl, err := s.sealerFor(ctx)
	if err != nil {
		return nil, err
	}
	plain, err := sl.Open(stored, []byte(key))
	if err != nil {
		return nil, &DecryptionError{Key: key, Err: err}
	}
	return plain, nil
}

func (s *store) sealerFor(ctx context.Context) (*Sealer, error) {
	if s.keys == nil {
		return nil, &EncryptionError{Op: "key", Err: errors.New("no key source configured")}
	}
	hexKey, err := s.keys.GetKey(ctx)
	if err != nil {
		return nil, &EncryptionError{Op: "key", Err: err}
	}

	s.sealMu.Lock()
	defer s.sealMu.Unlock()
	if s.sealer != nil && s.sealHex == hexKey {
		return s.sealer, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, &EncryptionError{Op: "key", Err: err}
	}
	sl, err := NewSealer(raw)
	if err != nil {
		return nil, err
	}
	s.sealer, s.sealHex = sl, hexKey
	return sl, nil
}

func (s *store) persistLedger(ctx context.Context, changes []PendingChange) error {
	recs := make([]wire.Record, len(changes))
	for i, c := range changes {
		recs[i] = wire.Record{Key: c.Key, Stamp: c.Timestamp.UnixNano(), Payload: c.Value}
	}
	b, err := wire.EncodeLedger(recs)
	if err != nil {
		return err
	}
	if s.keys != nil {
		sl, err := s.sealerFor(ctx)
		if err != nil {
			return err
		}
		if b, err = sl.Seal(b, []byte(LedgerKey)); err != nil {
			return err
		}
	}
	return s.be.Set(ctx, LedgerKey, b)
}

// loadLedger fails closed when the ledger is sealed and the key is missing.
// An unreadable ledger is logged and replaced: the values it tracked are
// still in the store and get reconciled by the next sync.
func (s *store) loadLedger(ctx context.Context) ([]PendingChange, error) {
	raw, ok, err := s.be.Get(ctx, LedgerKey)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: LedgerKey, Err: err}
	}
	if !ok {
		return nil, nil
	}
	if s.keys != nil {
		sl, err := s.sealerFor(ctx)
		if err != nil {
			return nil, err
		}
		plain, err := sl.Open(raw, []byte(LedgerKey))
		if err != nil {
			s.hooks.DecryptDropped(LedgerKey, err)
			s.log.Error("pending-change ledger unreadable; starting empty", Fields{"err": err})
			return nil, nil
		}
		raw = plain
	}
	recs, err := wire.DecodeLedger(raw)
	if err != nil {
		s.hooks.SelfHeal(LedgerKey, "corrupt")
		s.log.Error("pending-change ledger corrupt; starting empty", Fields{"err": err})
		return nil, nil
	}
	out := make([]PendingChange, len(recs))
	for i, r := range recs {
		out[i] = PendingChange{Key: r.Key, Value: r.Payload, Timestamp: time.Unix(0, r.Stamp).UTC()}
	}
	return out, nil
}
