package tabkeep

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/tabkeep/backend/memory"
	c "github.com/unkn0wn-root/tabkeep/codec"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeKeys struct {
	mu  sync.Mutex
	key string
	err error
}

func (k *fakeKeys) GetKey(context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key, k.err
}

func (k *fakeKeys) fail(err error) {
	k.mu.Lock()
	k.err = err
	k.mu.Unlock()
}

type fixture struct {
	be    *memory.Backend
	clock *fakeClock
	keys  *fakeKeys
	store Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{be: memory.New(), clock: newClock(), keys: &fakeKeys{key: testKeyHex}}
	f.store = f.open(t)
	return f
}

// open builds another store over the same backend, as a restart would.
func (f *fixture) open(t *testing.T) Store {
	t.Helper()
	s, err := New(context.Background(), Options{
		Backend: f.be,
		Keys:    f.keys,
		Clock:   f.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		impl := s.(*store)
		_ = impl.gen.Close(context.Background())
	})
	return s
}

func mustGet(t *testing.T, s Store, key string) []byte {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Get(%s): ok=%v err=%v", key, ok, err)
	}
	return v
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, ok, err := f.store.Get(ctx, "drinks_u1"); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	val := []byte(`[{"id":"d1","name":"IPA"}]`)
	if err := f.store.Set(ctx, "drinks_u1", val); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mustGet(t, f.store, "drinks_u1"); !bytes.Equal(got, val) {
		t.Fatalf("got %s want %s", got, val)
	}
	// drinks are not in the encrypted set
	if raw, _ := f.be.Raw("drinks_u1"); !bytes.Equal(raw, val) {
		t.Fatalf("backend holds %q", raw)
	}

	// mutating the returned slice must not leak into the cache
	got := mustGet(t, f.store, "drinks_u1")
	got[0] = 'X'
	if again := mustGet(t, f.store, "drinks_u1"); !bytes.Equal(again, val) {
		t.Fatalf("cache aliased caller slice: %s", again)
	}
}

func TestTTLBoundaryReadsBackend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var reads int
	f.be.FailOn = func(op, key string) error {
		if op == "get" && key == "budget_u1" {
			reads++
		}
		return nil
	}

	if err := f.store.Set(ctx, "budget_u1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	f.clock.Add(DefaultTTL - time.Nanosecond)
	mustGet(t, f.store, "budget_u1")
	if reads != 0 {
		t.Fatalf("read before expiry hit backend %d times", reads)
	}

	f.clock.Add(time.Nanosecond)
	if got := mustGet(t, f.store, "budget_u1"); string(got) != "v1" {
		t.Fatalf("got %q", got)
	}
	if reads != 1 {
		t.Fatalf("expired read: backend reads %d want 1", reads)
	}

	// refilled with a fresh TTL
	mustGet(t, f.store, "budget_u1")
	if reads != 1 {
		t.Fatalf("refill not cached: backend reads %d", reads)
	}
}

func TestEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	plain := []byte(`{"displayName":"Sam"}`)
	if err := f.store.Set(ctx, "user_profile_u1", plain); err != nil {
		t.Fatal(err)
	}
	raw, ok := f.be.Raw("user_profile_u1")
	if !ok || bytes.Contains(raw, []byte("Sam")) {
		t.Fatalf("value stored in plaintext: %q", raw)
	}
	if err := f.store.ClearCache(ctx, "manual"); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, f.store, "user_profile_u1"); !bytes.Equal(got, plain) {
		t.Fatalf("got %s", got)
	}

	// the base key itself and prefixed keys are sealed, lookalikes are not
	_ = f.store.Set(ctx, "auth_token", []byte("tok"))
	_ = f.store.Set(ctx, "auth_tokenish", []byte("tok"))
	if raw, _ := f.be.Raw("auth_token"); bytes.Equal(raw, []byte("tok")) {
		t.Fatal("auth_token not sealed")
	}
	if raw, _ := f.be.Raw("auth_tokenish"); !bytes.Equal(raw, []byte("tok")) {
		t.Fatal("auth_tokenish sealed")
	}
}

func TestTamperedValueDroppedWithWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.store.Set(ctx, "readiness_assessment_u1", []byte(`{"score":7}`)); err != nil {
		t.Fatal(err)
	}
	raw, _ := f.be.Raw("readiness_assessment_u1")
	raw[len(raw)-1] ^= 0xFF
	f.be.Put("readiness_assessment_u1", raw)
	_ = f.store.ClearCache(ctx, "manual")

	v, ok, err := f.store.Get(ctx, "readiness_assessment_u1")
	var de *DecryptionError
	if !errors.As(err, &de) || ok || v != nil {
		t.Fatalf("want DecryptionError and no value, got v=%q ok=%v err=%v", v, ok, err)
	}
	var ee *EncryptionError
	if !errors.As(err, &ee) {
		t.Fatalf("DecryptionError should unwrap to EncryptionError: %v", err)
	}
	if _, ok := f.be.Raw("readiness_assessment_u1"); ok {
		t.Fatal("corrupted entry kept in backend")
	}
	if _, ok, err := f.store.Get(ctx, "readiness_assessment_u1"); ok || err != nil {
		t.Fatalf("after drop: ok=%v err=%v", ok, err)
	}
}

func TestValueMovedBetweenKeysFailsToOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.store.Set(ctx, "auth_token_u1", []byte("secret-1"))
	raw, _ := f.be.Raw("auth_token_u1")
	f.be.Put("auth_token_u2", raw)

	if _, _, err := f.store.Get(ctx, "auth_token_u2"); err == nil {
		t.Fatal("ciphertext opened under a different key")
	}
}

func TestMissingKeyFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.store.Set(ctx, "auth_token_u1", []byte("tok")); err != nil {
		t.Fatal(err)
	}
	_ = f.store.ClearCache(ctx, "manual")
	f.keys.fail(errors.New("keyring locked"))

	var ee *EncryptionError
	if _, _, err := f.store.Get(ctx, "auth_token_u1"); !errors.As(err, &ee) {
		t.Fatalf("Get: want EncryptionError, got %v", err)
	}
	if _, ok := f.be.Raw("auth_token_u1"); !ok {
		t.Fatal("entry dropped while key was merely unavailable")
	}
	if err := f.store.Set(ctx, "auth_token_u2", []byte("tok")); !errors.As(err, &ee) {
		t.Fatalf("Set: want EncryptionError, got %v", err)
	}
	if _, ok := f.be.Raw("auth_token_u2"); ok {
		t.Fatal("plaintext fallback written")
	}
}

func TestNoKeySourceRejectsEncryptedKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Options{Backend: memory.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)

	var ee *EncryptionError
	if err := s.Set(ctx, "user_profile_u1", []byte("{}")); !errors.As(err, &ee) {
		t.Fatalf("want EncryptionError, got %v", err)
	}
	if err := s.Set(ctx, "drinks_u1", []byte("[]")); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.store.Set(ctx, "drinks_u1", []byte("a"))
	f.clock.Add(time.Second)
	_ = f.store.Set(ctx, "budget_u1", []byte("b"))
	f.clock.Add(time.Second)
	_ = f.store.Set(ctx, "drinks_u1", []byte("c"))

	l := f.store.Ledger()
	if l.Len() != 3 || l.Pending("drinks_u1") != 2 {
		t.Fatalf("ledger: len=%d drinks=%d", l.Len(), l.Pending("drinks_u1"))
	}
	raw, _ := f.be.Raw(LedgerKey)
	if bytes.Contains(raw, []byte("drinks_u1")) {
		t.Fatal("ledger persisted in plaintext")
	}

	restarted := f.open(t)
	got := restarted.Ledger().Snapshot()
	want := l.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("restored %d changes want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key != want[i].Key || !bytes.Equal(got[i].Value, want[i].Value) || !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Fatalf("change %d: got %+v want %+v", i, got[i], want[i])
		}
	}

	// ack the first drinks write only
	n, err := restarted.Ledger().Acknowledge(ctx, "drinks_u1", got[0].Seq)
	if err != nil || n != 1 {
		t.Fatalf("Acknowledge: n=%d err=%v", n, err)
	}
	again := f.open(t)
	if again.Ledger().Len() != 2 || again.Ledger().Pending("drinks_u1") != 1 {
		t.Fatalf("ack not persisted: %+v", again.Ledger().Snapshot())
	}
}

func TestSealedLedgerNeedsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.store.Set(ctx, "drinks_u1", []byte("a"))

	f.keys.fail(errors.New("no key"))
	_, err := New(ctx, Options{Backend: f.be, Keys: f.keys, Clock: f.clock.Now})
	var ee *EncryptionError
	if !errors.As(err, &ee) {
		t.Fatalf("want EncryptionError, got %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.store.Set(ctx, "drinks_u1", []byte("a"))

	snap := f.store.Ledger().Snapshot()
	snap[0].Value[0] = 'Z'
	_ = f.store.Set(ctx, "drinks_u1", []byte("b"))

	if len(snap) != 1 {
		t.Fatalf("snapshot grew to %d", len(snap))
	}
	if v := f.store.Ledger().Snapshot()[0].Value; string(v) != "a" {
		t.Fatalf("ledger mutated through snapshot: %q", v)
	}
}

func TestUpdateUnchangedSkipsWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.store.Set(ctx, "drinks_u1", []byte("a"))

	var sets int
	f.be.FailOn = func(op, key string) error {
		if op == "set" {
			sets++
		}
		return nil
	}
	err := f.store.Update(ctx, "drinks_u1", func(cur []byte, ok bool) ([]byte, error) {
		if !ok || string(cur) != "a" {
			t.Fatalf("Update saw cur=%q ok=%v", cur, ok)
		}
		return nil, ErrUnchanged
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if sets != 0 || f.store.Ledger().Len() != 1 {
		t.Fatalf("unchanged update wrote: sets=%d ledger=%d", sets, f.store.Ledger().Len())
	}

	err = f.store.Update(ctx, "drinks_u1", func(cur []byte, _ bool) ([]byte, error) {
		return append(cur, 'b'), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, f.store, "drinks_u1"); string(got) != "ab" {
		t.Fatalf("got %q", got)
	}

	boom := errors.New("boom")
	if err := f.store.Update(ctx, "drinks_u1", func([]byte, bool) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("callback error not returned: %v", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.store.Update(ctx, "counter", func(cur []byte, _ bool) ([]byte, error) {
				return append(cur, 'x'), nil
			})
		}()
	}
	wg.Wait()
	if got := mustGet(t, f.store, "counter"); len(got) != 20 {
		t.Fatalf("lost updates: len=%d", len(got))
	}
}

func TestStorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.store.Set(ctx, "drinks_u1", []byte("v1"))

	down := errors.New("disk full")
	f.be.FailOn = func(op, _ string) error {
		if op == "set" || op == "remove" {
			return down
		}
		return nil
	}

	var se *StorageError
	err := f.store.Set(ctx, "drinks_u1", []byte("v2"))
	if !errors.As(err, &se) || se.Op != "set" || se.Key != "drinks_u1" || !errors.Is(err, down) {
		t.Fatalf("Set: %v", err)
	}
	if got := mustGet(t, f.store, "drinks_u1"); string(got) != "v1" {
		t.Fatalf("cache diverged from backend after failed write: %q", got)
	}
	if err := f.store.Remove(ctx, "drinks_u1"); !errors.As(err, &se) || se.Op != "remove" {
		t.Fatalf("Remove: %v", err)
	}
	if f.store.Ledger().Len() != 1 {
		t.Fatalf("failed write reached the ledger: %d", f.store.Ledger().Len())
	}

	f.be.FailOn = func(op, _ string) error {
		if op == "get" {
			return down
		}
		return nil
	}
	_ = f.store.ClearCache(ctx, "manual")
	if _, _, err := f.store.Get(ctx, "drinks_u1"); !errors.As(err, &se) || se.Op != "get" {
		t.Fatalf("Get: %v", err)
	}
}

func TestRefillLosesToConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.store.(*store)

	_ = s.Set(ctx, "drinks_u1", []byte("old"))
	ck := cachePrefix + "drinks_u1"
	obs, _ := s.gen.Snapshot(ctx, ck)

	// a reader that loaded "old" races a writer
	_ = s.Set(ctx, "drinks_u1", []byte("new"))
	s.refill(ctx, ck, obs, []byte("old"))

	if got := mustGet(t, s, "drinks_u1"); string(got) != "new" {
		t.Fatalf("stale refill won: %q", got)
	}
}

func TestRemoveKeysAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.be.Put(ReservedPrefix+"_master_key", []byte("k"))

	for _, k := range []string{"drinks_u1", "budget_u1", "pregame_plans_u1"} {
		_ = f.store.Set(ctx, k, []byte("x"))
	}
	ks, err := f.store.Keys(ctx)
	if err != nil || strings.Join(ks, ",") != "budget_u1,drinks_u1,pregame_plans_u1" {
		t.Fatalf("Keys: %v %v", ks, err)
	}

	if err := f.store.Remove(ctx, "drinks_u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.store.Get(ctx, "drinks_u1"); ok {
		t.Fatal("removed key still readable")
	}
	if f.store.Ledger().Pending("drinks_u1") != 0 {
		t.Fatal("removed key still pending")
	}

	if err := f.store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if ks, _ := f.store.Keys(ctx); len(ks) != 0 {
		t.Fatalf("Keys after Clear: %v", ks)
	}
	if _, ok := f.be.Raw(ReservedPrefix + "_master_key"); !ok {
		t.Fatal("Clear removed internal record")
	}
	if f.store.Ledger().Len() != 0 {
		t.Fatal("ledger survived Clear")
	}
	if _, _, err := f.store.Get(ctx, LedgerKey); !errors.Is(err, ErrReservedKey) {
		t.Fatalf("reserved key readable: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Options{Backend: memory.New()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "drinks_u1", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type note struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func TestTypedView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	notes := NewTyped[note](f.store, c.JSON[note]{})

	if err := notes.Set(ctx, "notes_u1", note{ID: "n1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	err := notes.Update(ctx, "notes_u1", func(cur note, ok bool) (note, error) {
		if !ok {
			t.Fatal("Update missed existing value")
		}
		cur.Text += "!"
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := notes.Get(ctx, "notes_u1")
	if err != nil || !ok || got.Text != "hi!" {
		t.Fatalf("Get: %+v ok=%v err=%v", got, ok, err)
	}

	f.be.Put("notes_u2", []byte("not json"))
	if _, _, err := notes.Get(ctx, "notes_u2"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLocalOnlyKeysSkipLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.store.Set(ctx, "auth_token_u1", []byte("tok")); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(ctx, "drinks_u1", []byte("[]")); err != nil {
		t.Fatal(err)
	}
	if l := f.store.Ledger(); l.Len() != 1 || l.Pending("auth_token_u1") != 0 {
		t.Fatalf("ledger: %+v", l.Snapshot())
	}
	if got := mustGet(t, f.store, "auth_token_u1"); string(got) != "tok" {
		t.Fatalf("token: %q", got)
	}
}

func TestSkipLedgerAndSequencedAck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.store.Ledger()

	_ = f.store.Set(ctx, "drinks_u1", []byte("a"))
	bound := l.Last("drinks_u1")
	err := f.store.Update(ctx, "drinks_u1", func(cur []byte, _ bool) ([]byte, error) {
		return append(cur, 'm'), nil
	}, SkipLedger())
	if err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, f.store, "drinks_u1"); string(got) != "am" || l.Pending("drinks_u1") != 1 {
		t.Fatalf("skip-ledger update: value=%q pending=%d", got, l.Pending("drinks_u1"))
	}

	// same clock reading, later commit: not covered by the earlier bound
	_ = f.store.Set(ctx, "drinks_u1", []byte("b"))
	if n, err := l.Acknowledge(ctx, "drinks_u1", bound); err != nil || n != 1 {
		t.Fatalf("Acknowledge: n=%d err=%v", n, err)
	}
	if snap := l.Snapshot(); len(snap) != 1 || string(snap[0].Value) != "b" {
		t.Fatalf("left: %+v", snap)
	}
	if l.Last("budget_u1") != 0 {
		t.Fatal("Last for a key with nothing pending")
	}
}
