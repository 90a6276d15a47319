package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/backend/memory"
	"github.com/unkn0wn-root/tabkeep/entity"
	"github.com/unkn0wn-root/tabkeep/remote/fake"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type failures struct {
	tabkeep.NopHooks
	mu  sync.Mutex
	ids []string
}

func (f *failures) SyncItemFailed(_, id string, _ error) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
}

type harness struct {
	be      *memory.Backend
	store   tabkeep.Store
	clock   *clock
	probe   *fake.Probe
	drinks  *fake.Collection[entity.Drink]
	budgets *fake.Collection[entity.Budget]
	hooks   *failures
	eng     *Engine
	local   tabkeep.Typed[[]entity.Drink]
	budget  tabkeep.Typed[entity.Budget]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		be:      memory.New(),
		clock:   &clock{t: t0},
		probe:   fake.NewProbe(true),
		drinks:  fake.NewCollection[entity.Drink](),
		budgets: fake.NewCollection[entity.Budget](),
		hooks:   &failures{},
	}
	st, err := tabkeep.New(ctx, tabkeep.Options{Backend: h.be, Clock: h.clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close(ctx) })
	h.store = st

	codecs, err := entity.NewCodecs("json")
	if err != nil {
		t.Fatal(err)
	}
	h.local = tabkeep.NewTyped(st, codecs.Drinks)
	h.budget = tabkeep.NewTyped(st, codecs.Budget)

	h.eng = New(Config{Store: st, Probe: h.probe, Hooks: h.hooks, Clock: h.clock.Now})
	h.eng.Register(List(entity.KindDrinks, codecs.Drinks, h.drinks))
	h.eng.Register(Single(entity.KindBudget, codecs.Budget, h.budgets))
	return h
}

func (h *harness) localDrinks(t *testing.T) []entity.Drink {
	t.Helper()
	v, _, err := h.local.Get(context.Background(), "drinks_u1")
	if err != nil {
		t.Fatalf("local drinks: %v", err)
	}
	return v
}

func TestOfflineThenOnlineUnion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// A recorded on this device while offline, B exists only remotely
	h.probe.Set(false)
	if err := h.local.Set(ctx, "drinks_u1", []entity.Drink{drinkAt("A", t0)}); err != nil {
		t.Fatal(err)
	}
	h.drinks.Seed("u1", drinkAt("B", t0))

	res, err := h.eng.Sync(ctx, "u1")
	if err != nil || !res.Offline {
		t.Fatalf("offline cycle: res=%+v err=%v", res, err)
	}
	if ids(h.localDrinks(t)) != "A" || h.store.Ledger().Pending("drinks_u1") == 0 {
		t.Fatal("offline cycle touched local state")
	}
	if c, u, _ := h.drinks.Writes(); c+u != 0 {
		t.Fatal("offline cycle reached the remote")
	}

	h.probe.Set(true)
	h.clock.Add(time.Minute)
	res, err = h.eng.Sync(ctx, "u1")
	if err != nil || res.Offline {
		t.Fatalf("online cycle: res=%+v err=%v", res, err)
	}
	if got := ids(h.localDrinks(t)); got != "A,B" {
		t.Fatalf("local after sync: %s", got)
	}
	if got := ids(h.drinks.Items("u1")); got != "A,B" {
		t.Fatalf("remote after sync: %s", got)
	}
	if n := h.store.Ledger().Pending("drinks_u1"); n != 0 {
		t.Fatalf("ledger still holds %d drinks changes", n)
	}
	if res.Uploaded() != 1 || res.Pulled() != 1 {
		t.Fatalf("uploaded=%d pulled=%d", res.Uploaded(), res.Pulled())
	}
}

func TestSecondCycleIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_ = h.local.Set(ctx, "drinks_u1", []entity.Drink{drinkAt("A", t0)})
	_ = h.budget.Set(ctx, "budget_u1", budgetAt("b1", t0))
	h.drinks.Seed("u1", drinkAt("B", t0))
	h.budgets.Seed("u1", budgetAt("b-remote", t0.Add(-time.Hour)))

	if _, err := h.eng.Sync(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	creates, updates, _ := h.drinks.Writes()

	var sets int
	h.be.FailOn = func(op, _ string) error {
		if op == "set" {
			sets++
		}
		return nil
	}
	h.clock.Add(time.Minute)
	res, err := h.eng.Sync(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sets != 0 {
		t.Fatalf("second cycle wrote %d times", sets)
	}
	if res.Uploaded() != 0 || res.Pulled() != 0 {
		t.Fatalf("second cycle: uploaded=%d pulled=%d", res.Uploaded(), res.Pulled())
	}
	if c, u, _ := h.drinks.Writes(); c != creates || u != updates {
		t.Fatal("second cycle reached the remote")
	}
}

func TestUploadFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	boom := errors.New("503")
	h.drinks.FailCreate = func(d entity.Drink) error {
		if d.ID == "A" {
			return boom
		}
		return nil
	}
	_ = h.local.Set(ctx, "drinks_u1", []entity.Drink{drinkAt("A", t0), drinkAt("C", t0)})
	_ = h.budget.Set(ctx, "budget_u1", budgetAt("b1", t0))

	res, err := h.eng.Sync(ctx, "u1")
	if err != nil {
		t.Fatalf("remote failure escalated: %v", err)
	}
	drinks := res.Collections[0]
	if drinks.Created != 1 || len(drinks.Failed) != 1 || drinks.Failed[0].ID != "A" || !errors.Is(drinks.Failed[0].Err, boom) {
		t.Fatalf("drinks stats: %+v", drinks)
	}
	if got := ids(h.drinks.Items("u1")); got != "C" {
		t.Fatalf("remote: %s", got)
	}
	if h.store.Ledger().Pending("drinks_u1") == 0 {
		t.Fatal("failed entity no longer queued")
	}
	if len(h.hooks.ids) != 1 || h.hooks.ids[0] != "A" {
		t.Fatalf("hooks: %v", h.hooks.ids)
	}

	// the budget collection is unaffected
	if res.Collections[1].Created != 1 || h.store.Ledger().Pending("budget_u1") != 0 {
		t.Fatalf("budget stats: %+v", res.Collections[1])
	}

	// the retry uploads A once the remote recovers
	h.drinks.FailCreate = nil
	h.clock.Add(time.Minute)
	if _, err := h.eng.Sync(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := ids(h.drinks.Items("u1")); got != "A,C" || h.store.Ledger().Pending("drinks_u1") != 0 {
		t.Fatalf("retry: remote=%s pending=%d", got, h.store.Ledger().Pending("drinks_u1"))
	}
}

func TestRemoteListFailureSkipsCollection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drinks.FailList = func(string) error { return errors.New("timeout") }
	_ = h.local.Set(ctx, "drinks_u1", []entity.Drink{drinkAt("A", t0)})
	h.budgets.Seed("u1", budgetAt("b-remote", t0))

	res, err := h.eng.Sync(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Collections[0].RemoteErr == nil || res.Failures() != 1 {
		t.Fatalf("drinks: %+v", res.Collections[0])
	}
	if h.store.Ledger().Pending("drinks_u1") == 0 {
		t.Fatal("skipped collection acknowledged")
	}
	b, ok, err := h.budget.Get(ctx, "budget_u1")
	if err != nil || !ok || b.ID != "b-remote" {
		t.Fatalf("budget not pulled: %+v %v %v", b, ok, err)
	}
}

func TestLocalStorageFailureReturnedAfterAllCollections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	disk := errors.New("io error")
	h.be.FailOn = func(op, key string) error {
		if op == "get" && key == "drinks_u1" {
			return disk
		}
		return nil
	}
	h.budgets.Seed("u1", budgetAt("b-remote", t0))

	res, err := h.eng.Sync(ctx, "u1")
	var se *tabkeep.StorageError
	if !errors.As(err, &se) || !errors.Is(err, disk) {
		t.Fatalf("want StorageError, got %v", err)
	}
	if len(res.Collections) != 2 || !res.Collections[1].Wrote {
		t.Fatalf("budget collection did not run: %+v", res.Collections)
	}
}

func TestSingletonPushesNewerLocal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.budgets.Seed("u1", budgetAt("b1", t0))

	local := budgetAt("b1", t0.Add(time.Hour))
	local.Expenses = []entity.Expense{{ID: "e1"}}
	_ = h.budget.Set(ctx, "budget_u1", local)

	res, err := h.eng.Sync(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Collections[1].Updated != 1 {
		t.Fatalf("budget stats: %+v", res.Collections[1])
	}
	if got := h.budgets.Items("u1"); len(got) != 1 || len(got[0].Expenses) != 1 {
		t.Fatalf("remote budget: %+v", got)
	}
}

func TestInvalidRemoteEntityIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bad := drinkAt("BAD", t0)
	bad.VolumeML = 0
	foreign := drinkAt("F", t0)
	foreign.UserID = "u2"
	_ = h.local.Set(ctx, "drinks_u1", []entity.Drink{drinkAt("A", t0)})
	h.drinks.Seed("u1", drinkAt("B", t0), bad, foreign)

	for cycle := 1; cycle <= 2; cycle++ {
		res, err := h.eng.Sync(ctx, "u1")
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		if st := res.Collections[0]; len(st.Rejected) != 2 || len(st.Failed) != 0 {
			t.Fatalf("cycle %d: %+v", cycle, st)
		}
		h.clock.Add(time.Minute)
	}
	if got := ids(h.localDrinks(t)); got != "A,B" {
		t.Fatalf("local: %s", got)
	}
	if c, _, _ := h.drinks.Writes(); c != 1 {
		t.Fatalf("creates: %d", c)
	}
	if h.store.Ledger().Pending("drinks_u1") != 0 {
		t.Fatal("valid changes held back by a rejected remote entity")
	}
	if got := strings.Join(h.hooks.ids, ","); got != "BAD,F,BAD,F" {
		t.Fatalf("hooks: %s", got)
	}
}

func TestWriteDuringUploadStaysQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.local.Set(ctx, "drinks_u1", []entity.Drink{drinkAt("A", t0)})

	// C is committed locally after the merge, while A is being uploaded.
	// The clock does not move, so only ordering tells the two apart.
	h.drinks.FailCreate = func(d entity.Drink) error {
		if d.ID != "A" {
			return nil
		}
		return h.local.Update(ctx, "drinks_u1", func(cur []entity.Drink, _ bool) ([]entity.Drink, error) {
			return append(cur, drinkAt("C", t0)), nil
		})
	}

	res, err := h.eng.Sync(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Collections[0].Acked != 1 {
		t.Fatalf("stats: %+v", res.Collections[0])
	}
	if got := ids(h.drinks.Items("u1")); got != "A" {
		t.Fatalf("remote: %s", got)
	}
	if n := h.store.Ledger().Pending("drinks_u1"); n != 1 {
		t.Fatalf("pending after sync: %d", n)
	}

	h.drinks.FailCreate = nil
	if _, err := h.eng.Sync(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := ids(h.drinks.Items("u1")); got != "A,C" || h.store.Ledger().Pending("drinks_u1") != 0 {
		t.Fatalf("next cycle: remote=%s pending=%d", got, h.store.Ledger().Pending("drinks_u1"))
	}
}

func TestSyncEmitsSpans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	eng := New(Config{Store: h.store, Probe: h.probe, Tracer: tp.Tracer("test"), Clock: h.clock.Now})
	eng.Register(List(entity.KindDrinks, mustCodecs(t).Drinks, h.drinks))
	if _, err := eng.Sync(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	ended := rec.Ended()
	if len(ended) != 2 || ended[0].Name() != "syncer.collection" || ended[1].Name() != "syncer.Sync" {
		t.Fatalf("spans: %v", ended)
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Fatal("collection span not nested under the cycle")
	}
}

func mustCodecs(t *testing.T) entity.Codecs {
	t.Helper()
	cs, err := entity.NewCodecs("json")
	if err != nil {
		t.Fatal(err)
	}
	return cs
}
