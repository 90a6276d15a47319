// Package syncer reconciles a user's local collections with the remote API
// using last-write-wins at entity granularity.
//
// A cycle probes the remote once. When it is reachable every registered
// collection is fetched, merged with the local copy inside a store Update,
// and local-only or locally newer entities are uploaded. When it is not, the
// local copy stays authoritative and nothing is touched.
//
//	eng := syncer.New(syncer.Config{Store: st, Probe: probe})
//	eng.Register(syncer.List(entity.KindDrinks, codecs.Drinks, drinksRemote))
//	eng.Register(syncer.Single(entity.KindBudget, codecs.Budget, budgetRemote))
//	res, err := eng.Sync(ctx, userID)
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/tabkeep"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/unkn0wn-root/tabkeep/syncer"

// Prober reports remote reachability.
type Prober interface {
	Available(ctx context.Context) bool
}

type Config struct {
	Store  tabkeep.Store
	Probe  Prober
	Logger tabkeep.Logger
	Hooks  tabkeep.Hooks
	Tracer trace.Tracer     // nil => global provider
	Clock  func() time.Time // nil => time.Now
}

type Engine struct {
	store  tabkeep.Store
	probe  Prober
	log    tabkeep.Logger
	hooks  tabkeep.Hooks
	tracer trace.Tracer
	now    func() time.Time

	mu   sync.Mutex
	cols []Syncable
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:  cfg.Store,
		probe:  cfg.Probe,
		log:    cfg.Logger,
		hooks:  cfg.Hooks,
		tracer: cfg.Tracer,
		now:    cfg.Clock,
	}
	if e.log == nil {
		e.log = tabkeep.NopLogger{}
	}
	if e.hooks == nil {
		e.hooks = tabkeep.NopHooks{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Register adds a collection. Collections sync in registration order.
func (e *Engine) Register(c Syncable) {
	e.mu.Lock()
	e.cols = append(e.cols, c)
	e.mu.Unlock()
}

// ItemError is one entity that failed to upload or was rejected.
type ItemError struct {
	ID  string
	Err error
}

// Stats describe one collection within a cycle.
type Stats struct {
	Collection string
	Pulled     int  // entities written locally from remote
	Created    int  // uploads via create
	Updated    int  // uploads via update
	Wrote      bool // local value rewritten
	Acked      int  // ledger entries acknowledged
	Failed     []ItemError
	Rejected   []ItemError // invalid remote entities left out of the merge
	RemoteErr  error       // listing failed; collection skipped this cycle
}

// Result summarizes a cycle. Remote problems live here; Sync only returns
// local storage failures.
type Result struct {
	Offline     bool
	Started     time.Time
	Finished    time.Time
	Collections []Stats
}

func (r *Result) Uploaded() int {
	n := 0
	for _, s := range r.Collections {
		n += s.Created + s.Updated
	}
	return n
}

func (r *Result) Pulled() int {
	n := 0
	for _, s := range r.Collections {
		n += s.Pulled
	}
	return n
}

func (r *Result) Failures() int {
	n := 0
	for _, s := range r.Collections {
		n += len(s.Failed) + len(s.Rejected)
		if s.RemoteErr != nil {
			n++
		}
	}
	return n
}

// Sync runs one cycle for userID. Cycles are serialized. Per-entity and
// remote failures never abort the cycle; local storage failures are collected
// and returned joined once every collection ran.
func (e *Engine) Sync(ctx context.Context, userID string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "syncer.Sync", trace.WithAttributes(attribute.Int("collections", len(e.cols))))
	defer span.End()

	res := &Result{Started: e.now()}
	online := e.probe != nil && e.probe.Available(ctx)
	res.Offline = !online
	span.SetAttributes(attribute.Bool("offline", res.Offline))

	if !online {
		res.Finished = e.now()
		e.log.Info("remote unreachable; local data stays authoritative", tabkeep.Fields{"collections": len(e.cols)})
		return res, nil
	}

	var errs []error
	for _, c := range e.cols {
		st, err := e.syncOne(ctx, c, userID)
		res.Collections = append(res.Collections, st)
		if err != nil {
			errs = append(errs, err)
		}
	}
	res.Finished = e.now()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "local storage failure")
	}
	e.log.Info("sync cycle finished", tabkeep.Fields{
		"pulled":   res.Pulled(),
		"uploaded": res.Uploaded(),
		"failures": res.Failures(),
		"elapsed":  res.Finished.Sub(res.Started).String(),
	})
	return res, err
}

func (e *Engine) syncOne(ctx context.Context, c Syncable, userID string) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, "syncer.collection", trace.WithAttributes(attribute.String("collection", c.Name())))
	defer span.End()

	st, err := c.sync(ctx, e, userID)
	st.Collection = c.Name()
	span.SetAttributes(
		attribute.Int("pulled", st.Pulled),
		attribute.Int("uploaded", st.Created+st.Updated),
		attribute.Int("failed", len(st.Failed)),
	)
	if st.RemoteErr != nil {
		span.RecordError(st.RemoteErr)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "local storage failure")
		e.log.Error("collection sync failed", tabkeep.Fields{"collection": c.Name(), "err": err})
	}
	return st, err
}

// rejected records a remote entity skipped as invalid. It does not hold back
// the acknowledgement: nothing local is waiting on it.
func (e *Engine) rejected(st *Stats, id string, err error) {
	st.Rejected = append(st.Rejected, ItemError{ID: id, Err: err})
	e.hooks.SyncItemFailed(st.Collection, id, err)
	e.log.Warn("invalid remote entity skipped", tabkeep.Fields{"collection": st.Collection, "id": id, "err": err})
}

// uploadFailed records one entity that did not reach the remote.
func (e *Engine) uploadFailed(st *Stats, id string, err error) {
	st.Failed = append(st.Failed, ItemError{ID: id, Err: err})
	e.hooks.SyncItemFailed(st.Collection, id, err)
	e.log.Warn("upload failed; entity stays queued", tabkeep.Fields{"collection": st.Collection, "id": id, "err": err})
}

func (e *Engine) listFailed(st *Stats, err error) {
	st.RemoteErr = err
	e.log.Warn("remote list failed; collection skipped", tabkeep.Fields{"collection": st.Collection, "err": err})
}

// acknowledge clears the ledger for key through the bound read under the
// merge's write lock, once every upload succeeded. Changes committed after the
// merge stay queued.
func (e *Engine) acknowledge(ctx context.Context, st *Stats, key string, through uint64) error {
	if len(st.Failed) > 0 {
		return nil
	}
	n, err := e.store.Ledger().Acknowledge(ctx, key, through)
	st.Acked = n
	return err
}
