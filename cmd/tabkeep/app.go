package main

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/backend"
	"github.com/unkn0wn-root/tabkeep/backend/memory"
	rbackend "github.com/unkn0wn-root/tabkeep/backend/redis"
	"github.com/unkn0wn-root/tabkeep/backend/sqlite"
	"github.com/unkn0wn-root/tabkeep/config"
	"github.com/unkn0wn-root/tabkeep/entity"
	"github.com/unkn0wn-root/tabkeep/genstore"
	asynchook "github.com/unkn0wn-root/tabkeep/hooks/async"
	"github.com/unkn0wn-root/tabkeep/internal/otel"
	"github.com/unkn0wn-root/tabkeep/keys"
	pr "github.com/unkn0wn-root/tabkeep/provider"
	"github.com/unkn0wn-root/tabkeep/provider/bigcache"
	memprov "github.com/unkn0wn-root/tabkeep/provider/memory"
	"github.com/unkn0wn-root/tabkeep/provider/ristretto"
	"github.com/unkn0wn-root/tabkeep/remote"
	"github.com/unkn0wn-root/tabkeep/repo"
	"github.com/unkn0wn-root/tabkeep/scheduler"
	"github.com/unkn0wn-root/tabkeep/sloghooks"
	"github.com/unkn0wn-root/tabkeep/syncer"
)

// app is everything one CLI invocation needs, built from config.
type app struct {
	cfg    config.Config
	log    tabkeep.Logger
	store  tabkeep.Store
	keys   *keys.Manager
	mode   keys.Mode
	repo   *repo.Repo
	engine *syncer.Engine
	probe  *remote.Probe // nil when no remote is configured

	closers []func(context.Context) error
}

func openApp(ctx context.Context, cfg config.Config, loggerKind string) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	log, hookLog, closeLog, err := newLogger(loggerKind, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return a, err
	}
	a.log = log
	a.onClose(func(context.Context) error { return closeLog() })

	shutdown, err := otel.Setup(ctx, cfg.OTelEndpoint, "tabkeep")
	if err != nil {
		return a, fmt.Errorf("otel: %w", err)
	}
	a.onClose(shutdown)

	hooks := newHooks(hookLog)
	a.onClose(func(context.Context) error { hooks.Close(); return nil })

	be, gen, err := openBackend(cfg)
	if err != nil {
		return a, err
	}
	cache, err := openCache(cfg)
	if err != nil {
		_ = be.Close(ctx)
		return a, err
	}

	a.keys = keys.NewManager(keys.Config{
		Secure:   keys.Keyring{Service: cfg.KeyringService, Account: cfg.KeyringAccount},
		Fallback: keys.BackendStore{Backend: be},
		Logger:   log,
	})
	if a.mode, err = a.keys.Initialize(ctx); err != nil {
		_ = be.Close(ctx)
		_ = cache.Close(ctx)
		return a, err
	}

	st, err := tabkeep.New(ctx, tabkeep.Options{
		Backend:       be,
		Cache:         cache,
		Gen:           gen,
		Keys:          a.keys,
		EncryptedKeys: cfg.EncryptedKeys,
		TTL:           cfg.CacheTTL,
		Logger:        log,
		Hooks:         hooks,
	})
	if err != nil {
		_ = be.Close(ctx)
		_ = cache.Close(ctx)
		return a, err
	}
	a.store = st
	a.onClose(st.Close)

	codecs, err := entity.NewCodecs(cfg.ValueFormat)
	if err != nil {
		return a, err
	}

	var remotes repo.Remotes
	var prober syncer.Prober
	if cfg.RemoteURL != "" {
		client, err := remote.NewClient(remote.Config{BaseURL: cfg.RemoteURL, Token: cfg.RemoteToken, Logger: log})
		if err != nil {
			return a, err
		}
		a.probe = remote.NewProbe(client, cfg.HealthTimeout)
		prober = a.probe
		remotes = remoteCollections(client)
	} else {
		log.Info("no remote configured; running local-only", nil)
	}
	a.engine = newEngine(st, prober, log, hooks, codecs, remotes)

	r, err := repo.New(repo.Config{Store: st, Codecs: codecs, Remotes: remotes, Probe: prober, Logger: log})
	if err != nil {
		return a, err
	}
	a.repo = r
	return a, nil
}

func remoteCollections(c *remote.Client) repo.Remotes {
	return repo.Remotes{
		Profiles:    remote.NewCollection[entity.UserProfile](c, entity.KindProfile),
		Settings:    remote.NewCollection[entity.UserSettings](c, entity.KindSettings),
		Drinks:      remote.NewCollection[entity.Drink](c, entity.KindDrinks),
		Budgets:     remote.NewCollection[entity.Budget](c, entity.KindBudget),
		Plans:       remote.NewCollection[entity.PreGamePlan](c, entity.KindPlans),
		Assessments: remote.NewCollection[entity.ReadinessAssessment](c, entity.KindAssessment),
	}
}

// newEngine registers every synced kind that has a remote collection.
func newEngine(st tabkeep.Store, p syncer.Prober, log tabkeep.Logger, hooks tabkeep.Hooks, cs entity.Codecs, rs repo.Remotes) *syncer.Engine {
	eng := syncer.New(syncer.Config{Store: st, Probe: p, Logger: log, Hooks: hooks})
	if rs.Drinks != nil {
		eng.Register(syncer.List(entity.KindDrinks, cs.Drinks, rs.Drinks))
	}
	if rs.Plans != nil {
		eng.Register(syncer.List(entity.KindPlans, cs.Plans, rs.Plans))
	}
	if rs.Budgets != nil {
		eng.Register(syncer.Single(entity.KindBudget, cs.Budget, rs.Budgets))
	}
	if rs.Profiles != nil {
		eng.Register(syncer.Single(entity.KindProfile, cs.Profile, rs.Profiles))
	}
	if rs.Settings != nil {
		eng.Register(syncer.Single(entity.KindSettings, cs.Settings, rs.Settings))
	}
	if rs.Assessments != nil {
		eng.Register(syncer.Single(entity.KindAssessment, cs.Assessment, rs.Assessments))
	}
	return eng
}

func newHooks(l *stdslog.Logger) *asynchook.Hooks {
	return asynchook.New(sloghooks.New(l, sloghooks.Options{SelfHealEvery: 10}), 1, 256)
}

// openBackend returns the backing store and, for redis, a shared generation
// store so several processes agree on cache validity.
func openBackend(cfg config.Config) (backend.Backend, genstore.GenStore, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		be, err := rbackend.New(rbackend.Config{Client: client, CloseClient: true})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return be, genstore.NewRedis(client, "tabkeep", 24*time.Hour), nil
	case "", "sqlite":
		be, err := sqlite.Open(cfg.DataPath)
		if err != nil {
			return nil, nil, err
		}
		return be, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openCache(cfg config.Config) (pr.Provider, error) {
	switch cfg.CacheTier {
	case "", "memory":
		return memprov.New(), nil
	case "ristretto":
		return ristretto.New(ristretto.DefaultConfig())
	case "bigcache":
		return bigcache.New(bigcache.Config{LifeWindow: 2 * cfg.CacheTTL, HardMaxCacheSizeMB: 64})
	default:
		return nil, fmt.Errorf("unknown cache tier %q", cfg.CacheTier)
	}
}

// newScheduler binds a background scheduler to the engine for userID.
func (a *app) newScheduler(userID string) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		Sync: func(ctx context.Context) error {
			_, err := a.engine.Sync(ctx, userID)
			return err
		},
		Cache:               a.store,
		Debounce:            a.cfg.SyncDebounce,
		MinInterval:         a.cfg.SyncMinInterval,
		MemoryCheckInterval: a.cfg.MemoryCheckInterval,
		MemoryThreshold:     a.cfg.MemoryThreshold(),
		Logger:              a.log,
	})
}

func (a *app) onClose(f func(context.Context) error) {
	a.closers = append(a.closers, f)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
