// Package bootstrap wires the eight core components into one runnable
// instance. Both cmd/cortexd and cmd/cortexctl
// construct an App the same way so neither holds a hidden singleton: every
// dependency is built here, explicitly, from a config.Config.
package bootstrap

import (
	"context"
	"time"

	"github.com/cortexmesh/core/internal/config"
	"github.com/cortexmesh/core/internal/coordinator"
	"github.com/cortexmesh/core/internal/lockmgr"
	"github.com/cortexmesh/core/internal/memory"
	"github.com/cortexmesh/core/internal/merge"
	"github.com/cortexmesh/core/internal/pool"
	"github.com/cortexmesh/core/internal/search"
	"github.com/cortexmesh/core/internal/session"
	"github.com/cortexmesh/core/internal/store"
	"github.com/cortexmesh/core/pkg/types"
)

// App holds every wired component. Fields are exported so cmd/ callers can
// reach a component's full API directly instead of going through a facade.
type App struct {
	Config config.Config

	Pool        *pool.Pool
	Store       *store.Store
	Locks       *lockmgr.Manager
	Sessions    *session.Service
	Merge       *merge.Engine
	Memory      *memory.Pool
	Search      *search.Orchestrator
	Coordinator *coordinator.Registry

	cache *memory.Client
}

// New connects to the store's DSN, runs no migrations (call Store.Migrate
// separately), and wires every component on top of it.
func New(cfg config.Config) (*App, error) {
	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, st)
}

// NewWithStore wires every component on top of an already-open store,
// primarily for tests that hand in a sqlmock-backed *store.Store.
func NewWithStore(cfg config.Config, st *store.Store) (*App, error) {
	return newApp(cfg, st)
}

func newApp(cfg config.Config, st *store.Store) (*App, error) {
	p := pool.NewWithDB(st.DB(), cfg.Pool)

	locks := lockmgr.New(st, cfg.Lock.DetectionInterval)
	mergeEngine := merge.New(st, st)
	sessions := session.NewService(st, mergeEngine)

	cache := memory.NewClient(cfg.Memory.RedisAddr, cfg.Memory.RedisDB)
	memPool := memory.New(st, cache, cfg.Memory.EntryTTL)

	coord := coordinator.NewRegistry(int64(cfg.CoordinatorPermits))

	queueCfg := search.QueueConfig{
		Capacity:          cfg.Search.QueueCapacityPerLevel,
		FairnessK:         cfg.Search.FairnessK,
		PerAgentRateLimit: cfg.Search.PerAgentRateLimit,
		PerAgentBurst:     cfg.Search.PerAgentBurst,
	}
	orchestrator := search.New(queueCfg, coord, cfg.Search.MaxConcurrentSearches)

	return &App{
		Config:      cfg,
		Pool:        p,
		Store:       st,
		Locks:       locks,
		Sessions:    sessions,
		Merge:       mergeEngine,
		Memory:      memPool,
		Search:      orchestrator,
		Coordinator: coord,
		cache:       cache,
	}, nil
}

// Run starts every background loop (lock deadlock detection, session
// expiry sweep, search dequeue) and blocks until ctx is done.
func (a *App) Run(ctx context.Context) {
	go a.Locks.StartDeadlockDetector(ctx)
	go a.Sessions.StartExpirySweep(ctx, defaultExpirySweepInterval)
	go a.Search.Run(ctx)
	<-ctx.Done()
}

const defaultExpirySweepInterval = 30 * time.Second

// Close stops background loops and releases every held resource.
func (a *App) Close() error {
	a.Locks.Stop()
	a.Sessions.Stop()
	a.Search.Stop()

	var firstErr error
	if err := a.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Pool.Shutdown(a.Config.Pool.ShutdownGracePeriod); err != nil && firstErr == nil {
		firstErr = types.Wrap(types.ErrIO, "shutting down pool", err)
	}
	return firstErr
}
