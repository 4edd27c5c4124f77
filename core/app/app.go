package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcikl/ledgersync/core/bus"
	"github.com/jcikl/ledgersync/core/cache"
	"github.com/jcikl/ledgersync/core/ledger"
	"github.com/jcikl/ledgersync/core/queue"
	"github.com/jcikl/ledgersync/core/syncer"
	"github.com/jcikl/ledgersync/ports/store"
)

type CacheConfig struct {
	Capacity        int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	PreloadDelay    time.Duration
}

type SyncConfig struct {
	TaskTimeout       time.Duration
	ReconcileInterval time.Duration
	BatchSize         int
}

// Metrics bundles the instrumentation of every component. Nil members fall
// back to no-op implementations.
type Metrics struct {
	Bus    bus.Metrics
	Cache  cache.Metrics
	Queue  queue.Metrics
	Syncer syncer.Metrics
}

type Config struct {
	Context context.Context
	Log     *slog.Logger
	// Store is required.
	Store   store.Store
	Cache   CacheConfig
	Sync    SyncConfig
	Metrics Metrics
}

// App owns one bus, one cache and one sync engine wired together. Several
// Apps can coexist in a process.
type App struct {
	ctx       context.Context
	log       *slog.Logger
	cancelCtx context.CancelFunc
	store     store.Store
	bus       *bus.Bus
	cache     *cache.Memory
	engine    *syncer.Engine
}

func New(config Config) (app *App, err error) {
	if config.Store == nil {
		return nil, syncer.ErrNoStore
	}
	app = &App{store: config.Store}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}
	app.log = config.Log

	// === context ===
	if config.Context == nil {
		config.Context = context.Background()
	}
	app.ctx, app.cancelCtx = context.WithCancel(config.Context)

	app.log.Debug("creating app", slog.Any("cache", config.Cache), slog.Any("sync", config.Sync))

	app.bus = bus.New(bus.Options{
		Log:     app.log,
		Metrics: config.Metrics.Bus,
	})

	app.cache = cache.New(cache.Options{
		Capacity:        config.Cache.Capacity,
		DefaultTTL:      config.Cache.DefaultTTL,
		CleanupInterval: config.Cache.CleanupInterval,
		PreloadDelay:    config.Cache.PreloadDelay,
		Log:             app.log,
		Metrics:         config.Metrics.Cache,
		QueueMetrics:    config.Metrics.Queue,
	})

	app.engine, err = syncer.New(syncer.Options{
		Store:             config.Store,
		Cache:             app.cache,
		Context:           app.ctx,
		Log:               app.log,
		Metrics:           config.Metrics.Syncer,
		QueueMetrics:      config.Metrics.Queue,
		TaskTimeout:       config.Sync.TaskTimeout,
		ReconcileInterval: config.Sync.ReconcileInterval,
		BatchSize:         config.Sync.BatchSize,
	})
	if err != nil {
		app.cancelCtx()
		app.cache.Close()
		return nil, err
	}
	app.engine.Register(app.bus)

	return app, nil
}

func (a *App) Bus() *bus.Bus            { return a.bus }
func (a *App) Cache() *cache.Memory     { return a.cache }
func (a *App) Engine() *syncer.Engine   { return a.engine }
func (a *App) Store() store.Store       { return a.store }
func (a *App) Context() context.Context { return a.ctx }

// Emit publishes ev on the app's bus.
func (a *App) Emit(ev ledger.Event) {
	a.bus.Emit(a.ctx, ev)
}

// Run starts the cache janitor and the periodic reconciliation.
func (a *App) Run() error {
	if err := a.ctx.Err(); err != nil {
		return err
	}
	a.cache.Start(a.ctx)
	a.engine.Start(a.ctx)

	a.log.Info("app started")
	return nil
}

// Shutdown waits for queued sync tasks until ctx is done, then stops every
// component. Tasks still queued at that point are dropped and reported in
// the returned error. The app context must still be live for the queue to
// drain; a cancelled one stops the worker with queue.ErrStopped.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.engine.Wait(ctx)
	if err != nil {
		a.log.Warn("shutdown before sync queue drained",
			slog.Int("pending", a.engine.Pending()),
			slog.Any("error", err),
		)
	}

	a.bus.UnsubscribeAll()
	a.engine.Close()
	a.cache.Close()
	a.cancelCtx()

	a.log.Info("app stopped")
	return err
}

func Run(config Config) (app *App, err error) {
	app, err = New(config)
	if err != nil {
		return nil, err
	}

	err = app.Run()
	if err != nil {
		return nil, err
	}

	return app, nil
}
