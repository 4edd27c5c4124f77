// Package syncer keeps derived ledger state consistent with the
// transactions it is derived from.
//
// The Engine subscribes one handler per ledger event kind. Handlers only
// enqueue a task; a single worker recomputes the affected aggregates from
// scratch, rewrites denormalized names and invalidates cache keys, one task
// at a time in event order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jcikl/ledgersync/core/bus"
	"github.com/jcikl/ledgersync/core/cache"
	"github.com/jcikl/ledgersync/core/ledger"
	"github.com/jcikl/ledgersync/core/queue"
	"github.com/jcikl/ledgersync/ports/store"
)

const DefaultBatchSize = 400

var (
	ErrNoStore      = errors.New("syncer: store is required")
	ErrUnknownEvent = errors.New("syncer: unknown event")
)

// Invalidator drops cache keys. cache.Cache satisfies it.
type Invalidator interface {
	Delete(key string) bool
}

type Options struct {
	Store store.Store
	// Cache receives the invalidations. Optional.
	Cache Invalidator
	// Context is the base context of all tasks. Cancelling it aborts the
	// running task and stops the worker.
	Context      context.Context
	Log          *slog.Logger
	Metrics      Metrics
	QueueMetrics queue.Metrics
	// TaskTimeout bounds a single task. Zero means none.
	TaskTimeout time.Duration
	// ReconcileInterval enables a periodic RecomputeAll once Start is called.
	// Zero disables it.
	ReconcileInterval time.Duration
	// BatchSize caps the ops of one store batch when propagating names.
	BatchSize int
}

type Engine struct {
	store     store.Store
	cache     Invalidator
	log       *slog.Logger
	metrics   Metrics
	reconcile time.Duration
	batchSize int
	worker    *queue.Worker

	mu     sync.Mutex
	unsubs []bus.Unsubscribe
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNop()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	log := opts.Log.With(slog.String("component", "syncer"))
	return &Engine{
		store:     opts.Store,
		cache:     opts.Cache,
		log:       log,
		metrics:   opts.Metrics,
		reconcile: opts.ReconcileInterval,
		batchSize: opts.BatchSize,
		worker: queue.New(queue.Options{
			Name:        "sync",
			Context:     opts.Context,
			Log:         log,
			TaskTimeout: opts.TaskTimeout,
			Metrics:     opts.QueueMetrics,
		}),
	}, nil
}

// Register subscribes exactly one handler per ledger event kind on b.
func (e *Engine) Register(b *bus.Bus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, kind := range ledger.Kinds() {
		unsub := b.Subscribe(kind, func(_ context.Context, ev bus.Event) error {
			lev, ok := ev.(ledger.Event)
			if !ok {
				return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
			}
			return e.Enqueue(lev)
		}, bus.WithName("syncer"))
		e.unsubs = append(e.unsubs, unsub)
	}
	e.log.Info("registered", slog.Int("kinds", len(ledger.Kinds())))
}

// Enqueue schedules the processing of ev. It never blocks on the store.
func (e *Engine) Enqueue(ev ledger.Event) error {
	if ev == nil {
		return ErrUnknownEvent
	}
	return e.worker.Enqueue(queue.Task{
		Name: string(ev.EventKind()),
		Run: func(ctx context.Context) error {
			return e.Process(ctx, ev)
		},
	})
}

// Process handles ev synchronously: it runs the event's recomputations and
// then invalidates the cache keys, whether or not the work succeeded.
func (e *Engine) Process(ctx context.Context, ev ledger.Event) error {
	defer e.metrics.EventDuration(string(ev.EventKind())).ObserveDuration()

	keys := newKeySet(ev.EventKind())
	err := e.apply(ctx, ev, keys)
	e.invalidate(keys)
	if err != nil {
		return fmt.Errorf("%s: %w", ev.EventKind(), err)
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, ev ledger.Event, keys keySet) error {
	switch ev := ev.(type) {
	case ledger.TransactionCreated:
		return e.recomputeRefs(ctx, keys, ev.Transaction.Refs())
	case ledger.TransactionUpdated:
		return e.recomputeRefs(ctx, keys, ev.Transaction.Refs(), ev.Prior)
	case ledger.TransactionDeleted:
		// the payload no longer tells which aggregates the transaction fed
		return e.recomputeAll(ctx, keys)
	case ledger.ProjectCreated:
		return e.recomputeProjects(ctx, keys, nil)
	case ledger.ProjectUpdated:
		return e.projectUpdated(ctx, keys, ev)
	case ledger.ProjectDeleted:
		return e.projectDeleted(ctx, keys, ev.ID)
	case ledger.AccountUpdated:
		return e.accountUpdated(ctx, keys, ev)
	case ledger.CategoryUpdated:
		return e.categoryUpdated(ctx, keys, ev)
	case ledger.BankAccountUpdated:
		return e.bankAccountUpdated(ctx, keys, ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

func (e *Engine) invalidate(keys keySet) {
	sorted := keys.sorted()
	for _, k := range sorted {
		e.cache.Delete(k)
	}
	e.metrics.Invalidated(len(sorted))
	e.log.Debug("invalidated", slog.Any("keys", sorted))
}

// RecomputeAll rebuilds every bank account balance, project spend and
// category statistic, then invalidates every cache key. It runs on the
// caller's goroutine.
func (e *Engine) RecomputeAll(ctx context.Context) error {
	keys := keySet{}
	for _, kind := range ledger.Kinds() {
		keys.add(invalidations[kind]...)
	}
	err := e.recomputeAll(ctx, keys)
	e.invalidate(keys)
	return err
}

// Start runs the periodic reconciliation until ctx is done. It is a no-op
// without ReconcileInterval.
func (e *Engine) Start(ctx context.Context) {
	if e.reconcile <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(e.reconcile)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.worker.Enqueue(queue.Task{Name: "reconcile", Run: e.RecomputeAll})
				if errors.Is(err, queue.ErrClosed) {
					return
				}
			}
		}
	}()
}

// Pending returns the number of queued tasks.
func (e *Engine) Pending() int { return e.worker.Len() }

// Wait blocks until every queued task was processed.
func (e *Engine) Wait(ctx context.Context) error { return e.worker.Wait(ctx) }

// Close unsubscribes from the bus and stops the worker. Queued tasks are
// dropped; the running one is awaited.
func (e *Engine) Close() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	e.worker.Close()
}
