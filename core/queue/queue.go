// Package queue provides a single-consumer FIFO task worker.
//
// Tasks are executed strictly one at a time, in submission order. The worker
// goroutine is started when a task is enqueued on an idle queue and exits as
// soon as the queue is empty again, so an idle Worker costs nothing.
//
// Typical use-case: recomputation work that must never run concurrently with
// itself, or background reads that should be throttled against a store.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jcikl/ledgersync/core/metrics"
)

// Task is a unit of deferred work.
type Task struct {
	// Name identifies the task in logs and metrics.
	Name string
	Run  func(ctx context.Context) error
}

// Options configures a Worker.
type Options struct {
	// Name labels the queue in logs and metrics (default: "queue").
	Name    string
	Context context.Context
	Log     *slog.Logger
	// Delay is the pause inserted between two consecutive tasks.
	Delay time.Duration
	// TaskTimeout bounds a single task. Zero means no timeout: a task that
	// never returns blocks the queue forever.
	TaskTimeout time.Duration
	Metrics     Metrics
}

// Worker runs tasks sequentially on a single goroutine.
type Worker struct {
	name        string
	log         *slog.Logger
	delay       time.Duration
	taskTimeout time.Duration
	metrics     Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   []Task
	running bool
	closed  bool
	idle    chan struct{} // closed when the current run loop exits
}

// New creates a new Worker.
func New(opts Options) *Worker {
	if opts.Name == "" {
		opts.Name = "queue"
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}

	ctx, cancel := context.WithCancel(opts.Context)
	return &Worker{
		name:        opts.Name,
		log:         opts.Log.With(slog.String("queue", opts.Name)),
		delay:       opts.Delay,
		taskTimeout: opts.TaskTimeout,
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue appends t to the queue and starts the worker if it is idle.
func (w *Worker) Enqueue(t Task) error {
	if t.Run == nil {
		return ErrNilTask
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// a cancelled base context stops the loop, so the task would never run
	if w.closed || w.ctx.Err() != nil {
		return ErrClosed
	}

	w.tasks = append(w.tasks, t)
	w.metrics.Depth(w.name, len(w.tasks))

	if !w.running {
		w.running = true
		w.idle = make(chan struct{})
		go w.loop(w.idle)
	}
	return nil
}

// Len returns the number of tasks waiting to run.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// Wait blocks until the queue is empty and no task is running, or ctx is done.
// It returns ErrStopped if the worker stopped with tasks still queued.
func (w *Worker) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		running, idle, pending := w.running, w.idle, len(w.tasks)
		w.mu.Unlock()

		if !running {
			if pending > 0 {
				return ErrStopped
			}
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting tasks, abandons queued ones and waits for the running
// task to return. It is idempotent.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	dropped := len(w.tasks)
	w.tasks = nil
	running, idle := w.running, w.idle
	w.mu.Unlock()

	w.cancel()
	if dropped > 0 {
		w.log.Warn("queue closed with pending tasks", slog.Int("dropped", dropped))
	}
	if running {
		<-idle
	}
}

func (w *Worker) next() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.tasks) == 0 || w.ctx.Err() != nil {
		w.running = false
		return Task{}, false
	}

	t := w.tasks[0]
	w.tasks[0] = Task{}
	w.tasks = w.tasks[1:]
	w.metrics.Depth(w.name, len(w.tasks))
	return t, true
}

func (w *Worker) loop(idle chan struct{}) {
	defer close(idle)

	for {
		t, ok := w.next()
		if !ok {
			return
		}

		w.run(t)

		if w.delay > 0 && w.Len() > 0 {
			select {
			case <-time.After(w.delay):
			case <-w.ctx.Done():
			}
		}
	}
}

func (w *Worker) run(t Task) {
	log := w.log.With(slog.String("task", t.Name))
	startedAt := time.Now()
	defer w.metrics.TaskDuration(w.name).ObserveDuration()

	ctx := w.ctx
	if w.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.taskTimeout)
		defer cancel()
	}

	err := safeRun(ctx, t)
	w.metrics.TaskProcessed(w.name, err == nil)
	if err != nil {
		log.Error("task failed", slog.Any("error", err), slog.Duration("duration", time.Since(startedAt)))
		return
	}
	log.Debug("task done", slog.Duration("duration", time.Since(startedAt)))
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrTaskPanic, r, debug.Stack())
		}
	}()
	return t.Run(ctx)
}

// ----- Errors -----

var (
	// ErrClosed is returned when Enqueue is called on a closed worker or
	// after its base context was cancelled.
	ErrClosed = &Error{"queue is closed"}
	// ErrStopped is returned by Wait when the base context was cancelled
	// before the queue drained.
	ErrStopped = &Error{"queue stopped with pending tasks"}
	// ErrNilTask is returned when a task without Run function is enqueued.
	ErrNilTask = &Error{"task has no run function"}
	// ErrTaskPanic wraps a recovered panic.
	ErrTaskPanic = &Error{"task panicked"}
)

// Error is a simple error implementation.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// ----- Metrics -----

// Metrics instruments a Worker. Implementations must be thread-safe.
type Metrics interface {
	TaskDuration(queue string) metrics.Timer
	TaskProcessed(queue string, success bool)
	Depth(queue string, depth int)
}

type nopMetrics struct{}

func (nopMetrics) TaskDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) TaskProcessed(string, bool)        {}
func (nopMetrics) Depth(string, int)                 {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
