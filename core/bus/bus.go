package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	// Kind identifies an event type, e.g. "transaction:created".
	Kind string

	// Event is anything that knows its kind.
	Event interface {
		EventKind() Kind
	}

	// Handler reacts to one event. Returned errors are logged, never propagated.
	Handler func(ctx context.Context, ev Event) error

	// Unsubscribe removes a subscription. Calling it twice is a no-op.
	Unsubscribe func()
)

type subscription struct {
	id      string
	name    string
	kind    Kind
	handler Handler
}

func (s *subscription) identity() string {
	if s.name != "" {
		return s.name
	}
	return s.id
}

type queued struct {
	ctx context.Context
	ev  Event
}

type Options struct {
	Log     *slog.Logger
	Metrics Metrics
}

// Bus is a publish/subscribe event bus with totally ordered emissions.
type Bus struct {
	log     *slog.Logger
	metrics Metrics

	mu       sync.Mutex
	subs     map[Kind][]*subscription
	inFlight bool
	pending  []queued
}

func New(opts Options) *Bus {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	return &Bus{
		log:     opts.Log.With(slog.String("component", "bus")),
		metrics: opts.Metrics,
		subs:    make(map[Kind][]*subscription),
	}
}

// Subscribe registers handler for kind. Handlers of one kind are started in
// subscription order.
func (b *Bus) Subscribe(kind Kind, handler Handler, opts ...SubscribeOption) Unsubscribe {
	o := subscribeOpts{}
	for _, opt := range opts {
		opt(&o)
	}

	sub := &subscription{
		id:      gonanoid.Must(8),
		name:    o.name,
		kind:    kind,
		handler: handler,
	}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	b.log.Debug("subscribed", slog.String("kind", string(kind)), slog.String("handler", sub.identity()))

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

// On subscribes a typed handler to the kind of T.
func On[T Event](b *Bus, handler func(ctx context.Context, ev T) error, opts ...SubscribeOption) Unsubscribe {
	var zero T
	return b.Subscribe(zero.EventKind(), func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return fmt.Errorf("%w: got %T, want %T", ErrUnexpectedEvent, ev, zero)
		}
		return handler(ctx, typed)
	}, opts...)
}

// UnsubscribeAll removes every subscription.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Kind][]*subscription)
}

// Pending returns the number of events waiting behind the in-flight emission.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Emit delivers ev to all handlers currently subscribed to its kind and
// returns once they all settled.
//
// If another emission is in flight, from a handler or from any other
// goroutine, ev is queued and Emit returns immediately. The in-flight
// emitter drains the queue in arrival order after its own handlers settled,
// so no emission ever interleaves with another.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	b.mu.Lock()
	if b.inFlight {
		b.pending = append(b.pending, queued{ctx: ctx, ev: ev})
		depth := len(b.pending)
		b.mu.Unlock()
		b.metrics.EventQueued(ev.EventKind(), depth)
		return
	}
	b.inFlight = true
	b.mu.Unlock()

	next := queued{ctx: ctx, ev: ev}
	for {
		b.dispatch(next.ctx, next.ev)

		b.mu.Lock()
		if len(b.pending) == 0 {
			b.inFlight = false
			b.mu.Unlock()
			return
		}
		next = b.pending[0]
		b.pending[0] = queued{}
		b.pending = b.pending[1:]
		b.mu.Unlock()
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	kind := ev.EventKind()

	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs[kind]...)
	b.mu.Unlock()

	b.metrics.EventEmitted(kind)

	if len(subs) == 0 {
		b.log.Debug("no handlers, event dropped", slog.String("kind", string(kind)))
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, sub := range subs {
		go func() {
			defer wg.Done()
			b.invoke(ctx, sub, ev)
		}()
	}
	wg.Wait()
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, ev Event) {
	kind := ev.EventKind()
	startedAt := time.Now()
	defer b.metrics.HandlerDuration(kind).ObserveDuration()

	err := safeHandle(ctx, sub.handler, ev)
	b.metrics.HandlerProcessed(kind, err == nil)
	if err != nil {
		b.log.Error(
			"handler failed",
			slog.String("kind", string(kind)),
			slog.String("handler", sub.identity()),
			slog.Duration("duration", time.Since(startedAt)),
			slog.Any("error", err),
		)
	}
}

func safeHandle(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return h(ctx, ev)
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.kind]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.kind]) == 0 {
		delete(b.subs, sub.kind)
	}
}
