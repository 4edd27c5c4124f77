package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"

	"github.com/jcikl/ledgersync/core/bus"
	"github.com/jcikl/ledgersync/core/ledger"
)

const defaultSubjectPrefix = "ledgersync.events"

var ErrRelayClosed = errors.New("nats: relay closed")

type RelayConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for event subjects, e.g. "ledgersync.events" -> ledgersync.events.transaction.created
}

// Relay carries ledger events between processes. Writers publish the events
// of their mutations; the process running the sync engine forwards them onto
// its local bus.
type Relay struct {
	nc      *natsgo.Conn
	closeNc func()
	log     *slog.Logger
	prefix  string

	mu   sync.Mutex
	subs map[*natsgo.Subscription]struct{}

	closed atomic.Bool
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}

	return &Relay{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("relay", "nats")),
		prefix:  prefix,
		subs:    make(map[*natsgo.Subscription]struct{}),
	}, nil
}

// Subject returns the subject events of kind are published on.
func (r *Relay) Subject(kind bus.Kind) string {
	return r.prefix + "." + strings.ReplaceAll(string(kind), ":", ".")
}

// Publish sends ev to every forwarding process.
func (r *Relay) Publish(ev ledger.Event) error {
	if r.closed.Load() {
		return ErrRelayClosed
	}
	payload, err := ledger.Encode(ev)
	if err != nil {
		return err
	}
	if err := r.nc.Publish(r.Subject(ev.EventKind()), payload); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

// Flush waits until the server processed all published events.
func (r *Relay) Flush(ctx context.Context) error {
	return r.nc.FlushWithContext(ctx)
}

// Forward emits every relayed event on b until ctx is done. Messages of one
// subscription are delivered sequentially, so the bus sees them in publish
// order.
func (r *Relay) Forward(ctx context.Context, b *bus.Bus) error {
	if r.closed.Load() {
		return ErrRelayClosed
	}

	sub, err := r.nc.Subscribe(r.prefix+".>", func(msg *natsgo.Msg) {
		ev, err := ledger.Decode(msg.Data)
		if err != nil {
			r.log.Error("failed to decode event", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		r.log.Debug("event received", slog.String("kind", string(ev.EventKind())))
		b.Emit(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe events: %w", err)
	}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
	}()

	return nil
}

func (r *Relay) Close() error {
	if r.closed.Swap(true) {
		return ErrRelayClosed
	}
	r.mu.Lock()
	for s := range r.subs {
		_ = s.Unsubscribe()
	}
	r.subs = map[*natsgo.Subscription]struct{}{}
	r.mu.Unlock()
	if r.nc != nil {
		_ = r.nc.Flush()
		r.closeNc()
	}
	return nil
}
