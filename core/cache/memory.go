package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jcikl/ledgersync/core/queue"
)

const (
	DefaultCapacity        = 1000
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultPreloadDelay    = 100 * time.Millisecond
)

type Options struct {
	// Capacity is the maximum number of entries (default: 1000).
	Capacity int
	// DefaultTTL applies to entries put without WithTTL (default: 5m).
	DefaultTTL time.Duration
	// CleanupInterval is the period of the expiry sweep started by Start (default: 1m).
	CleanupInterval time.Duration
	// PreloadDelay is the pause between two queued preloads (default: 100ms,
	// negative disables it).
	PreloadDelay time.Duration
	Log          *slog.Logger
	Metrics      Metrics
	QueueMetrics queue.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	val            any
	createdAt      time.Time
	ttl            time.Duration
	accessCount    uint64
	lastAccessedAt time.Time
	size           int
}

// expired reports whether the entry is logically absent at now.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Memory is an in-memory cache with per-entry TTL and usage-frequency
// eviction. It is safe for concurrent use.
type Memory struct {
	capacity        int
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	log             *slog.Logger
	metrics         Metrics
	now             func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	hits      uint64
	misses    uint64
	evictions uint64
	memBytes  int

	preload *queue.Worker
	flight  singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
}

func New(opts Options) *Memory {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.PreloadDelay < 0 {
		opts.PreloadDelay = 0
	} else if opts.PreloadDelay == 0 {
		opts.PreloadDelay = DefaultPreloadDelay
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := opts.Log.With(slog.String("component", "cache"))

	return &Memory{
		capacity:        opts.Capacity,
		defaultTTL:      opts.DefaultTTL,
		cleanupInterval: opts.CleanupInterval,
		log:             log,
		metrics:         opts.Metrics,
		now:             opts.Now,
		entries:         make(map[string]*entry, opts.Capacity),
		preload: queue.New(queue.Options{
			Name:    "cache-preload",
			Log:     log,
			Delay:   opts.PreloadDelay,
			Metrics: opts.QueueMetrics,
		}),
		stop: make(chan struct{}),
	}
}

// Get returns the value for key. A hit bumps the entry's access count; an
// expired entry is removed and reported as a miss.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if ok && e.expired(now) {
		m.removeLocked(key, e)
		ok = false
	}
	if !ok {
		m.misses++
		m.metrics.Miss()
		return nil, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	m.hits++
	m.metrics.Hit()
	return e.val, true
}

// Put stores val under key. When the cache is full and key is new, exactly
// one entry is evicted first.
func (m *Memory) Put(key string, val any, opts ...PutOption) {
	o := PutOptions{TTL: m.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.TTL <= 0 {
		o.TTL = m.defaultTTL
	}
	size := sizeOf(key, val)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok {
		m.memBytes += size - e.size
		e.val = val
		e.createdAt = now
		e.ttl = o.TTL
		e.size = size
		return
	}

	if len(m.entries) >= m.capacity {
		m.evictLocked()
	}

	m.entries[key] = &entry{
		val:            val,
		createdAt:      now,
		ttl:            o.TTL,
		lastAccessedAt: now,
		size:           size,
	}
	m.memBytes += size
	m.metrics.Size(len(m.entries))
}

// Delete removes key and reports whether it was present.
func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false
	}
	m.removeLocked(key, e)
	return true
}

// Clear removes all entries. Counters are kept.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*entry, m.capacity)
	m.memBytes = 0
	m.metrics.Size(0)
}

// Cleanup removes all expired entries and returns how many were removed.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if e.expired(now) {
			m.removeLocked(key, e)
			removed++
		}
	}
	return removed
}

// Keys returns the physically present keys in sorted order, expired or not.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of physically present entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Preload fetches key in the background. PriorityHigh runs the fetch inline
// and returns its error; lower priorities are queued and throttled, and their
// failures are only logged. A failed fetch never populates the key.
func (m *Memory) Preload(ctx context.Context, key string, fetch Fetcher, p Priority, opts ...PutOption) error {
	if p == PriorityHigh {
		return m.load(ctx, key, fetch, p, opts)
	}
	return m.preload.Enqueue(queue.Task{
		Name: fmt.Sprintf("preload %s (%s)", key, p),
		Run: func(ctx context.Context) error {
			return m.load(ctx, key, fetch, p, opts)
		},
	})
}

// WaitPreloads blocks until the preload queue is drained.
func (m *Memory) WaitPreloads(ctx context.Context) error { return m.preload.Wait(ctx) }

func (m *Memory) load(ctx context.Context, key string, fetch Fetcher, p Priority, opts []PutOption) error {
	val, err := fetch(ctx)
	if err != nil {
		m.metrics.PreloadFailed()
		m.log.Warn(
			"preload failed",
			slog.String("key", key),
			slog.String("priority", p.String()),
			slog.Any("error", err),
		)
		return fmt.Errorf("preload %s: %w", key, err)
	}
	m.Put(key, val, opts...)
	return nil
}

// GetOrFetch returns the cached value for key, or fetches and caches it on a
// miss. Concurrent misses for the same key share one fetch.
func (m *Memory) GetOrFetch(ctx context.Context, key string, fetch Fetcher, opts ...PutOption) (any, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	v, err, _ := m.flight.Do(key, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.Put(key, v, opts...)
		return v, nil
	})
	return v, err
}

// Fetch is the typed form of GetOrFetch.
func Fetch[T any](ctx context.Context, m *Memory, key string, fetch func(ctx context.Context) (T, error), opts ...PutOption) (out T, err error) {
	v, err := m.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts...)
	if err != nil {
		return out, err
	}
	out, ok := v.(T)
	if !ok {
		return out, fmt.Errorf("cache: value for %q is %T, not %T", key, v, out)
	}
	return out, nil
}

// Start runs the periodic expiry sweep until ctx is done or Close is called.
func (m *Memory) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.Cleanup(); n > 0 {
					m.log.Debug("expired entries removed", slog.Int("removed", n))
				}
			}
		}
	}()
}

// Close stops the sweep and the preload queue. Cached values stay readable.
func (m *Memory) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.preload.Close()
	})
}

// evictLocked removes the entry with the lowest access count, breaking ties
// by the oldest last access and then by key.
func (m *Memory) evictLocked() {
	var (
		victimKey string
		victim    *entry
	)
	for k, e := range m.entries {
		if victim == nil || less(k, e, victimKey, victim) {
			victimKey, victim = k, e
		}
	}
	if victim == nil {
		return
	}
	m.removeLocked(victimKey, victim)
	m.evictions++
	m.metrics.Eviction()
	m.log.Debug("evicted", slog.String("key", victimKey), slog.Uint64("access_count", victim.accessCount))
}

func less(ak string, a *entry, bk string, b *entry) bool {
	if a.accessCount != b.accessCount {
		return a.accessCount < b.accessCount
	}
	if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
		return a.lastAccessedAt.Before(b.lastAccessedAt)
	}
	return ak < bk
}

func (m *Memory) removeLocked(key string, e *entry) {
	delete(m.entries, key)
	m.memBytes -= e.size
	m.metrics.Size(len(m.entries))
}

func sizeOf(key string, val any) int {
	data, err := json.Marshal(val)
	if err != nil {
		return len(key) + len(fmt.Sprint(val))
	}
	return len(key) + len(data)
}

var _ Cache = (*Memory)(nil)
