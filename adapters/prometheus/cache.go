package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcikl/ledgersync/core/cache"
)

// cacheMetrics implements cache.Metrics using Prometheus.
type cacheMetrics struct {
	hits           prometheus.Counter
	misses         prometheus.Counter
	evictions      prometheus.Counter
	entries        prometheus.Gauge
	preloadFailure prometheus.Counter
}

// NewCacheMetrics creates a new Prometheus implementation of cache.Metrics.
func NewCacheMetrics(reg prometheus.Registerer) cache.Metrics {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgersync_cache_hits_total",
			Help: "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgersync_cache_misses_total",
			Help: "Total number of cache misses, expired entries included",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgersync_cache_evictions_total",
			Help: "Total number of entries evicted for capacity",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgersync_cache_entries",
			Help: "Number of entries currently held",
		}),
		preloadFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgersync_cache_preload_failures_total",
			Help: "Total number of failed preload fetches",
		}),
	}

	reg.MustRegister(m.hits, m.misses, m.evictions, m.entries, m.preloadFailure)
	return m
}

func (m *cacheMetrics) Hit()             { m.hits.Inc() }
func (m *cacheMetrics) Miss()            { m.misses.Inc() }
func (m *cacheMetrics) Eviction()        { m.evictions.Inc() }
func (m *cacheMetrics) Size(entries int) { m.entries.Set(float64(entries)) }
func (m *cacheMetrics) PreloadFailed()   { m.preloadFailure.Inc() }

var _ cache.Metrics = (*cacheMetrics)(nil)
