// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the bus, the cache, the task queues and the sync engine.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcikl/ledgersync/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds Prometheus implementations for every component.
// Use this when you want to initialize metrics for the whole engine at once.
type AllMetrics struct {
	Bus    *busMetrics
	Cache  *cacheMetrics
	Queue  *queueMetrics
	Syncer *syncerMetrics
}

// NewAllMetrics creates Prometheus metrics for every component.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Bus:    NewBusMetrics(reg).(*busMetrics),
		Cache:  NewCacheMetrics(reg).(*cacheMetrics),
		Queue:  NewQueueMetrics(reg).(*queueMetrics),
		Syncer: NewSyncerMetrics(reg).(*syncerMetrics),
	}
}
