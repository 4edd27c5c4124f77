package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcikl/ledgersync/core/metrics"
	"github.com/jcikl/ledgersync/core/syncer"
)

// syncerMetrics implements syncer.Metrics using Prometheus.
type syncerMetrics struct {
	eventDuration *prometheus.HistogramVec
	recomputed    *prometheus.CounterVec
	propagated    *prometheus.CounterVec
	invalidated   prometheus.Counter
}

// NewSyncerMetrics creates a new Prometheus implementation of syncer.Metrics.
func NewSyncerMetrics(reg prometheus.Registerer) syncer.Metrics {
	m := &syncerMetrics{
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgersync_syncer_event_duration_seconds",
			Help:    "Time to process one event in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		recomputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_syncer_recomputations_total",
			Help: "Total number of aggregate recomputations",
		}, []string{"aggregate", "outcome"}),

		propagated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_syncer_propagated_documents_total",
			Help: "Total number of documents whose denormalized name was rewritten",
		}, []string{"field"}),

		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgersync_syncer_invalidated_keys_total",
			Help: "Total number of cache keys invalidated",
		}),
	}

	reg.MustRegister(m.eventDuration, m.recomputed, m.propagated, m.invalidated)
	return m
}

func (m *syncerMetrics) EventDuration(kind string) metrics.Timer {
	return newTimer(m.eventDuration.WithLabelValues(kind))
}

func (m *syncerMetrics) Recomputed(aggregate string, success bool) {
	m.recomputed.WithLabelValues(aggregate, metrics.Outcome(success)).Inc()
}

func (m *syncerMetrics) Propagated(field string, docs int) {
	m.propagated.WithLabelValues(field).Add(float64(docs))
}

func (m *syncerMetrics) Invalidated(keys int) {
	m.invalidated.Add(float64(keys))
}

var _ syncer.Metrics = (*syncerMetrics)(nil)
