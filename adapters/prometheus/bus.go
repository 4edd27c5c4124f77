package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcikl/ledgersync/core/bus"
	"github.com/jcikl/ledgersync/core/metrics"
)

// busMetrics implements bus.Metrics using Prometheus.
type busMetrics struct {
	eventsEmitted   *prometheus.CounterVec
	eventsQueued    *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	handlerDuration *prometheus.HistogramVec
	handlerCalls    *prometheus.CounterVec
}

// NewBusMetrics creates a new Prometheus implementation of bus.Metrics.
func NewBusMetrics(reg prometheus.Registerer) bus.Metrics {
	m := &busMetrics{
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_bus_events_emitted_total",
			Help: "Total number of events dispatched to handlers",
		}, []string{"kind"}),

		eventsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_bus_events_queued_total",
			Help: "Total number of events deferred behind an in-flight emission",
		}, []string{"kind"}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgersync_bus_queue_depth",
			Help: "Events waiting behind the in-flight emission when the last one was queued",
		}),

		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgersync_bus_handler_duration_seconds",
			Help:    "Handler latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		handlerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_bus_handler_calls_total",
			Help: "Total number of handler invocations",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		m.eventsEmitted,
		m.eventsQueued,
		m.queueDepth,
		m.handlerDuration,
		m.handlerCalls,
	)

	return m
}

func (m *busMetrics) EventEmitted(kind bus.Kind) {
	m.eventsEmitted.WithLabelValues(string(kind)).Inc()
}

func (m *busMetrics) EventQueued(kind bus.Kind, depth int) {
	m.eventsQueued.WithLabelValues(string(kind)).Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *busMetrics) HandlerDuration(kind bus.Kind) metrics.Timer {
	return newTimer(m.handlerDuration.WithLabelValues(string(kind)))
}

func (m *busMetrics) HandlerProcessed(kind bus.Kind, success bool) {
	m.handlerCalls.WithLabelValues(string(kind), metrics.Outcome(success)).Inc()
}

var _ bus.Metrics = (*busMetrics)(nil)
