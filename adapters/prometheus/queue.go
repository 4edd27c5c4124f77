package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcikl/ledgersync/core/metrics"
	"github.com/jcikl/ledgersync/core/queue"
)

// queueMetrics implements queue.Metrics using Prometheus.
type queueMetrics struct {
	taskDuration *prometheus.HistogramVec
	tasks        *prometheus.CounterVec
	depth        *prometheus.GaugeVec
}

// NewQueueMetrics creates a new Prometheus implementation of queue.Metrics.
// Queues are told apart by the "queue" label ("sync", "cache-preload").
func NewQueueMetrics(reg prometheus.Registerer) queue.Metrics {
	m := &queueMetrics{
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgersync_queue_task_duration_seconds",
			Help:    "Task execution time in seconds",
			Buckets: defaultBuckets,
		}, []string{"queue"}),

		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgersync_queue_tasks_total",
			Help: "Total number of tasks executed",
		}, []string{"queue", "outcome"}),

		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgersync_queue_depth",
			Help: "Tasks waiting to run",
		}, []string{"queue"}),
	}

	reg.MustRegister(m.taskDuration, m.tasks, m.depth)
	return m
}

func (m *queueMetrics) TaskDuration(q string) metrics.Timer {
	return newTimer(m.taskDuration.WithLabelValues(q))
}

func (m *queueMetrics) TaskProcessed(q string, success bool) {
	m.tasks.WithLabelValues(q, metrics.Outcome(success)).Inc()
}

func (m *queueMetrics) Depth(q string, depth int) {
	m.depth.WithLabelValues(q).Set(float64(depth))
}

var _ queue.Metrics = (*queueMetrics)(nil)
