package syncer

import "github.com/jcikl/ledgersync/core/metrics"

// Metrics instruments an Engine. Implementations must be thread-safe.
type Metrics interface {
	// EventDuration times the task processing one event.
	EventDuration(kind string) metrics.Timer
	// Recomputed counts aggregate writes by aggregate ("balance", "spent", "stats").
	Recomputed(aggregate string, success bool)
	// Propagated counts denormalized fields rewritten by a name change.
	Propagated(field string, docs int)
	// Invalidated counts cache keys dropped.
	Invalidated(keys int)
}

type nopMetrics struct{}

func (nopMetrics) EventDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Recomputed(string, bool)            {}
func (nopMetrics) Propagated(string, int)             {}
func (nopMetrics) Invalidated(int)                    {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
