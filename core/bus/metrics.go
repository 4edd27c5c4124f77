package bus

import "github.com/jcikl/ledgersync/core/metrics"

// Metrics instruments a Bus. Implementations must be thread-safe.
type Metrics interface {
	EventEmitted(kind Kind)
	EventQueued(kind Kind, depth int)
	HandlerDuration(kind Kind) metrics.Timer
	HandlerProcessed(kind Kind, success bool)
}

type nopMetrics struct{}

func (nopMetrics) EventEmitted(Kind)                  {}
func (nopMetrics) EventQueued(Kind, int)              {}
func (nopMetrics) HandlerDuration(Kind) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) HandlerProcessed(Kind, bool)        {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
