package cache

// Metrics instruments a Memory cache. Implementations must be thread-safe.
type Metrics interface {
	Hit()
	Miss()
	Eviction()
	Size(entries int)
	PreloadFailed()
}

type nopMetrics struct{}

func (nopMetrics) Hit()           {}
func (nopMetrics) Miss()          {}
func (nopMetrics) Eviction()      {}
func (nopMetrics) Size(int)       {}
func (nopMetrics) PreloadFailed() {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
