// Package metrics holds the instrumentation types shared by the bus, the
// cache, the task queues and the sync engine. Each of them declares its own
// Metrics interface; adapters/prometheus implements them all.
package metrics

// Timer is started when it is created. ObserveDuration records the time
// elapsed since then:
//
//	defer m.EventDuration("transaction:created").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Outcome maps the result of an operation to its label.
func Outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
