// Package observability defines the hook that infrastructure packages use to report
// the operations they perform.
//
// Packages such as rabbit and store accept an optional Observer. When one is attached,
// every operation (publish, consume, retry, dead-letter, set, get, ...) is reported as
// an OperationContext. The metrics package ships an Observer that turns those reports
// into Prometheus counters and histograms; tests can plug in a recording observer.
//
// Observers are called synchronously on the hot path and must not block.
package observability

import "time"

// OperationContext describes a single operation performed by an infrastructure component.
type OperationContext struct {
	// Component is the reporting package, e.g. "rabbit" or "store".
	Component string

	// Operation is the verb, e.g. "publish", "consume", "retry", "dead_letter".
	Operation string

	// Resource is the primary target of the operation (queue, exchange, key).
	Resource string

	// SubResource is optional secondary context (routing key, channel ID, wait queue).
	SubResource string

	// Duration is how long the operation took. Zero when not measured.
	Duration time.Duration

	// Error is the failure, if any.
	Error error

	// Size is the payload size in bytes. Zero when not applicable.
	Size int64

	// Metadata carries free-form extra fields.
	Metadata map[string]interface{}
}

// Observer receives operation reports.
type Observer interface {
	ObserveOperation(ctx OperationContext)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx OperationContext)

// ObserveOperation calls f(ctx).
func (f ObserverFunc) ObserveOperation(ctx OperationContext) {
	f(ctx)
}
