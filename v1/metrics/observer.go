package metrics

import (
	"github.com/dizzycode/rabbitkit/v1/observability"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ObserveOperation records an operation reported by rabbit, store or any other
// observability-aware component:
//   - operations_total is incremented with status "success" or "error"
//   - operation_duration_seconds observes the duration when one was measured
//   - payload_size_bytes observes the size when it is known
//
// It implements observability.Observer.
func (m *Metrics) ObserveOperation(op observability.OperationContext) {
	status := statusSuccess
	if op.Error != nil {
		status = statusError
	}

	m.operationsTotal.WithLabelValues(op.Component, op.Operation, op.Resource, status).Inc()
	if op.Duration > 0 {
		m.operationDuration.WithLabelValues(op.Component, op.Operation).Observe(op.Duration.Seconds())
	}
	if op.Size > 0 {
		m.payloadSize.WithLabelValues(op.Component, op.Operation).Observe(float64(op.Size))
	}
}
