// Package metrics provides Prometheus-based monitoring for services built on this
// module.
//
// # Architecture
//
//   - MetricsCollector interface: the contract for metrics operations
//   - Metrics struct: the concrete implementation, also an observability.Observer
//   - NewMetrics constructor: returns *Metrics
//   - FXModule: provides *Metrics, MetricsCollector and observability.Observer
//
// # Operation metrics
//
// Metrics turns every observability.OperationContext it receives into:
//
//	operations_total{component, operation, resource, status}
//	operation_duration_seconds{component, operation}
//	payload_size_bytes{component, operation}
//
// so attaching it to a rabbit.Connection exports publish, consume, retry, dead_letter
// and return counts per queue, and attaching it to a store.RedisStore exports set, get,
// delete and mark_closed counts.
//
// # Direct Usage (Without FX)
//
//	m := metrics.NewMetrics(metrics.Config{
//		Address:                 ":9090",
//		EnableDefaultCollectors: true,
//		ServiceName:             "retry-worker",
//	})
//	conn.WithObserver(m)
//	go m.Server.ListenAndServe()
//
// # Configuration
//
//	METRICS_ADDRESS=:9090                      # Port and address for /metrics endpoint
//	METRICS_ENABLE_DEFAULT_COLLECTORS=true     # Enable runtime and process metrics
//	METRICS_NAMESPACE=rabbitkit                # Optional prefix for all metric names
//	METRICS_SERVICE_NAME=retry-worker          # Adds service label to all metrics
//
// # Custom Metrics
//
// CreateCounter, CreateHistogram and CreateGauge register additional metrics with the
// same namespace and service label.
//
// # Thread Safety
//
// All methods on Metrics are safe for concurrent use.
package metrics
