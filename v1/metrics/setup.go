package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Buckets for operation latency. Retry publishes and acks are sub-millisecond on a
// healthy broker; handler durations reach seconds.
var operationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Buckets for message and value sizes in bytes.
var sizeBuckets = prometheus.ExponentialBuckets(64, 4, 8)

// Metrics encapsulates the Prometheus registry and HTTP server responsible
// for exposing application metrics.
type Metrics struct {
	// Server defines the HTTP server used to expose the /metrics endpoint.
	Server *http.Server

	// Registry is the Prometheus registry where all metrics are registered.
	// Each service maintains its own isolated registry to prevent metric name collisions.
	Registry *prometheus.Registry

	registerer prometheus.Registerer
	namespace  string

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	payloadSize       *prometheus.HistogramVec
}

// NewMetrics sets up a dedicated registry, wraps it with the constant service label,
// registers the operation metrics and, if enabled, the default runtime collectors. The
// returned Server is not started; RegisterMetricsLifecycle does that under fx.
//
// Example:
//
//	m := metrics.NewMetrics(metrics.Config{Address: ":9090", ServiceName: "retry-worker"})
//	conn.WithObserver(m)
//	go m.Server.ListenAndServe()
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	// Every metric emitted by this service carries service="<cfg.ServiceName>".
	wrappedRegistry := prometheus.WrapRegistererWith(
		prometheus.Labels{"service": cfg.ServiceName},
		registry,
	)

	m := &Metrics{
		Registry:   registry,
		registerer: wrappedRegistry,
		namespace:  cfg.Namespace,
	}

	m.operationsTotal = m.createCounterVec("operations_total",
		"Total number of infrastructure operations by component, operation, resource and status",
		[]string{"component", "operation", "resource", "status"})
	m.operationDuration = m.createHistogramVec("operation_duration_seconds",
		"Duration of infrastructure operations in seconds",
		[]string{"component", "operation"}, operationBuckets)
	m.payloadSize = m.createHistogramVec("payload_size_bytes",
		"Size of message bodies and stored values in bytes",
		[]string{"component", "operation"}, sizeBuckets)

	wrappedRegistry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.payloadSize,
	)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	address := cfg.Address
	if address == "" {
		address = DefaultMetricsAddress
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.Server = &http.Server{
		Addr:    address,
		Handler: mux,
	}
	return m
}
