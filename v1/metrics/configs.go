package metrics

// DefaultMetricsAddress is used when Config.Address is empty.
const DefaultMetricsAddress = ":9090"

// Config defines the configuration for the Prometheus metrics server.
type Config struct {
	// Address is where the /metrics HTTP server listens, e.g. ":9090" or "127.0.0.1:9100".
	//
	// Default: ":9090"
	Address string `yaml:"address" envconfig:"METRICS_ADDRESS"`

	// EnableDefaultCollectors registers the Go runtime, process and build info
	// collectors.
	EnableDefaultCollectors bool `yaml:"enable_default_collectors" envconfig:"METRICS_ENABLE_DEFAULT_COLLECTORS"`

	// Namespace prefixes every metric registered by this package.
	//
	// Example:
	//   Namespace: "rabbitkit"
	//   → "rabbitkit_operations_total"
	Namespace string `yaml:"namespace" envconfig:"METRICS_NAMESPACE"`

	// ServiceName is attached to every metric as the constant label service="<name>".
	ServiceName string `yaml:"service_name" envconfig:"METRICS_SERVICE_NAME"`
}
