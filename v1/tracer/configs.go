package tracer

// Config defines the tracer configuration.
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name" envconfig:"TRACER_SERVICE_NAME"`

	// AppEnv is reported as deployment.environment and as the "environment" attribute.
	AppEnv string `yaml:"app_env" envconfig:"TRACER_APP_ENV"`

	// EnableExport sends spans to an OTLP/HTTP collector. Without it spans are created and
	// propagated but never exported.
	EnableExport bool `yaml:"enable_export" envconfig:"TRACER_ENABLE_EXPORT"`

	// Endpoint is the collector host:port. Empty uses the OTEL_EXPORTER_OTLP_* environment
	// variables and the exporter's default.
	Endpoint string `yaml:"endpoint" envconfig:"TRACER_ENDPOINT"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure" envconfig:"TRACER_INSECURE"`
}
