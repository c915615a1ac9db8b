package logger

// Log levels accepted by Config.Level.
const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// Config defines the configuration for the zap-backed logger.
type Config struct {
	// Level is one of Debug, Info, Warning or Error.
	// Unknown values fall back to Info.
	Level string `yaml:"level" envconfig:"ZAP_LOGGER_LEVEL"`

	// ServiceName is attached to every entry as the "service" field.
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`

	// IsPretty switches to the human-readable console encoder.
	// Useful for local development; production should stay on JSON.
	IsPretty bool `yaml:"is_pretty" envconfig:"ZAP_LOGGER_PRETTY"`
}
