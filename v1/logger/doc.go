// Package logger provides zap-backed structured logging.
//
// The Logger type satisfies the logging capability consumed by the rabbit and store
// packages:
//
//	Info(msg string, context ...any)
//	Warn(msg string, context ...any)
//	Error(msg string, context ...any)
//	Debug(msg string, context ...any)
//
// The variadic context accepts either alternating key/value pairs or a single map.
// Both are normalized to one map (see Fields) before being converted to zap fields:
//
//	log.Info("Message published", "queue", "orders", "payloadSize", 512)
//	log.Info("Message published", map[string]any{"queue": "orders", "payloadSize": 512})
//
// # Default logger
//
// There is no package-level logger. Construct one at the composition root and inject
// it; components that receive nil build a NewNop logger for themselves.
//
// # FX Module Integration
//
//	app := fx.New(
//		logger.FXModule,
//		fx.Provide(func() logger.Config {
//			return logger.Config{Level: logger.Info, ServiceName: "retry-worker"}
//		}),
//	)
package logger
