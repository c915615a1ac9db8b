package logger

import (
	"context"

	"go.uber.org/fx"
)

// FXModule defines the Fx module for the logger package.
//
// The module:
//  1. Provides the NewLoggerClient factory function to the dependency injection container
//  2. Invokes RegisterLoggerLifecycle to flush buffered entries during shutdown
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    fx.Provide(func() logger.Config { return logger.Config{Level: logger.Info} }),
//	)
//
// Dependencies required by this module:
// - A logger.Config instance must be available in the dependency injection container
var FXModule = fx.Module("logger",
	fx.Provide(
		NewLoggerClient,
	),
	fx.Invoke(RegisterLoggerLifecycle),
)

// RegisterLoggerLifecycle registers a shutdown hook that flushes the Zap logger so no
// buffered entries are lost when the application terminates.
func RegisterLoggerLifecycle(lc fx.Lifecycle, client *Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync on stderr returns EINVAL/ENOTTY on some platforms
			_ = client.Flush()
			return nil
		},
	})
}
