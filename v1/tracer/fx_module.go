package tracer

import (
	"context"

	"go.uber.org/fx"

	"github.com/dizzycode/rabbitkit/v1/logger"
)

// FXModule provides *Tracer and flushes it on application stop.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    tracer.FXModule,
//	    fx.Provide(func() tracer.Config { return tracer.Config{ServiceName: "retry-worker"} }),
//	)
var FXModule = fx.Module("tracer",
	fx.Provide(
		NewClientWithDI,
	),
	fx.Invoke(RegisterTracerLifecycle),
)

// TracerParams groups the dependencies needed to create a Tracer.
type TracerParams struct {
	fx.In

	Config Config
	Logger *logger.Logger `optional:"true"`
}

// NewClientWithDI creates a Tracer from injected dependencies, falling back to a no-op
// logger.
func NewClientWithDI(params TracerParams) (*Tracer, error) {
	log := params.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return NewClient(params.Config, log)
}

// RegisterTracerLifecycle shuts the tracer down on application stop so pending spans are
// exported.
func RegisterTracerLifecycle(lc fx.Lifecycle, tracer *Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if tracer == nil || tracer.provider == nil {
				return nil
			}
			tracer.logger.Info("shutting down tracer")
			return tracer.Shutdown(ctx)
		},
	})
}
