package rabbit

import (
	"context"

	"go.uber.org/fx"

	"github.com/dizzycode/rabbitkit/v1/observability"
)

// FXModule provides a *Connection that is connected on start and closed on stop.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    rabbit.FXModule,
//	    fx.Provide(func() rabbit.Config { return loadRabbitConfig() }),
//	)
var FXModule = fx.Module("rabbit",
	fx.Provide(
		NewConnectionWithDI,
	),
	fx.Invoke(RegisterRabbitLifecycle),
)

// RabbitParams groups the dependencies needed to create a Connection.
type RabbitParams struct {
	fx.In

	Config   Config
	Logger   Logger                 `optional:"true"`
	Observer observability.Observer `optional:"true"`
	Tracer   Tracer                 `optional:"true"`
}

// NewConnectionWithDI creates a Connection from injected dependencies. The optional
// logger, observer and tracer are attached when present.
func NewConnectionWithDI(params RabbitParams) (*Connection, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	conn := NewConnection(params.Config, params.Logger)
	if params.Observer != nil {
		conn.WithObserver(params.Observer)
	}
	if params.Tracer != nil {
		conn.WithTracer(params.Tracer)
	}
	return conn, nil
}

// RabbitLifecycleParams groups the dependencies needed for lifecycle management.
type RabbitLifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Connection *Connection
}

// RegisterRabbitLifecycle connects on application start, failing startup if the broker is
// unreachable, and closes every channel and the link on stop.
func RegisterRabbitLifecycle(params RabbitLifecycleParams) {
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return params.Connection.Connect()
		},
		OnStop: func(ctx context.Context) error {
			params.Connection.logger.Info("closing RabbitMQ connection")
			return params.Connection.Close()
		},
	})
}
