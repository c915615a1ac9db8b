package metrics

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"

	"github.com/dizzycode/rabbitkit/v1/logger"
	"github.com/dizzycode/rabbitkit/v1/observability"
)

// FXModule provides *Metrics, exposes it as MetricsCollector and observability.Observer,
// and runs the /metrics server for the lifetime of the application.
//
// Because the module provides an observability.Observer, rabbit.FXModule and
// store.FXModule pick it up automatically.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    metrics.FXModule,
//	    rabbit.FXModule,
//	    fx.Provide(func() metrics.Config {
//	        return metrics.Config{Address: ":9090", ServiceName: "retry-worker"}
//	    }),
//	)
var FXModule = fx.Module("metrics",
	fx.Provide(
		NewMetrics,
		func(m *Metrics) MetricsCollector { return m },
		func(m *Metrics) observability.Observer { return m },
	),
	fx.Invoke(RegisterMetricsLifecycle),
)

// MetricsLifecycleParams groups the dependencies of RegisterMetricsLifecycle.
type MetricsLifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Metrics   *Metrics
	Logger    *logger.Logger `optional:"true"`
}

// RegisterMetricsLifecycle starts the metrics HTTP server in a background goroutine on
// start and shuts it down gracefully on stop.
func RegisterMetricsLifecycle(params MetricsLifecycleParams) {
	m := params.Metrics
	log := params.Logger
	if log == nil {
		log = logger.NewNop()
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("Starting Prometheus metrics server", "address", m.Server.Addr)

				if err := m.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Error starting Prometheus metrics server", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down Prometheus metrics server")
			return m.Server.Shutdown(ctx)
		},
	})
}
