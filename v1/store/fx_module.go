package store

import (
	"context"

	"go.uber.org/fx"

	"github.com/dizzycode/rabbitkit/v1/logger"
	"github.com/dizzycode/rabbitkit/v1/observability"
)

// FXModule provides *RedisStore and the Store interface, and closes the client on stop.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    store.FXModule,
//	    fx.Provide(func() store.Config { return store.Config{URL: os.Getenv("REDIS_URL")} }),
//	)
var FXModule = fx.Module("store",
	fx.Provide(
		NewRedisStoreWithDI,
		func(s *RedisStore) Store { return s },
	),
	fx.Invoke(RegisterStoreLifecycle),
)

// StoreParams groups the dependencies needed to create a RedisStore.
type StoreParams struct {
	fx.In

	Config   Config
	Logger   *logger.Logger         `optional:"true"`
	Observer observability.Observer `optional:"true"`
}

// NewRedisStoreWithDI creates a RedisStore from injected dependencies. Startup fails when
// Redis is unreachable.
func NewRedisStoreWithDI(params StoreParams) (*RedisStore, error) {
	var log Logger
	if params.Logger != nil {
		log = params.Logger
	}
	s, err := NewRedisStore(params.Config, log)
	if err != nil {
		return nil, err
	}
	if params.Observer != nil {
		s.WithObserver(params.Observer)
	}
	return s, nil
}

// RegisterStoreLifecycle closes the store when the application stops.
func RegisterStoreLifecycle(lc fx.Lifecycle, s *RedisStore) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Close()
		},
	})
}
