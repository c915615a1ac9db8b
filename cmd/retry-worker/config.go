package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/dizzycode/rabbitkit/v1/logger"
	"github.com/dizzycode/rabbitkit/v1/metrics"
	"github.com/dizzycode/rabbitkit/v1/rabbit"
	"github.com/dizzycode/rabbitkit/v1/store"
	"github.com/dizzycode/rabbitkit/v1/tracer"
)

// workerConfig controls the consumer and its retry policy.
type workerConfig struct {
	Queue          string  `envconfig:"WORKER_QUEUE" default:"tasks"`
	MaxAttempts    int     `envconfig:"WORKER_MAX_ATTEMPTS" default:"5"`
	InitialDelayMs int     `envconfig:"WORKER_INITIAL_DELAY_MS" default:"1000"`
	Multiplier     float64 `envconfig:"WORKER_MULTIPLIER" default:"2"`
	MaxDelayMs     int     `envconfig:"WORKER_MAX_DELAY_MS" default:"300000"`
	Concurrency    int     `envconfig:"WORKER_CONCURRENCY" default:"4"`
	CloseKeys      bool    `envconfig:"WORKER_CLOSE_PROCESSED_KEYS" default:"true"`
}

type config struct {
	Logger  logger.Config
	Rabbit  rabbit.Config
	Metrics metrics.Config
	Tracer  tracer.Config
	Store   store.Config
	Worker  workerConfig
}

// loadConfig reads every section from the environment. Each section is processed on its
// own so the variable names are exactly the envconfig tags of the package configs.
func loadConfig() (config, error) {
	cfg := config{
		Metrics: metrics.Config{Address: metrics.DefaultMetricsAddress, EnableDefaultCollectors: true, ServiceName: "retry-worker"},
		Tracer:  tracer.Config{ServiceName: "retry-worker"},
		Logger:  logger.Config{Level: logger.Info, ServiceName: "retry-worker"},
	}

	sections := []struct {
		name   string
		target interface{}
	}{
		{"logger", &cfg.Logger},
		{"rabbit", &cfg.Rabbit},
		{"metrics", &cfg.Metrics},
		{"tracer", &cfg.Tracer},
		{"store", &cfg.Store},
		{"worker", &cfg.Worker},
	}
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return config{}, fmt.Errorf("load %s config: %w", s.name, err)
		}
	}
	return cfg, nil
}

func (c workerConfig) strategy() *rabbit.ExponentialBackoffRetry {
	return rabbit.NewExponentialBackoffWithMaxDelay(c.MaxAttempts, c.InitialDelayMs, c.Multiplier, c.MaxDelayMs)
}
