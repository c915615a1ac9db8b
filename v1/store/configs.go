package store

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// DefaultClosedTTL is how long a key is kept after MarkAsClosed.
	DefaultClosedTTL = 7 * 24 * time.Hour

	// DefaultDialTimeout bounds connection establishment and the startup ping.
	DefaultDialTimeout = 5 * time.Second
)

// Config defines the Redis store configuration.
type Config struct {
	// URL is a redis:// or rediss:// URL, e.g. "redis://:secret@localhost:6379/0".
	URL string `yaml:"url" envconfig:"REDIS_URL"`

	// KeyPrefix is prepended to every key, e.g. "retry-worker:".
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`

	// ClosedTTL overrides DefaultClosedTTL.
	ClosedTTL time.Duration `yaml:"closed_ttl" envconfig:"REDIS_CLOSED_TTL"`

	// DialTimeout overrides DefaultDialTimeout.
	DialTimeout time.Duration `yaml:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT"`

	// ReadTimeout and WriteTimeout override the values parsed from URL when set.
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`

	// PoolSize overrides the go-redis default of 10 connections per CPU.
	PoolSize int `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
}

// Validate checks that the configuration can produce a client.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.ClosedTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.PoolSize, validation.Min(0)),
	)
}

func (c Config) withDefaults() Config {
	if c.ClosedTTL == 0 {
		c.ClosedTTL = DefaultClosedTTL
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}
