package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dizzycode/rabbitkit/v1/logger"
	"github.com/dizzycode/rabbitkit/v1/observability"
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
	cfg    Config
	logger Logger

	observer observability.Observer

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore parses cfg.URL, creates the client and pings the server, so a store
// that is returned is known to be reachable. A nil log uses a no-op logger.
//
// Example:
//
//	s, err := store.NewRedisStore(store.Config{URL: "redis://localhost:6379/0"}, log)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func NewRedisStore(cfg Config, log Logger) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	cfg = cfg.withDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	s := newRedisStore(redis.NewClient(opts), cfg, log)
	if err := s.ping(); err != nil {
		_ = s.client.Close()
		return nil, err
	}

	s.logger.Info("redis store initialized", "addr", opts.Addr, "db", opts.DB)
	return s, nil
}

func newRedisStore(client redis.UniversalClient, cfg Config, log Logger) *RedisStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisStore{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: log,
	}
}

func (s *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("failed to connect to redis", "error", err)
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

// WithObserver attaches an observer that receives every set, get, delete and
// mark_closed operation. It returns the store for chaining.
func (s *RedisStore) WithObserver(observer observability.Observer) *RedisStore {
	s.observer = observer
	return s
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	client, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return client.Ping(ctx).Err()
}

// Client returns the underlying go-redis client for operations the Store interface
// does not cover.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Close closes the client. Later calls return ErrClosed from every operation; closing
// twice is a no-op.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("closing redis store")
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		s.logger.Warn("failed to close redis client", "error", err)
		return err
	}
	return nil
}

// acquire read-locks the store for one operation. The caller must RUnlock on success.
func (s *RedisStore) acquire() (redis.UniversalClient, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.client, nil
}

func (s *RedisStore) key(k string) string {
	return s.cfg.KeyPrefix + k
}
