package store

import "context"

// Store is a string key-value store with a close-then-expire lifecycle: entries live
// forever until MarkAsClosed gives them a ClosedTTL.
//
// This interface is implemented by the concrete *RedisStore type.
type Store interface {
	// Set stores value under key without expiry, replacing any existing value and TTL.
	Set(ctx context.Context, key, value string) error

	// Get returns the value under key. A missing key returns ("", false, nil).
	Get(ctx context.Context, key string) (value string, exists bool, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// MarkAsClosed keeps the value but lets it expire after the closed TTL. A missing
	// key is left missing.
	MarkAsClosed(ctx context.Context, key string) error
}

// Logger is the logging capability used by the store. *logger.Logger satisfies it.
type Logger interface {
	Info(msg string, context ...any)
	Warn(msg string, context ...any)
	Error(msg string, context ...any)
	Debug(msg string, context ...any)
}

var _ Store = (*RedisStore)(nil)
