package store

import (
	"time"

	"github.com/dizzycode/rabbitkit/v1/observability"
)

// Operations reported to the observer.
const (
	OperationSet        = "set"
	OperationGet        = "get"
	OperationDelete     = "delete"
	OperationMarkClosed = "mark_closed"
)

// defaultResource names the store in observations when no key prefix is configured.
const defaultResource = "redis"

// observeOperation notifies the observer about an operation if one is configured.
// The resource is the key prefix, not the key, so per-message keys do not turn into
// metric label values. The unprefixed key travels in the metadata.
func (s *RedisStore) observeOperation(operation, key string, duration time.Duration, err error, size int64, metadata map[string]interface{}) {
	if s == nil || s.observer == nil {
		return
	}

	if metadata == nil {
		metadata = make(map[string]interface{}, 1)
	}
	metadata["key"] = key

	resource := s.cfg.KeyPrefix
	if resource == "" {
		resource = defaultResource
	}

	s.observer.ObserveOperation(observability.OperationContext{
		Component: "store",
		Operation: operation,
		Resource:  resource,
		Duration:  duration,
		Error:     err,
		Size:      size,
		Metadata:  metadata,
	})
}
