package rabbit

import (
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Retry metadata header keys. The values and their wire types are shared with existing
// deployments and must not change.
const (
	// HeaderRetryCount holds the number of retries so far as an int32, starting at 0.
	HeaderRetryCount = "x-retry-count"

	// HeaderOriginalQueue holds the queue the message was first consumed from.
	HeaderOriginalQueue = "x-original-queue"

	// HeaderFirstFailedAt holds the unix time in seconds (int64) of the first failure.
	// It is written once and never overwritten.
	HeaderFirstFailedAt = "x-first-failed-at"

	// headerDeliveryCount is maintained by the broker on quorum queues.
	headerDeliveryCount = "x-delivery-count"
)

// RetryMetadata is the retry state carried in the headers of a delivery.
type RetryMetadata struct {
	RetryCount    int
	OriginalQueue string
	FirstFailedAt time.Time
}

// GetRetryMetadata reads the retry state from the delivery headers. A missing
// x-retry-count means the message has not been retried yet.
func GetRetryMetadata(delivery *amqp.Delivery) RetryMetadata {
	var meta RetryMetadata
	if delivery == nil {
		return meta
	}
	return readRetryMetadata(delivery.Headers)
}

func readRetryMetadata(headers amqp.Table) RetryMetadata {
	var meta RetryMetadata
	if headers == nil {
		return meta
	}

	if n, ok := toInt64(headers[HeaderRetryCount]); ok {
		meta.RetryCount = int(n)
	}
	if meta.RetryCount < 0 {
		meta.RetryCount = 0
	}

	if queue, ok := headers[HeaderOriginalQueue].(string); ok {
		meta.OriginalQueue = queue
	}

	switch v := headers[HeaderFirstFailedAt].(type) {
	case time.Time:
		meta.FirstFailedAt = v
	default:
		if n, ok := toInt64(v); ok && n > 0 {
			meta.FirstFailedAt = time.Unix(n, 0)
		}
	}
	return meta
}

// deliveryCount returns the broker's x-delivery-count, or 0 when the queue does not
// track it.
func deliveryCount(delivery *amqp.Delivery) int {
	if delivery == nil {
		return 0
	}
	n, ok := toInt64(delivery.Headers[headerDeliveryCount])
	if !ok || n < 0 {
		return 0
	}
	return int(n)
}

// nextRetryHeaders returns a copy of headers with the retry count incremented by one,
// the original queue stamped and the first failure time set if it was not set yet. The
// input table is never modified.
func nextRetryHeaders(headers amqp.Table, queue string, now time.Time) amqp.Table {
	meta := readRetryMetadata(headers)

	out := cloneTable(headers)
	if out == nil {
		out = amqp.Table{}
	}
	out[HeaderRetryCount] = int32(meta.RetryCount + 1)
	out[HeaderOriginalQueue] = queue
	if _, ok := out[HeaderFirstFailedAt]; !ok || meta.FirstFailedAt.IsZero() {
		out[HeaderFirstFailedAt] = now.Unix()
	}
	return out
}

// toInt64 coerces the integer encodings a header may arrive in. Brokers and other
// clients do not agree on widths, so every signed and unsigned width is accepted.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
