package rabbit

import (
	"context"
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultMaxDelayMs caps exponential backoff when no explicit maximum is given (5 minutes).
const DefaultMaxDelayMs = 300000

// RetryStrategy decides what happens to a delivery whose handler failed.
//
// The set of strategies is closed: ImmediateRetry, FixedDelayRetry and
// ExponentialBackoffRetry. A strategy holds no per-message state; the attempt count
// travels with the message in its headers (see GetRetryMetadata).
//
// Setup is called once per consumed queue, after the queue is declared and before
// consumption starts. HandleFailure must only be called after ShouldRetry returned true.
type RetryStrategy interface {
	// ShouldRetry reports whether the delivery has attempts left.
	ShouldRetry(delivery *amqp.Delivery) bool

	// GetDelay returns the delay in milliseconds before the given attempt (0-indexed)
	// is redelivered.
	GetDelay(attempt int) int

	// Setup provisions the broker topology the strategy needs. It is idempotent.
	Setup(ch Channel, queue string) error

	// HandleFailure re-routes the failed delivery for another attempt.
	HandleFailure(ctx context.Context, ch Channel, delivery *amqp.Delivery) error

	// Validate checks the strategy parameters.
	Validate() error

	// Name identifies the strategy in logs and errors.
	Name() string

	// settlesDelivery reports whether HandleFailure acknowledges the delivery itself.
	settlesDelivery() bool
}

// Topology names derived from a queue name.
func dlxName(queue string) string                { return queue + ".dlx" }
func waitQueueName(queue string) string          { return queue + ".wait" }
func tierQueueName(queue string, i int) string   { return fmt.Sprintf("%s.wait.%d", queue, i) }
func deadLetterQueueName(queue string) string    { return queue + ".failed" }
func deadLetterExchangeName(queue string) string { return queue + ".failed.dlx" }

// ImmediateRetry requeues failed deliveries on the same queue straight away.
//
// The broker redelivers the original message, so headers stamped by HandleFailure are not
// carried over. On classic queues a handler that keeps failing therefore loops until it
// succeeds; on quorum queues the broker's x-delivery-count header bounds the attempts.
type ImmediateRetry struct {
	MaxAttempts int
}

// NewImmediateRetry creates an immediate retry strategy.
func NewImmediateRetry(maxAttempts int) *ImmediateRetry {
	return &ImmediateRetry{MaxAttempts: maxAttempts}
}

// ShouldRetry bounds attempts by x-retry-count or, on quorum queues, by the broker's
// x-delivery-count, whichever is higher.
func (s *ImmediateRetry) ShouldRetry(delivery *amqp.Delivery) bool {
	attempts := max(GetRetryMetadata(delivery).RetryCount, deliveryCount(delivery))
	return attempts < s.MaxAttempts
}

func (s *ImmediateRetry) GetDelay(int) int { return 0 }

func (s *ImmediateRetry) Setup(Channel, string) error { return nil }

// HandleFailure stamps the retry headers on the delivery and nacks it with requeue.
// The delivery is settled when this returns without error.
func (s *ImmediateRetry) HandleFailure(_ context.Context, _ Channel, delivery *amqp.Delivery) error {
	delivery.Headers = nextRetryHeaders(delivery.Headers, retryQueue(delivery), time.Now())
	if err := delivery.Nack(false, true); err != nil {
		return fmt.Errorf("nack with requeue: %w", err)
	}
	return nil
}

func (s *ImmediateRetry) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.MaxAttempts, validation.Min(0)),
	)
}

func (s *ImmediateRetry) Name() string { return "immediate" }

func (s *ImmediateRetry) settlesDelivery() bool { return true }

// FixedDelayRetry parks failed messages in <queue>.wait for DelayMs. When the TTL expires
// the broker dead-letters them through <queue>.dlx back into the queue.
type FixedDelayRetry struct {
	MaxAttempts int
	DelayMs     int
}

// NewFixedDelayRetry creates a fixed delay retry strategy.
func NewFixedDelayRetry(maxAttempts, delayMs int) *FixedDelayRetry {
	return &FixedDelayRetry{MaxAttempts: maxAttempts, DelayMs: delayMs}
}

func (s *FixedDelayRetry) ShouldRetry(delivery *amqp.Delivery) bool {
	return GetRetryMetadata(delivery).RetryCount < s.MaxAttempts
}

func (s *FixedDelayRetry) GetDelay(int) int { return s.DelayMs }

// Setup declares <queue>.dlx, the <queue>.wait queue and binds queue to the DLX.
func (s *FixedDelayRetry) Setup(ch Channel, queue string) error {
	if err := declareRetryExchange(ch, queue); err != nil {
		return err
	}
	if err := declareWaitQueue(ch, waitQueueName(queue), queue, s.DelayMs); err != nil {
		return err
	}
	return bindToRetryExchange(ch, queue)
}

// HandleFailure publishes a copy of the delivery with updated headers to <queue>.wait.
// The caller acknowledges the original delivery.
func (s *FixedDelayRetry) HandleFailure(ctx context.Context, ch Channel, delivery *amqp.Delivery) error {
	if !s.ShouldRetry(delivery) {
		return ErrRetriesExhausted
	}
	queue := retryQueue(delivery)
	return publishToWaitQueue(ctx, ch, waitQueueName(queue), queue, delivery)
}

func (s *FixedDelayRetry) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.MaxAttempts, validation.Min(0)),
		validation.Field(&s.DelayMs, validation.Required, validation.Min(1), validation.Max(math.MaxInt32)),
	)
}

func (s *FixedDelayRetry) Name() string { return "fixed_delay" }

func (s *FixedDelayRetry) settlesDelivery() bool { return false }

// ExponentialBackoffRetry parks the n-th failure in <queue>.wait.<n>, whose TTL is
// GetDelay(n). One wait queue is provisioned per attempt.
type ExponentialBackoffRetry struct {
	MaxAttempts    int
	InitialDelayMs int
	Multiplier     float64
	MaxDelayMs     int
}

// NewExponentialBackoff creates an exponential backoff strategy capped at DefaultMaxDelayMs.
func NewExponentialBackoff(maxAttempts, initialDelayMs int, multiplier float64) *ExponentialBackoffRetry {
	return NewExponentialBackoffWithMaxDelay(maxAttempts, initialDelayMs, multiplier, DefaultMaxDelayMs)
}

// NewExponentialBackoffWithMaxDelay creates an exponential backoff strategy with a custom cap.
func NewExponentialBackoffWithMaxDelay(maxAttempts, initialDelayMs int, multiplier float64, maxDelayMs int) *ExponentialBackoffRetry {
	return &ExponentialBackoffRetry{
		MaxAttempts:    maxAttempts,
		InitialDelayMs: initialDelayMs,
		Multiplier:     multiplier,
		MaxDelayMs:     maxDelayMs,
	}
}

func (s *ExponentialBackoffRetry) ShouldRetry(delivery *amqp.Delivery) bool {
	return GetRetryMetadata(delivery).RetryCount < s.MaxAttempts
}

// GetDelay returns min(InitialDelayMs * Multiplier^attempt, MaxDelayMs), truncated
// toward zero.
func (s *ExponentialBackoffRetry) GetDelay(attempt int) int {
	delay := float64(s.InitialDelayMs) * math.Pow(s.Multiplier, float64(attempt))
	if delay > float64(s.MaxDelayMs) {
		return s.MaxDelayMs
	}
	return int(delay)
}

// Setup declares <queue>.dlx, the wait queues <queue>.wait.0 .. <queue>.wait.<MaxAttempts-1>
// and binds queue to the DLX.
func (s *ExponentialBackoffRetry) Setup(ch Channel, queue string) error {
	if err := declareRetryExchange(ch, queue); err != nil {
		return err
	}
	for i := 0; i < s.MaxAttempts; i++ {
		if err := declareWaitQueue(ch, tierQueueName(queue, i), queue, s.GetDelay(i)); err != nil {
			return err
		}
	}
	return bindToRetryExchange(ch, queue)
}

// HandleFailure publishes a copy of the delivery to the wait queue of its current
// attempt. Deliveries that already used every attempt are refused with
// ErrRetriesExhausted since no wait queue exists for them.
func (s *ExponentialBackoffRetry) HandleFailure(ctx context.Context, ch Channel, delivery *amqp.Delivery) error {
	meta := GetRetryMetadata(delivery)
	if meta.RetryCount >= s.MaxAttempts {
		return ErrRetriesExhausted
	}
	queue := retryQueue(delivery)
	return publishToWaitQueue(ctx, ch, tierQueueName(queue, meta.RetryCount), queue, delivery)
}

func (s *ExponentialBackoffRetry) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.MaxAttempts, validation.Min(0)),
		validation.Field(&s.InitialDelayMs, validation.Required, validation.Min(1), validation.Max(math.MaxInt32)),
		validation.Field(&s.Multiplier, validation.Required, validation.Min(1.0)),
		validation.Field(&s.MaxDelayMs, validation.Required, validation.Min(1), validation.Max(math.MaxInt32)),
	)
}

func (s *ExponentialBackoffRetry) Name() string { return "exponential_backoff" }

func (s *ExponentialBackoffRetry) settlesDelivery() bool { return false }

// retryQueue is the queue a failed delivery should return to.
func retryQueue(delivery *amqp.Delivery) string {
	if queue, ok := delivery.Headers[HeaderOriginalQueue].(string); ok && queue != "" {
		return queue
	}
	return delivery.RoutingKey
}

func declareRetryExchange(ch Channel, queue string) error {
	name := dlxName(queue)
	if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return &DeclareError{Kind: "exchange", Name: name, Err: err}
	}
	return nil
}

func declareWaitQueue(ch Channel, name, queue string, ttlMs int) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxName(queue),
		"x-dead-letter-routing-key": queue,
		"x-message-ttl":             int32(ttlMs),
	})
	if err != nil {
		return &DeclareError{Kind: "queue", Name: name, Err: err}
	}
	return nil
}

func bindToRetryExchange(ch Channel, queue string) error {
	if err := ch.QueueBind(queue, queue, dlxName(queue), false, nil); err != nil {
		return &DeclareError{Kind: "binding", Name: queue + "->" + dlxName(queue), Err: err}
	}
	return nil
}

// publishToWaitQueue publishes a copy of the delivery with incremented retry headers.
// The stamped headers are also written back to the delivery.
func publishToWaitQueue(ctx context.Context, ch Channel, waitQueue, queue string, delivery *amqp.Delivery) error {
	headers := nextRetryHeaders(delivery.Headers, queue, time.Now())

	err := ch.PublishWithContext(ctx, "", waitQueue, true, false, amqp.Publishing{
		Headers:         headers,
		ContentType:     delivery.ContentType,
		ContentEncoding: delivery.ContentEncoding,
		DeliveryMode:    delivery.DeliveryMode,
		Priority:        delivery.Priority,
		CorrelationId:   delivery.CorrelationId,
		MessageId:       delivery.MessageId,
		Timestamp:       delivery.Timestamp,
		Type:            delivery.Type,
		AppId:           delivery.AppId,
		Body:            delivery.Body,
	})
	if err != nil {
		return fmt.Errorf("publish to wait queue %s: %w", waitQueue, err)
	}
	delivery.Headers = headers
	return nil
}

var (
	_ RetryStrategy = (*ImmediateRetry)(nil)
	_ RetryStrategy = (*FixedDelayRetry)(nil)
	_ RetryStrategy = (*ExponentialBackoffRetry)(nil)
)
