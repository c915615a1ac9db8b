package rabbit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

// ConsumeQueue provisions the queue and its retry topology, then consumes it in the
// background until ctx is cancelled, CancelConsumer is called or the channel closes.
//
// Provisioning happens in this order so no message is delivered before the redelivery
// path exists:
//  1. the DLQ (<queue>.failed behind <queue>.failed.dlx) when opts.EnableDLQ is set,
//     with the queue's dead-letter arguments pointed at it
//  2. the queue itself
//  3. opts.RetryStrategy.Setup
//  4. the consumer, whose tag is registered on conn
//
// Every failure before consumption starts is returned. After that, handler failures are
// never returned: they are logged and routed through the retry strategy. A successful
// handler acks; a failed one is retried while the strategy allows it and nacked without
// requeue (so dead-lettered) afterwards.
//
// Handlers run on up to opts.Concurrency workers, outside the channel's read loop. They
// receive a context that is not cancelled with ctx, so in-flight work finishes when the
// consumer stops. A nil opts uses DefaultConsumeOptions.
func ConsumeQueue(ctx context.Context, conn *Connection, queue string, handler MessageHandler, opts *ConsumeOptions) error {
	o := DefaultConsumeOptions()
	if opts != nil {
		o = *opts
	}
	o.Args = cloneTable(o.Args)
	qo := DefaultQueueOptions()
	if o.QueueOptions != nil {
		qo = o.QueueOptions.clone()
	}
	channelID := channelLabel(o.ChannelID)

	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.RetryStrategy != nil {
		if err := o.RetryStrategy.Validate(); err != nil {
			return fmt.Errorf("%w: %s retry: %v", ErrInvalidOptions, o.RetryStrategy.Name(), err)
		}
		if o.NoAck {
			conn.logger.Warn("retry strategy has no effect with automatic acknowledgement", "queue", queue)
		}
	}

	ch, err := conn.GetChannel(o.ChannelID)
	if err != nil {
		return err
	}

	if o.EnableDLQ {
		if err := setupDLQ(ch, queue, &qo); err != nil {
			conn.logger.Error("failed to set up dead letter queue", "queue", queue, "channelId", channelID, "error", err)
			return &RetrySetupError{Queue: queue, Strategy: "dead_letter", Err: err}
		}
		conn.logger.Info("dead letter queue ready", "queue", queue, "dlq", deadLetterQueueName(queue))
	}

	if _, err := ch.QueueDeclare(queue, qo.Durable, qo.AutoDelete, qo.Exclusive, qo.NoWait, qo.Args); err != nil {
		conn.logger.Error("failed to declare queue", "queue", queue, "channelId", channelID, "error", err)
		return &DeclareError{Kind: "queue", Name: queue, Err: err}
	}
	conn.markQueueChecked(queue)

	if o.RetryStrategy != nil {
		if err := o.RetryStrategy.Setup(ch, queue); err != nil {
			conn.logger.Error("failed to set up retry strategy", "queue", queue, "strategy", o.RetryStrategy.Name(), "channelId", channelID, "error", err)
			return &RetrySetupError{Queue: queue, Strategy: o.RetryStrategy.Name(), Err: err}
		}
	}

	tag := o.ConsumerTag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s", queue, uuid.NewString())
	}

	deliveries, err := ch.Consume(queue, tag, o.NoAck, o.Exclusive, false, o.NoWait, o.Args)
	if err != nil {
		conn.logger.Error("failed to start consuming", "queue", queue, "channelId", channelID, "error", err)
		return fmt.Errorf("consume queue %s: %w", queue, err)
	}
	conn.registerConsumer(queue, tag, o.ChannelID)

	workers := o.Concurrency
	if workers == 0 {
		workers = conn.cfg.Prefetch
	}
	if workers < 1 {
		workers = 1
	}

	c := &consumer{
		conn:    conn,
		ch:      ch,
		queue:   queue,
		tag:     tag,
		handler: handler,
		opts:    o,
		sem:     semaphore.NewWeighted(int64(workers)),
	}
	go c.run(ctx, deliveries)

	conn.logger.Info("started consuming queue",
		"queue", queue,
		"consumerTag", tag,
		"channelId", channelID,
		"concurrency", workers,
	)
	return nil
}

// CancelConsumer stops the consumer registered for queue. Only new deliveries stop;
// handlers already running finish. Without a registered consumer it logs a warning and
// does nothing.
func CancelConsumer(conn *Connection, queue string) error {
	ref, ok := conn.consumer(queue)
	if !ok {
		conn.logger.Warn("no consumer registered for queue", "queue", queue)
		return nil
	}

	ch, err := conn.GetChannel(ref.channelID)
	if err != nil {
		return err
	}
	if err := ch.Cancel(ref.tag, false); err != nil {
		conn.logger.Error("failed to cancel consumer", "queue", queue, "consumerTag", ref.tag, "error", err)
		return fmt.Errorf("cancel consumer %s: %w", ref.tag, err)
	}
	conn.removeConsumerIfTag(queue, ref.tag)

	conn.logger.Info("consumer cancelled", "queue", queue, "consumerTag", ref.tag)
	return nil
}

// setupDLQ declares <queue>.failed.dlx and <queue>.failed, binds them and points the
// queue's dead-letter arguments at them. It must run before the queue is declared since
// the arguments are fixed at declaration.
func setupDLQ(ch Channel, queue string, qo *QueueOptions) error {
	exchange := deadLetterExchangeName(queue)
	dlq := deadLetterQueueName(queue)

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return &DeclareError{Kind: "exchange", Name: exchange, Err: err}
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return &DeclareError{Kind: "queue", Name: dlq, Err: err}
	}
	if err := ch.QueueBind(dlq, dlq, exchange, false, nil); err != nil {
		return &DeclareError{Kind: "binding", Name: dlq + "->" + exchange, Err: err}
	}

	if qo.Args == nil {
		qo.Args = amqp.Table{}
	}
	qo.Args["x-dead-letter-exchange"] = exchange
	qo.Args["x-dead-letter-routing-key"] = dlq
	return nil
}

type consumer struct {
	conn    *Connection
	ch      Channel
	queue   string
	tag     string
	handler MessageHandler
	opts    ConsumeOptions
	sem     *semaphore.Weighted
}

// run dispatches deliveries to workers until the delivery channel closes. Cancelling ctx
// cancels the consumer on the broker, also while every worker is busy; deliveries already
// buffered are still processed. When the broker cancel fails the buffered deliveries are
// requeued instead.
func (c *consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	handlerCtx := context.WithoutCancel(ctx)
	done := ctx.Done()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		c.conn.removeConsumerIfTag(c.queue, c.tag)
		c.conn.logger.Info("consumer stopped", "queue", c.queue, "consumerTag", c.tag)
	}()

	for {
		select {
		case <-done:
			done = nil
			if !c.cancel() {
				c.requeueBuffered(nil, deliveries)
				return
			}
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			acquireCtx := handlerCtx
			if done != nil {
				acquireCtx = ctx
			}
			if err := c.sem.Acquire(acquireCtx, 1); err != nil {
				done = nil
				if !c.cancel() {
					c.requeueBuffered(&d, deliveries)
					return
				}
				if err := c.sem.Acquire(handlerCtx, 1); err != nil {
					return
				}
			}

			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer c.sem.Release(1)
				c.process(handlerCtx, &d)
			}(d)
		}
	}
}

// cancel stops the broker from sending more deliveries. It reports whether the broker
// accepted the cancel.
func (c *consumer) cancel() bool {
	if err := c.ch.Cancel(c.tag, false); err != nil {
		c.conn.logger.Warn("failed to cancel consumer on context cancellation", "queue", c.queue, "consumerTag", c.tag, "error", err)
		return false
	}
	return true
}

// requeueBuffered nacks pending, if set, and every delivery already buffered on the
// channel with requeue so they are redelivered to another consumer.
func (c *consumer) requeueBuffered(pending *amqp.Delivery, deliveries <-chan amqp.Delivery) {
	if c.opts.NoAck {
		return
	}
	requeue := func(d *amqp.Delivery) {
		if err := d.Nack(false, true); err != nil {
			c.conn.logger.Debug("failed to requeue buffered delivery", "queue", c.queue, "messageId", d.MessageId, "error", err)
		}
	}
	if pending != nil {
		requeue(pending)
	}
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			requeue(&d)
		default:
			return
		}
	}
}

// process runs the handler and settles the delivery.
func (c *consumer) process(ctx context.Context, d *amqp.Delivery) {
	start := time.Now()
	meta := GetRetryMetadata(d)

	ctx = c.conn.extractTraceContext(ctx, d.Headers)
	ctx, span := c.conn.startSpan(ctx, "rabbit.consume "+c.queue)
	err := c.invoke(ctx, d)
	c.conn.endSpan(span, err)

	c.conn.observe(OperationConsume, c.queue, "", time.Since(start), err, int64(len(d.Body)), map[string]interface{}{
		"channel":     channelLabel(c.opts.ChannelID),
		"retry_count": meta.RetryCount,
		"redelivered": d.Redelivered,
	})

	if err == nil {
		if !c.opts.NoAck {
			c.ack(d)
		}
		return
	}
	c.fail(ctx, d, &HandlerError{Queue: c.queue, Err: err}, meta)
}

// invoke calls the handler, turning a panic into an error.
func (c *consumer) invoke(ctx context.Context, d *amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.conn.logger.Error("message handler panicked", "queue", c.queue, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

// fail routes a failed delivery: retry while the strategy allows it, otherwise nack
// without requeue.
func (c *consumer) fail(ctx context.Context, d *amqp.Delivery, herr *HandlerError, meta RetryMetadata) {
	channelID := channelLabel(c.opts.ChannelID)

	if c.opts.NoAck {
		c.conn.logger.Error("message handler failed; delivery was auto-acknowledged",
			"queue", c.queue, "channelId", channelID, "messageId", d.MessageId, "error", herr.Err)
		return
	}

	strategy := c.opts.RetryStrategy
	if strategy == nil || !strategy.ShouldRetry(d) {
		c.conn.logger.Error("message processing failed, no retries left",
			"queue", c.queue,
			"channelId", channelID,
			"messageId", d.MessageId,
			"retryCount", meta.RetryCount,
			"error", herr.Err,
		)
		c.deadLetter(d, herr)
		return
	}

	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}
	d.Headers[HeaderOriginalQueue] = c.queue

	start := time.Now()
	retryErr := strategy.HandleFailure(ctx, c.ch, d)
	c.conn.observe(OperationRetry, c.queue, strategy.Name(), time.Since(start), retryErr, int64(len(d.Body)), map[string]interface{}{
		"channel":     channelID,
		"retry_count": meta.RetryCount + 1,
		"delay_ms":    strategy.GetDelay(meta.RetryCount),
	})
	if retryErr != nil {
		c.conn.logger.Error("failed to apply retry strategy",
			"queue", c.queue,
			"strategy", strategy.Name(),
			"channelId", channelID,
			"messageId", d.MessageId,
			"error", retryErr,
			"handlerError", herr.Err,
		)
		c.deadLetter(d, retryErr)
		return
	}

	if !strategy.settlesDelivery() {
		c.ack(d)
	}
	c.conn.logger.Warn("message failed, retry scheduled",
		"queue", c.queue,
		"strategy", strategy.Name(),
		"channelId", channelID,
		"messageId", d.MessageId,
		"attempt", meta.RetryCount+1,
		"delayMs", strategy.GetDelay(meta.RetryCount),
		"error", herr.Err,
	)
}

func (c *consumer) ack(d *amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.conn.logger.Error("failed to ack message", "queue", c.queue, "messageId", d.MessageId, "error", err)
	}
}

// deadLetter nacks without requeue. With a DLQ configured the broker moves the message
// to <queue>.failed.
func (c *consumer) deadLetter(d *amqp.Delivery, cause error) {
	start := time.Now()
	err := d.Nack(false, false)
	if err != nil {
		c.conn.logger.Error("failed to nack message", "queue", c.queue, "messageId", d.MessageId, "error", err)
	}

	target := ""
	if c.opts.EnableDLQ {
		target = deadLetterQueueName(c.queue)
	}
	if err == nil {
		err = cause
	}
	c.conn.observe(OperationDeadLetter, c.queue, target, time.Since(start), err, int64(len(d.Body)), nil)
}
