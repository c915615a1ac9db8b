package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishToQueue marshals payload to JSON and publishes it to queue through the default
// exchange.
//
// The queue is not declared unless opts.EnableQueueDeclare is set: the consumer owns the
// topology, including dead-letter arguments a producer would not know about. Without
// publisher confirms a message to a missing queue is dropped silently by the broker;
// set opts.Mandatory to have it returned (see Connection.OnReturn) or opts.VerifyQueue to
// fail fast with ErrQueueNotFound.
//
// A nil opts uses DefaultPublishOptions.
func PublishToQueue(ctx context.Context, conn *Connection, queue string, payload any, opts *PublishOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		conn.logger.Error("failed to marshal payload", "queue", queue, "error", err)
		return &SerializationError{Target: queue, Err: err}
	}
	return publishToQueue(ctx, conn, queue, body, contentTypeJSON, opts)
}

// PublishToQueueRaw publishes body as-is to queue with content type
// application/octet-stream unless opts.ContentType says otherwise.
func PublishToQueueRaw(ctx context.Context, conn *Connection, queue string, body []byte, opts *PublishOptions) error {
	return publishToQueue(ctx, conn, queue, body, contentTypeBytes, opts)
}

func publishToQueue(ctx context.Context, conn *Connection, queue string, body []byte, contentType string, opts *PublishOptions) (err error) {
	o := resolvePublishOptions(opts)
	start := time.Now()
	defer func() {
		conn.observe(OperationPublish, queue, "", time.Since(start), err, int64(len(body)), map[string]interface{}{
			"channel": channelLabel(o.ChannelID),
		})
	}()

	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	ch, err := conn.GetChannel(o.ChannelID)
	if err != nil {
		return err
	}

	if o.EnableQueueDeclare {
		qo := DefaultQueueOptions()
		if o.QueueOptions != nil {
			qo = *o.QueueOptions
		}
		if _, err := ch.QueueDeclare(queue, qo.Durable, qo.AutoDelete, qo.Exclusive, qo.NoWait, qo.Args); err != nil {
			conn.logger.Error("failed to declare queue", "queue", queue, "channelId", channelLabel(o.ChannelID), "error", err)
			return &DeclareError{Kind: "queue", Name: queue, Err: err}
		}
		conn.markQueueChecked(queue)
	} else if o.VerifyQueue {
		exists, err := conn.QueueExists(ctx, queue)
		if err != nil {
			return err
		}
		if !exists {
			conn.logger.Warn("refusing to publish to missing queue", "queue", queue)
			return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
		}
	}

	ctx, span := conn.startSpan(ctx, "rabbit.publish "+queue)
	defer func() { conn.endSpan(span, err) }()

	msg := conn.buildPublishing(ctx, body, contentType, o)
	if err := ch.PublishWithContext(ctx, "", queue, o.Mandatory, false, msg); err != nil {
		conn.logger.Error("failed to publish message to queue", "queue", queue, "channelId", channelLabel(o.ChannelID), "error", err)
		return fmt.Errorf("publish to queue %s: %w", queue, err)
	}

	conn.logger.Debug("message published to queue",
		"queue", queue,
		"messageId", msg.MessageId,
		"payloadSize", len(body),
		"channelId", channelLabel(o.ChannelID),
	)
	return nil
}

// PublishToExchange marshals payload to JSON and publishes it to exchange with
// routingKey. The exchange is always declared first; a nil exchangeOpts declares a
// durable topic exchange. A nil publishOpts uses DefaultPublishOptions.
func PublishToExchange(ctx context.Context, conn *Connection, exchange, routingKey string, payload any, exchangeOpts *ExchangeOptions, publishOpts *PublishOptions) (err error) {
	o := resolvePublishOptions(publishOpts)
	eo := DefaultExchangeOptions()
	if exchangeOpts != nil {
		eo = *exchangeOpts
		if eo.Type == "" {
			eo.Type = DefaultExchangeType
		}
	}

	var size int64
	start := time.Now()
	defer func() {
		conn.observe(OperationPublish, exchange, routingKey, time.Since(start), err, size, map[string]interface{}{
			"channel": channelLabel(o.ChannelID),
		})
	}()

	if err := errors.Join(o.Validate(), eo.Validate()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	ch, err := conn.GetChannel(o.ChannelID)
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(exchange, eo.Type, eo.Durable, eo.AutoDelete, eo.Internal, eo.NoWait, eo.Args); err != nil {
		conn.logger.Error("failed to declare exchange", "exchange", exchange, "type", eo.Type, "error", err)
		return &DeclareError{Kind: "exchange", Name: exchange, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		conn.logger.Error("failed to marshal payload", "exchange", exchange, "routingKey", routingKey, "error", err)
		return &SerializationError{Target: exchange, Err: err}
	}
	size = int64(len(body))

	ctx, span := conn.startSpan(ctx, "rabbit.publish "+exchange)
	defer func() { conn.endSpan(span, err) }()

	msg := conn.buildPublishing(ctx, body, contentTypeJSON, o)
	if err := ch.PublishWithContext(ctx, exchange, routingKey, o.Mandatory, false, msg); err != nil {
		conn.logger.Error("failed to publish message to exchange", "exchange", exchange, "routingKey", routingKey, "error", err)
		return fmt.Errorf("publish to exchange %s: %w", exchange, err)
	}

	conn.logger.Debug("message published to exchange",
		"exchange", exchange,
		"routingKey", routingKey,
		"messageId", msg.MessageId,
		"payloadSize", len(body),
		"channelId", channelLabel(o.ChannelID),
	)
	return nil
}

func resolvePublishOptions(opts *PublishOptions) PublishOptions {
	if opts == nil {
		return DefaultPublishOptions()
	}
	return *opts
}

// buildPublishing applies the publish options. Caller headers are copied, never mutated.
func (c *Connection) buildPublishing(ctx context.Context, body []byte, contentType string, o PublishOptions) amqp.Publishing {
	if o.ContentType != "" {
		contentType = o.ContentType
	}
	messageID := o.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	msg := amqp.Publishing{
		Headers:       c.injectTraceContext(ctx, cloneTable(o.Headers)),
		ContentType:   contentType,
		DeliveryMode:  amqp.Transient,
		Priority:      o.Priority,
		Expiration:    o.Expiration,
		MessageId:     messageID,
		CorrelationId: o.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	if o.Persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	return msg
}
