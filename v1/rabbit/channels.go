package rabbit

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

// GetChannel returns the channel registered under channelID.
//
// An empty channelID selects the default channel opened by Connect. A non-empty ID is
// created lazily on first use (QoS applied, observers registered) and cached; concurrent
// callers asking for the same unseen ID share a single channel.
func (c *Connection) GetChannel(channelID string) (Channel, error) {
	if channelID == "" || channelID == DefaultChannelID {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			return nil, ErrClosed
		}
		if c.defaultChannel == nil {
			return nil, ErrNotInitialized
		}
		return c.defaultChannel, nil
	}

	c.mu.RLock()
	if ch, ok := c.channels[channelID]; ok {
		c.mu.RUnlock()
		return ch, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[channelID]; ok {
		return ch, nil
	}
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrNotInitialized
	}

	c.logger.Info("creating named channel", "channelId", channelID)

	ch, err := c.openChannel(c.conn, channelID)
	if err != nil {
		return nil, err
	}
	c.channels[channelID] = ch
	c.watchChannel(ch, channelID)

	c.logger.Debug("named channel created", "channelId", channelID)
	return ch, nil
}

// watchConnection logs when the broker link goes away.
func (c *Connection) watchConnection(conn amqpConnection) {
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		closeErr, ok := <-closes
		if ok && closeErr != nil {
			c.logger.Error("RabbitMQ connection error", "error", closeErr, "code", closeErr.Code)
			return
		}
		c.logger.Warn("RabbitMQ connection closed")
	}()
}

// watchChannel logs channel closes and returned messages. A closed named channel is
// dropped from the cache so the next GetChannel recreates it; the default channel is not.
func (c *Connection) watchChannel(ch Channel, channelID string) {
	closes := ch.NotifyClose(make(chan *amqp.Error, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 16))

	go func() {
		for ret := range returns {
			c.handleReturn(channelID, ret)
		}
	}()

	go func() {
		closeErr, ok := <-closes
		if ok && closeErr != nil {
			c.logger.Error("RabbitMQ channel error", "channelId", channelID, "error", closeErr, "code", closeErr.Code)
		} else {
			c.logger.Debug("RabbitMQ channel closed", "channelId", channelID)
		}

		if channelID == DefaultChannelID {
			return
		}
		c.mu.Lock()
		if current, ok := c.channels[channelID]; ok && current == ch {
			delete(c.channels, channelID)
		}
		c.mu.Unlock()
	}()
}

func (c *Connection) handleReturn(channelID string, ret amqp.Return) {
	c.logger.Warn("message returned by broker",
		"channelId", channelID,
		"exchange", ret.Exchange,
		"routingKey", ret.RoutingKey,
		"replyCode", ret.ReplyCode,
		"replyText", ret.ReplyText,
		"messageId", ret.MessageId,
	)
	c.observe("return", ret.Exchange, ret.RoutingKey, 0, ErrUnroutable, int64(len(ret.Body)), map[string]interface{}{
		"reply_code": ret.ReplyCode,
		"reply_text": ret.ReplyText,
		"channel":    channelID,
	})

	c.returnMu.RLock()
	fn := c.onReturn
	c.returnMu.RUnlock()
	if fn != nil {
		fn(channelID, ret)
	}
}

// RegisterConsumerTag records the consumer tag of the consumer reading queue on the
// default channel.
func (c *Connection) RegisterConsumerTag(queue, consumerTag string) {
	c.registerConsumer(queue, consumerTag, "")
}

func (c *Connection) registerConsumer(queue, consumerTag, channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[queue] = consumerRef{tag: consumerTag, channelID: channelID}
}

// GetConsumerTag returns the consumer tag registered for queue.
func (c *Connection) GetConsumerTag(queue string) (string, bool) {
	ref, ok := c.consumer(queue)
	return ref.tag, ok
}

func (c *Connection) consumer(queue string) (consumerRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.consumers[queue]
	return ref, ok
}

// RemoveConsumerTag forgets the consumer tag registered for queue.
func (c *Connection) RemoveConsumerTag(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumers, queue)
}

// removeConsumerIfTag drops the registration only if it still refers to tag.
func (c *Connection) removeConsumerIfTag(queue, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, ok := c.consumers[queue]; ok && ref.tag == tag {
		delete(c.consumers, queue)
	}
}

// IsConnected reports whether Connect succeeded and Close has not been called since.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.defaultChannel != nil && !c.closed && !c.conn.IsClosed()
}

// Close closes every named channel, then the default channel, then the link, and forgets
// all registrations. Errors are collected rather than stopping the shutdown; calling Close
// again is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	start := time.Now()

	var err error
	for channelID, ch := range c.channels {
		if closeErr := ch.Close(); closeErr != nil {
			c.logger.Error("failed to close named channel", "channelId", channelID, "error", closeErr)
			err = multierr.Append(err, &ConnectionError{Op: "close channel " + channelID, Err: closeErr})
			continue
		}
		c.logger.Debug("named channel closed", "channelId", channelID)
	}
	c.channels = make(map[string]Channel)

	if c.defaultChannel != nil {
		if closeErr := c.defaultChannel.Close(); closeErr != nil {
			c.logger.Error("failed to close default channel", "error", closeErr)
			err = multierr.Append(err, &ConnectionError{Op: "close channel " + DefaultChannelID, Err: closeErr})
		}
		c.defaultChannel = nil
	}

	if c.conn != nil {
		if closeErr := c.conn.Close(); closeErr != nil {
			c.logger.Error("failed to close connection", "error", closeErr)
			err = multierr.Append(err, &ConnectionError{Op: "close connection", URL: maskURL(c.cfg.URL), Err: closeErr})
		}
		c.conn = nil
	}

	c.consumers = make(map[string]consumerRef)
	c.closed = true
	c.ClearQueueCache()

	c.logger.Info("RabbitMQ connection closed", "duration", time.Since(start))
	return err
}
