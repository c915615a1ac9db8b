package rabbit

import (
	"context"
)

// QueueExists reports whether queue exists on the broker. Positive answers are cached
// until ClearQueueCache; concurrent checks for the same queue share one broker round trip.
//
// The check is a passive declare on a short-lived channel, because the broker closes the
// channel when the queue is missing.
func (c *Connection) QueueExists(ctx context.Context, queue string) (bool, error) {
	if c.queueChecked(queue) {
		return true, nil
	}

	result := c.queueChecks.DoChan(queue, func() (interface{}, error) {
		if c.queueChecked(queue) {
			return true, nil
		}
		return c.checkQueue(queue)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (c *Connection) checkQueue(queue string) (bool, error) {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()
	if closed {
		return false, ErrClosed
	}
	if conn == nil {
		return false, ErrNotInitialized
	}

	ch, err := conn.Channel()
	if err != nil {
		return false, &ConnectionError{Op: "open verification channel", Err: err}
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclarePassive(queue, false, false, false, false, nil); err != nil {
		if IsNotFound(err) {
			c.logger.Debug("queue does not exist", "queue", queue)
			return false, nil
		}
		return false, &DeclareError{Kind: "queue", Name: queue, Err: err}
	}

	c.markQueueChecked(queue)
	return true, nil
}

// ClearQueueCache forgets every queue QueueExists has seen.
func (c *Connection) ClearQueueCache() {
	c.queuesMu.Lock()
	defer c.queuesMu.Unlock()
	c.checkedQueues = make(map[string]struct{})
}

func (c *Connection) queueChecked(queue string) bool {
	c.queuesMu.RLock()
	defer c.queuesMu.RUnlock()
	_, ok := c.checkedQueues[queue]
	return ok
}

func (c *Connection) markQueueChecked(queue string) {
	c.queuesMu.Lock()
	defer c.queuesMu.Unlock()
	c.checkedQueues[queue] = struct{}{}
}
