package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the logging capability the package consumes. It matches the method set of
// *logger.Logger from this module: context is either alternating key/value pairs or a
// single map[string]any.
type Logger interface {
	Info(msg string, context ...any)
	Warn(msg string, context ...any)
	Error(msg string, context ...any)
	Debug(msg string, context ...any)
}

// Tracer is the optional tracing capability. It matches the method set of *tracer.Tracer
// from this module.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordErrorOnSpan(span trace.Span, err error)
	GetCarrier(ctx context.Context) map[string]string
	SetCarrierOnContext(ctx context.Context, carrier map[string]string) context.Context
}

// Channel is the subset of *amqp.Channel used by this package. Channels handed out by
// Connection.GetChannel are owned by the Connection; callers must not close them or keep
// them beyond the operation that borrowed them.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	Close() error
}

// MessageHandler processes a single delivery. Returning an error (or panicking) marks the
// delivery as failed and hands it to the configured RetryStrategy.
type MessageHandler func(ctx context.Context, delivery *amqp.Delivery) error

// amqpConnection is the subset of *amqp.Connection used by Connection.
type amqpConnection interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// dialFunc opens a broker link. Tests replace it with an in-memory broker.
type dialFunc func(url string, cfg amqp.Config) (amqpConnection, error)

// amqpConn adapts *amqp.Connection to amqpConnection.
type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string, cfg amqp.Config) (amqpConnection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

var (
	_ Channel        = (*amqp.Channel)(nil)
	_ amqpConnection = amqpConn{}
)
