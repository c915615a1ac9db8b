package rabbit

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotInitialized is returned when a channel is requested before Connect.
	ErrNotInitialized = errors.New("rabbit: connection not initialized")

	// ErrClosed is returned by operations on a connection that has been closed.
	ErrClosed = errors.New("rabbit: connection closed")

	// ErrRetriesExhausted is returned by HandleFailure when the delivery has already used
	// every attempt the strategy allows.
	ErrRetriesExhausted = errors.New("rabbit: retries exhausted")

	// ErrQueueNotFound is returned when a queue verification finds no such queue.
	ErrQueueNotFound = errors.New("rabbit: queue not found")

	// ErrPreconditionFailed matches declarations rejected by the broker because the
	// entity already exists with different arguments.
	ErrPreconditionFailed = errors.New("rabbit: precondition failed")

	// ErrUnroutable is reported to observers for mandatory publishes the broker returned.
	ErrUnroutable = errors.New("rabbit: message returned as unroutable")

	// ErrInvalidOptions is returned when options or strategy parameters fail validation.
	ErrInvalidOptions = errors.New("rabbit: invalid options")
)

// ConnectionError reports a failure to establish the broker link or a channel on it.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("rabbit: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rabbit: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeclareError reports a failed queue, exchange or binding declaration.
type DeclareError struct {
	// Kind is one of "queue", "exchange" or "binding".
	Kind string
	Name string
	Err  error
}

func (e *DeclareError) Error() string {
	return fmt.Sprintf("rabbit: declare %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *DeclareError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPreconditionFailed) true for broker 406 replies.
func (e *DeclareError) Is(target error) bool {
	return target == ErrPreconditionFailed && IsPreconditionFailed(e.Err)
}

// SerializationError reports a payload that could not be marshaled. Nothing was sent.
type SerializationError struct {
	Target string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("rabbit: serialize payload for %q: %v", e.Target, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// RetrySetupError reports a failure to provision retry or dead-letter topology.
// The consumer is not started when this happens.
type RetrySetupError struct {
	Queue    string
	Strategy string
	Err      error
}

func (e *RetrySetupError) Error() string {
	return fmt.Sprintf("rabbit: setup %s retry topology for %q: %v", e.Strategy, e.Queue, e.Err)
}

func (e *RetrySetupError) Unwrap() error { return e.Err }

// HandlerError wraps a failure returned (or a panic raised) by a MessageHandler.
// It is only ever logged and routed through the retry decision, never returned.
type HandlerError struct {
	Queue string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("rabbit: handler for %q: %v", e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsPreconditionFailed reports whether err carries an AMQP 406 PRECONDITION_FAILED reply.
func IsPreconditionFailed(err error) bool {
	return hasAMQPCode(err, amqp.PreconditionFailed)
}

// IsNotFound reports whether err carries an AMQP 404 NOT_FOUND reply.
func IsNotFound(err error) bool {
	return hasAMQPCode(err, amqp.NotFound)
}

func hasAMQPCode(err error, code int) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == code
	}
	return false
}
