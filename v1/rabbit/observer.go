package rabbit

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/dizzycode/rabbitkit/v1/observability"
)

// Operation names reported to the observer.
const (
	OperationPublish    = "publish"
	OperationConsume    = "consume"
	OperationRetry      = "retry"
	OperationDeadLetter = "dead_letter"
	OperationReturn     = "return"
)

const componentName = "rabbit"

// observe notifies the observer about an operation if one is configured.
func (c *Connection) observe(operation, resource, subResource string, duration time.Duration, err error, size int64, metadata map[string]interface{}) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveOperation(observability.OperationContext{
		Component:   componentName,
		Operation:   operation,
		Resource:    resource,
		SubResource: subResource,
		Duration:    duration,
		Error:       err,
		Size:        size,
		Metadata:    metadata,
	})
}

// injectTraceContext copies the trace context of ctx into headers. Returns headers
// unchanged when no tracer is attached.
func (c *Connection) injectTraceContext(ctx context.Context, headers amqp.Table) amqp.Table {
	if c.tracer == nil {
		return headers
	}
	carrier := c.tracer.GetCarrier(ctx)
	if len(carrier) == 0 {
		return headers
	}
	if headers == nil {
		headers = make(amqp.Table, len(carrier))
	}
	for k, v := range carrier {
		headers[k] = v
	}
	return headers
}

// extractTraceContext continues the trace carried in the delivery headers.
func (c *Connection) extractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	if c.tracer == nil || len(headers) == 0 {
		return ctx
	}
	carrier := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return c.tracer.SetCarrierOnContext(ctx, carrier)
}

// startSpan starts a span when a tracer is attached. The returned span may be nil.
func (c *Connection) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, nil
	}
	return c.tracer.StartSpan(ctx, name)
}

func (c *Connection) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		c.tracer.RecordErrorOnSpan(span, err)
	}
	span.End()
}
