package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	traceSpan "go.opentelemetry.io/otel/trace"
)

// RecordErrorOnSpan records err on span and marks the span as failed.
//
// Example:
//
//	ctx, span := tracer.StartSpan(ctx, "handle-message")
//	defer span.End()
//	if err := handle(ctx, msg); err != nil {
//	    tracer.RecordErrorOnSpan(span, err)
//	    return err
//	}
func (t *Tracer) RecordErrorOnSpan(span traceSpan.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// StartSpan starts a span named name as a child of any span already in ctx. The caller
// must end the returned span.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, traceSpan.Span) {
	return t.provider.Tracer(t.name).Start(ctx, name)
}

// SetAttributes adds attributes to span. Strings, ints, int64s, float64s and bools keep
// their type; anything else is stored with fmt.Sprint.
//
// Example:
//
//	tracer.SetAttributes(span, map[string]interface{}{
//	    "messaging.destination": queue,
//	    "messaging.retry_count": meta.RetryCount,
//	})
func (t *Tracer) SetAttributes(span traceSpan.Span, attrs map[string]interface{}) {
	if len(attrs) == 0 {
		return
	}

	attributes := make([]attribute.KeyValue, 0, len(attrs))

	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			attributes = append(attributes, attribute.String(k, val))
		case int:
			attributes = append(attributes, attribute.Int(k, val))
		case int64:
			attributes = append(attributes, attribute.Int64(k, val))
		case float64:
			attributes = append(attributes, attribute.Float64(k, val))
		case bool:
			attributes = append(attributes, attribute.Bool(k, val))
		default:
			attributes = append(attributes, attribute.String(k, fmt.Sprint(val)))
		}
	}

	span.SetAttributes(attributes...)
}

// GetCarrier returns the W3C trace context of ctx ("traceparent", and "tracestate" or
// "baggage" when present) as a map suitable for message headers.
func (t *Tracer) GetCarrier(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	t.propagator.Inject(ctx, carrier)
	return carrier
}

// SetCarrierOnContext is the inverse of GetCarrier: it returns ctx carrying the remote
// span context found in carrier, so spans started from it join the upstream trace.
func (t *Tracer) SetCarrierOnContext(ctx context.Context, carrier map[string]string) context.Context {
	return t.propagator.Extract(ctx, propagation.MapCarrier(carrier))
}
