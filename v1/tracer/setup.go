package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Logger is the logging capability used by the tracer. *logger.Logger satisfies it.
type Logger interface {
	Info(msg string, context ...any)
	Warn(msg string, context ...any)
	Error(msg string, context ...any)
}

// Tracer wraps an OpenTelemetry TracerProvider with helpers for creating spans,
// recording errors and carrying trace context across message boundaries.
//
// *Tracer satisfies rabbit.Tracer. It is safe for concurrent use.
type Tracer struct {
	provider   *trace.TracerProvider
	name       string
	propagator propagation.TextMapPropagator
	logger     Logger
}

// NewClient creates a Tracer and installs it as the global OpenTelemetry provider along
// with the W3C trace context and baggage propagators.
//
// When cfg.EnableExport is set, spans are batched to an OTLP/HTTP exporter; an exporter
// that cannot be created is returned as an error.
//
// Example:
//
//	t, err := tracer.NewClient(tracer.Config{ServiceName: "retry-worker", AppEnv: "production"}, log)
//	if err != nil {
//	    return err
//	}
//	ctx, span := t.StartSpan(ctx, "process-message")
//	defer span.End()
func NewClient(cfg Config, log Logger) (*Tracer, error) {
	var options []trace.TracerProviderOption

	if cfg.EnableExport {
		var clientOpts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(clientOpts...))
		if err != nil {
			log.Error("cannot initiate tracer exporter", "error", err)
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		options = append(options, trace.WithBatcher(exporter))
	}

	t := newTracer(cfg, log, options...)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(t.propagator)

	log.Info("tracer initialized", "service", cfg.ServiceName, "export", cfg.EnableExport)
	return t, nil
}

func newTracer(cfg Config, log Logger, options ...trace.TracerProviderOption) *Tracer {
	options = append(options, trace.WithResource(resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.AppEnv),
		attribute.String("environment", cfg.AppEnv),
	)))

	return &Tracer{
		provider:   trace.NewTracerProvider(options...),
		name:       cfg.ServiceName,
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		logger:     log,
	}
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
