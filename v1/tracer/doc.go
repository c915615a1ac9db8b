// Package tracer provides OpenTelemetry distributed tracing.
//
// A Tracer creates spans and moves W3C trace context in and out of string maps. The
// rabbit package uses exactly that: on publish the carrier returned by GetCarrier is
// written into the message headers, and on consume SetCarrierOnContext restores it so
// the handler's span joins the producer's trace, across retries included.
//
// Basic usage:
//
//	t, err := tracer.NewClient(tracer.Config{
//		ServiceName:  "retry-worker",
//		AppEnv:       "production",
//		EnableExport: true,
//		Endpoint:     "otel-collector:4318",
//		Insecure:     true,
//	}, log)
//	conn.WithTracer(t)
//
// With fx, include tracer.FXModule and provide a tracer.Config.
package tracer
