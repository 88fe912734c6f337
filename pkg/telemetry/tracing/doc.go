// Package tracing provides OpenTelemetry tracing for lmserver.
//
// Each Messages request gets a "messages" span, and the upstream exchange a
// child "upstream.fetch" span. The W3C trace context of that child is
// injected into the outgoing request headers:
//
//	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//
// Spans are exported over OTLP gRPC when telemetry.tracing.enabled is set.
// Otherwise New returns a Tracer handing out noop spans.
//
// # Sampling Strategies
//
//   - always: sample all traces
//   - never: sample no traces
//   - ratio: sample a fraction of traces by trace ID
//
// Every strategy respects the sampling decision of an incoming traceparent.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "messages")
//	defer span.End()
package tracing
