package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Propagator returns the process text map propagator: W3C Trace Context
// and Baggage once New has run.
func Propagator() propagation.TextMapPropagator {
	return otel.GetTextMapPropagator()
}

// Extract returns ctx carrying the trace context found in headers. Without
// a traceparent header ctx is returned unchanged.
//
//	ctx := tracing.Extract(r.Context(), r.Header)
//	ctx, span := tracer.Start(ctx, "messages")
func Extract(ctx context.Context, headers http.Header) context.Context {
	return Propagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// Inject writes the trace context of ctx into headers as traceparent and
// tracestate. Upstream requests carry it so a collector can join the proxy
// span with the backend's.
func Inject(ctx context.Context, headers http.Header) {
	Propagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
