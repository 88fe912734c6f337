package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampling strategies accepted in telemetry.tracing.sampler. A local
// server usually wants every request traced, so the default is a ratio of
// 1.0; lower it when the exporter is shared.
//   - always: every request is traced
//   - never: no request is traced
//   - ratio: a fraction of requests, chosen by trace ID
const (
	// SamplerAlways samples all traces
	SamplerAlways = "always"

	// SamplerNever samples no traces
	SamplerNever = "never"

	// SamplerRatio samples a fraction of traces by trace ID
	SamplerRatio = "ratio"
)

// createSampler creates a sampler for strategy.
//
// A ratio strategy reads telemetry.tracing.sample_ratio:
//
//	telemetry:
//	  tracing:
//	    sampler: ratio
//	    sample_ratio: 0.25
//
// Every sampler is wrapped in ParentBased, so a client that sends a sampled
// traceparent keeps the whole request trace, and an unsampled parent keeps
// it out.
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler

	switch strategy {
	case SamplerAlways, "":
		base = sdktrace.AlwaysSample()
	case SamplerNever:
		base = sdktrace.NeverSample()
	case SamplerRatio:
		if ratio < 0.0 || ratio > 1.0 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		base = sdktrace.TraceIDRatioBased(ratio)
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio)", strategy)
	}

	return sdktrace.ParentBased(base), nil
}
