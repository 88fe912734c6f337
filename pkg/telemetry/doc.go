// Package telemetry groups the observability packages of the language model
// server.
//
// # Components
//
//   - logging: slog handlers with redaction of API keys and the session nonce
//   - metrics: Prometheus collector for requests, upstream calls and tokens
//   - tracing: OpenTelemetry spans around selection and upstream calls
//   - health: liveness and readiness endpoints served next to /metrics
//
// Metrics and tracing are off by default. Logging is always on and writes to
// stderr so stdout stays usable for the environment exports printed by
// "lmserver run --print-env".
//
// # Usage
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "text", Redact: true})
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	tracer, _ := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(ctx)
//
//	checker := health.New(2 * time.Second)
//	checker.Register("catalog", health.CatalogCheck(provider))
package telemetry
