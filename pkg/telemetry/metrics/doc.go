// Package metrics provides Prometheus metrics for lmserver.
//
// A single Collector owns the registry and every metric family:
//
//   - Request metrics: inbound requests by route and status, duration,
//     client cancellations, selection outcomes
//   - Upstream metrics: exchanges by outcome, attempts, duration, time to
//     first byte, token usage, catalog size
//   - Stream metrics: forwarded bytes, decoded completions, malformed
//     events, dropped ledger entries
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRequest("messages", http.StatusOK, time.Since(start))
//	collector.AddForwardedBytes("claude-sonnet-4", n)
//
// The scrape handler is mounted on its own listener, never on the
// nonce-protected Messages listener.
//
// Every method is a no-op on a nil or disabled Collector.
package metrics
