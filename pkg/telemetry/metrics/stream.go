package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lmserver/pkg/config"
)

// StreamMetrics tracks the pass-through stream and its telemetry side path.
//
// Metrics:
//   - lmserver_forwarded_bytes_total: bytes copied verbatim to clients
//   - lmserver_completions_total: completions assembled by finish reason
//   - lmserver_malformed_events_total: events the accumulator rejected
//   - lmserver_ledger_dropped_total: usage entries that were not stored
type StreamMetrics struct {
	forwardedBytes *prometheus.CounterVec
	completions    *prometheus.CounterVec
	malformed      *prometheus.CounterVec
	ledgerDropped  *prometheus.CounterVec
}

// NewStreamMetrics creates and registers stream metrics with the provided registry.
func NewStreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StreamMetrics {
	sm := &StreamMetrics{
		forwardedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "forwarded_bytes_total",
				Help:      "Total number of upstream bytes forwarded to clients",
			},
			[]string{"model"},
		),

		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "completions_total",
				Help:      "Total number of completions decoded from upstream streams",
			},
			[]string{"model", "finish_reason"},
		),

		malformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "malformed_events_total",
				Help:      "Total number of stream events that could not be decoded",
			},
			[]string{"model", "event"},
		),

		ledgerDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_dropped_total",
				Help:      "Total number of usage entries that were not stored",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		sm.forwardedBytes,
		sm.completions,
		sm.malformed,
		sm.ledgerDropped,
	)

	return sm
}

// AddForwardedBytes counts forwarded bytes.
func (sm *StreamMetrics) AddForwardedBytes(model string, n int) {
	sm.forwardedBytes.WithLabelValues(model).Add(float64(n))
}

// RecordCompletion counts a decoded completion.
func (sm *StreamMetrics) RecordCompletion(model, finishReason string) {
	sm.completions.WithLabelValues(model, finishReason).Inc()
}

// RecordMalformedEvent counts a rejected event.
func (sm *StreamMetrics) RecordMalformedEvent(model, eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	sm.malformed.WithLabelValues(model, eventType).Inc()
}

// RecordLedgerDrop counts a dropped usage entry.
func (sm *StreamMetrics) RecordLedgerDrop(reason string) {
	sm.ledgerDropped.WithLabelValues(reason).Inc()
}
