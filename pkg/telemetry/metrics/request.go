package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lmserver/pkg/config"
)

// RequestMetrics tracks inbound requests on the Messages listener.
//
// Metrics:
//   - lmserver_requests_total: requests by route and status code
//   - lmserver_request_duration_seconds: request duration by route
//   - lmserver_client_cancellations_total: clients gone before completion
//   - lmserver_selections_total: endpoint selection outcomes
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cancellations   *prometheus.CounterVec
	selections      *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of inbound requests by route and status code",
			},
			[]string{"route", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of inbound requests in seconds, including the whole stream",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"route"},
		),

		cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "client_cancellations_total",
				Help:      "Total number of requests whose client disconnected before completion",
			},
			[]string{"route"},
		),

		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "selections_total",
				Help:      "Total number of endpoint selections by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.cancellations,
		rm.selections,
	)

	return rm
}

// RecordRequest records a finished request.
func (rm *RequestMetrics) RecordRequest(route string, status int, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	rm.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCancellation records a client disconnect.
func (rm *RequestMetrics) RecordCancellation(route string) {
	rm.cancellations.WithLabelValues(route).Inc()
}

// RecordSelection records a selection outcome.
func (rm *RequestMetrics) RecordSelection(result string) {
	rm.selections.WithLabelValues(result).Inc()
}
