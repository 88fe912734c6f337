package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lmserver/pkg/config"
)

// UpstreamMetrics tracks calls to the selected endpoints.
//
// Metrics:
//   - lmserver_upstream_requests_total: exchanges by model and outcome
//   - lmserver_upstream_attempts: HTTP attempts per exchange
//   - lmserver_upstream_duration_seconds: exchange duration
//   - lmserver_upstream_first_byte_seconds: time to first forwarded byte
//   - lmserver_tokens_total: reported token usage by type
//   - lmserver_prompt_tokens: prompt size distribution
//   - lmserver_catalog_endpoints: endpoints offered by the catalog
type UpstreamMetrics struct {
	requests     *prometheus.CounterVec
	attempts     *prometheus.HistogramVec
	duration     *prometheus.HistogramVec
	firstByte    *prometheus.HistogramVec
	tokensTotal  *prometheus.CounterVec
	promptTokens *prometheus.HistogramVec
	catalogSize  *prometheus.GaugeVec
}

// NewUpstreamMetrics creates and registers upstream metrics with the provided registry.
func NewUpstreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream exchanges by model and outcome",
			},
			[]string{"model", "outcome"},
		),

		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_attempts",
				Help:      "HTTP attempts per upstream exchange, including retries",
				Buckets:   []float64{1, 2, 3, 5, 8},
			},
			[]string{"model"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Duration of upstream exchanges in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"model"},
		),

		firstByte: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_first_byte_seconds",
				Help:      "Time from request start to the first byte forwarded to the client",
				Buckets:   cfg.FirstByteBuckets,
			},
			[]string{"model"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tokens_total",
				Help:      "Total number of tokens reported by upstreams",
			},
			[]string{"model", "type"},
		),

		promptTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "prompt_tokens",
				Help:      "Prompt tokens per completion",
				Buckets:   cfg.TokenCountBuckets,
			},
			[]string{"model"},
		),

		catalogSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "catalog_endpoints",
				Help:      "Number of endpoints offered by the catalog",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		um.requests,
		um.attempts,
		um.duration,
		um.firstByte,
		um.tokensTotal,
		um.promptTokens,
		um.catalogSize,
	)

	return um
}

// RecordExchange records one upstream exchange.
func (um *UpstreamMetrics) RecordExchange(model, outcome string, attempts int, duration time.Duration) {
	um.requests.WithLabelValues(model, outcome).Inc()
	if attempts > 0 {
		um.attempts.WithLabelValues(model).Observe(float64(attempts))
	}
	um.duration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordTimeToFirstByte records the first byte delay.
func (um *UpstreamMetrics) RecordTimeToFirstByte(model string, d time.Duration) {
	um.firstByte.WithLabelValues(model).Observe(d.Seconds())
}

// RecordTokens records token counts by type.
func (um *UpstreamMetrics) RecordTokens(model string, prompt, completion, cached, reasoning int64) {
	if prompt > 0 {
		um.tokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
		um.promptTokens.WithLabelValues(model).Observe(float64(prompt))
	}
	if completion > 0 {
		um.tokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	}
	if cached > 0 {
		um.tokensTotal.WithLabelValues(model, "cached").Add(float64(cached))
	}
	if reasoning > 0 {
		um.tokensTotal.WithLabelValues(model, "reasoning").Add(float64(reasoning))
	}
}

// SetCatalogSize sets the catalog gauge.
func (um *UpstreamMetrics) SetCatalogSize(source string, n int) {
	um.catalogSize.WithLabelValues(source).Set(float64(n))
}

// StatusOutcome maps an upstream status code to an outcome label.
func StatusOutcome(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "success"
	default:
		return strconv.Itoa(status/100) + "xx"
	}
}
