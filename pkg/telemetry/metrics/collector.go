package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lmserver/pkg/config"
)

// Selection results recorded by RecordSelection.
const (
	SelectionMatched    = "matched"
	SelectionNoMatch    = "no_match"
	SelectionNoEligible = "no_eligible"
)

// otherModel replaces model labels beyond the cardinality limit.
const otherModel = "other"

// Collector owns every Prometheus metric of the server.
//
// All methods are safe on a nil *Collector and on a disabled one, so callers
// never need to guard metric updates.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics  *RequestMetrics
	upstreamMetrics *UpstreamMetrics
	streamMetrics   *StreamMetrics

	// Model names come from the catalog, which a remote source may grow.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector registered on registry. A nil registry
// creates a fresh one. cfg is copied; defaults fill empty fields.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}
	if cfg != nil {
		c.config = *cfg
	}
	if c.config.Namespace == "" {
		c.config.Namespace = config.DefaultMetricsNamespace
	}
	if len(c.config.RequestDurationBuckets) == 0 {
		c.config.RequestDurationBuckets = config.DefaultRequestDurationBuckets
	}
	if len(c.config.FirstByteBuckets) == 0 {
		c.config.FirstByteBuckets = config.DefaultFirstByteBuckets
	}
	if len(c.config.TokenCountBuckets) == 0 {
		c.config.TokenCountBuckets = config.DefaultTokenCountBuckets
	}

	c.requestMetrics = NewRequestMetrics(&c.config, registry)
	c.upstreamMetrics = NewUpstreamMetrics(&c.config, registry)
	c.streamMetrics = NewStreamMetrics(&c.config, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

func (c *Collector) model(model string) string {
	if model == "" {
		return "unknown"
	}
	if !c.cardinalityLimiter.Allow(model) {
		return otherModel
	}
	return model
}

// RecordRequest records a finished inbound request.
//
// Parameters:
//   - route: the matched route ("messages", "root", "options", "not_found")
//   - status: the HTTP status written to the client
//   - duration: time from accept to the end of the response
func (c *Collector) RecordRequest(route string, status int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordRequest(route, status, duration)
}

// RecordCancellation records a client that went away before the response
// completed.
func (c *Collector) RecordCancellation(route string) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordCancellation(route)
}

// RecordSelection records the outcome of endpoint selection.
func (c *Collector) RecordSelection(result string) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordSelection(result)
}

// RecordUpstream records one upstream exchange.
//
// Parameters:
//   - model: the selected endpoint's model id
//   - outcome: "success", "error", "cancelled" or an HTTP status class such as "4xx"
//   - attempts: HTTP attempts made, including retries
//   - duration: the exchange duration
func (c *Collector) RecordUpstream(model, outcome string, attempts int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.upstreamMetrics.RecordExchange(c.model(model), outcome, attempts, duration)
}

// RecordTimeToFirstByte records the delay before the first upstream byte
// reached the client.
func (c *Collector) RecordTimeToFirstByte(model string, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.upstreamMetrics.RecordTimeToFirstByte(c.model(model), d)
}

// RecordTokens records token usage reported by the upstream. Zero counts
// are skipped.
func (c *Collector) RecordTokens(model string, prompt, completion, cached, reasoning int64) {
	if !c.enabled() {
		return
	}
	c.upstreamMetrics.RecordTokens(c.model(model), prompt, completion, cached, reasoning)
}

// AddForwardedBytes counts bytes copied verbatim to the client.
func (c *Collector) AddForwardedBytes(model string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.streamMetrics.AddForwardedBytes(c.model(model), n)
}

// RecordCompletion records a completion assembled from the stream.
func (c *Collector) RecordCompletion(model, finishReason string) {
	if !c.enabled() {
		return
	}
	c.streamMetrics.RecordCompletion(c.model(model), finishReason)
}

// RecordMalformedEvent records an SSE event whose payload could not be decoded.
func (c *Collector) RecordMalformedEvent(model, eventType string) {
	if !c.enabled() {
		return
	}
	c.streamMetrics.RecordMalformedEvent(c.model(model), eventType)
}

// SetCatalogSize records the number of endpoints offered by a catalog.
func (c *Collector) SetCatalogSize(source string, n int) {
	if !c.enabled() {
		return
	}
	c.upstreamMetrics.SetCatalogSize(source, n)
}

// RecordLedgerDrop records a usage entry dropped because the recorder queue
// was full or the store failed.
func (c *Collector) RecordLedgerDrop(reason string) {
	if !c.enabled() {
		return
	}
	c.streamMetrics.RecordLedgerDrop(reason)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter bounds the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
