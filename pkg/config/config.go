package config

import "time"

// Config is the root configuration structure for lmserver.
type Config struct {
	// Server contains the loopback listener configuration: bind address,
	// shared nonce and the fixed per-request overrides.
	Server ServerConfig `yaml:"server"`

	// Upstream contains the HTTP transport and retry settings used when
	// calling the selected endpoint.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Catalog describes where the list of upstream chat endpoints comes from.
	Catalog CatalogConfig `yaml:"catalog"`

	// Selection contains the model substitution rules.
	Selection SelectionConfig `yaml:"selection"`

	// Ledger contains usage ledger storage and retention settings.
	Ledger LedgerConfig `yaml:"ledger"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the Messages API listener.
type ServerConfig struct {
	// Host is the interface to bind.
	// Default: "127.0.0.1"
	Host string `yaml:"host"`

	// Port to bind. Zero asks the OS for an ephemeral port.
	// Default: 0
	Port int `yaml:"port"`

	// Nonce is the shared secret clients send in x-api-key. When empty a
	// random nonce is generated at server construction.
	Nonce string `yaml:"nonce"`

	// UserAgentPrefix replaces the product part of the client User-Agent.
	// Default: "vscode_claude_code"
	UserAgentPrefix string `yaml:"user_agent_prefix"`

	// MaxPromptTokens overrides the selected endpoint's prompt window.
	// Default: 136000
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// MaxOutputTokens overrides the selected endpoint's output limit.
	// Default: 64000
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// MaxBodyBytes bounds the accumulated request body.
	// Default: 32 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ReadHeaderTimeout bounds reading request headers. Bodies and streamed
	// responses are never timed out by the listener.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout is how long Stop waits for in-flight streams.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig contains configuration for the upstream HTTP client.
type UpstreamConfig struct {
	// Timeout bounds a whole upstream exchange. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries before the first response.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the base delay, doubled on every attempt.
	// Default: 500ms
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`

	// InitiatorHeader names the header carrying "user" or "agent".
	// Default: "X-Initiator"
	InitiatorHeader string `yaml:"initiator_header"`
}

// CatalogConfig selects and configures the endpoint catalog.
type CatalogConfig struct {
	// Source is "static" or "remote".
	// Default: "static"
	Source string `yaml:"source"`

	// Endpoints is the static endpoint list, in priority order.
	Endpoints []EndpointConfig `yaml:"endpoints"`

	// Remote configures a model listing fetched over HTTP.
	Remote RemoteCatalogConfig `yaml:"remote"`

	// Watch reloads the static catalog and selection rules when the
	// configuration file changes.
	Watch bool `yaml:"watch"`
}

// EndpointConfig describes one static upstream endpoint.
type EndpointConfig struct {
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	Family  string `yaml:"family"`
	Version string `yaml:"version"`

	// BaseURL is the scheme and host of the upstream, without API paths.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token. Upstreams that expect x-api-key
	// can set it under Headers instead.
	APIKey string `yaml:"api_key"`

	// APITypes lists the wire APIs the endpoint speaks: "messages",
	// "chat_completions", "responses".
	// Default: ["messages"]
	APITypes []string `yaml:"api_types"`

	// Paths overrides the request path per API type.
	Paths map[string]string `yaml:"paths"`

	MaxPromptTokens int  `yaml:"max_prompt_tokens"`
	MaxOutputTokens int  `yaml:"max_output_tokens"`
	ThinkingBudget  int  `yaml:"thinking_budget"`
	Vision          bool `yaml:"vision"`
	ToolCalls       bool `yaml:"tool_calls"`

	// Policy is reported as-is by the endpoint.
	// Default: "enabled"
	Policy string `yaml:"policy"`

	// Headers are added to every upstream request.
	Headers map[string]string `yaml:"headers"`
}

// RemoteCatalogConfig configures a Copilot-style /models listing.
type RemoteCatalogConfig struct {
	// URL is the model listing URL.
	URL string `yaml:"url"`

	// APIBaseURL is the base URL requests are sent to. Defaults to the
	// scheme and host of URL.
	APIBaseURL string `yaml:"api_base_url"`

	// Token authenticates both the listing and the model requests.
	Token string `yaml:"token"`

	// RefreshSchedule is a cron spec for refreshing the listing.
	// Default: "@every 10m"
	RefreshSchedule string `yaml:"refresh_schedule"`

	// Timeout bounds a single listing request.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Headers are added to the listing and to model requests.
	Headers map[string]string `yaml:"headers"`
}

// SelectionConfig configures the endpoint selector.
type SelectionConfig struct {
	// Rules are tried in order after exact matching fails.
	Rules []SelectionRule `yaml:"rules"`

	// DisableDefaults drops the built-in rules. Configured rules still apply.
	DisableDefaults bool `yaml:"disable_defaults"`
}

// SelectionRule prefers endpoints whose model contains one of Prefer when
// the requested model starts with Prefix.
type SelectionRule struct {
	Prefix string   `yaml:"prefix"`
	Prefer []string `yaml:"prefer"`
}

// LedgerConfig contains usage ledger configuration.
type LedgerConfig struct {
	// Enabled controls whether usage entries are recorded.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// AsyncBuffer is the recorder queue length.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds a single store write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Retention controls pruning of old entries.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite ledger settings.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// JournalMode is passed to PRAGMA journal_mode.
	// Default: "wal"
	JournalMode string `yaml:"journal_mode"`

	// BusyTimeout is passed to PRAGMA busy_timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	MaxOpenConns int `yaml:"max_open_conns"`
}

// RetentionConfig contains ledger pruning settings.
type RetentionConfig struct {
	// Days keeps entries younger than this many days. Zero keeps forever.
	// Default: 30
	Days int `yaml:"days"`

	// MaxRecords keeps at most this many of the newest entries. Zero is
	// unlimited.
	MaxRecords int64 `yaml:"max_records"`

	// Schedule is the cron spec for pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "trace", "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// DisableRedaction turns off masking of keys, tokens and the nonce.
	DisableRedaction bool `yaml:"disable_redaction"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the separate listener for the scrape endpoint. The
	// Messages listener never serves metrics.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "lmserver"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	Subsystem string `yaml:"subsystem"`

	// RequestDurationBuckets defines histogram buckets for request duration (seconds).
	// Default: [0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`

	// FirstByteBuckets defines histogram buckets for time to first upstream byte (seconds).
	// Default: [0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30]
	FirstByteBuckets []float64 `yaml:"first_byte_buckets"`

	// TokenCountBuckets defines histogram buckets for token counts.
	// Default: [100, 500, 1000, 5000, 10000, 50000, 100000, 200000]
	TokenCountBuckets []float64 `yaml:"token_count_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "lmserver"
	ServiceName string `yaml:"service_name"`

	// TLS enables transport security for the collector connection.
	TLS bool `yaml:"tls"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
