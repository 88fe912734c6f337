package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultHost              = "127.0.0.1"
	DefaultUserAgentPrefix   = "vscode_claude_code"
	DefaultMaxOutputTokens   = 64000
	DefaultMaxPromptTokens   = 200000 - DefaultMaxOutputTokens
	DefaultMaxBodyBytes      = int64(32 << 20) // 32 MiB
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second

	// Upstream defaults
	DefaultUpstreamMaxRetries   = 2
	DefaultUpstreamRetryBackoff = 500 * time.Millisecond
	DefaultMaxIdleConns         = 100
	DefaultMaxIdleConnsPerHost  = 10
	DefaultIdleConnTimeout      = 90 * time.Second
	DefaultInitiatorHeader      = "X-Initiator"

	// Catalog defaults
	DefaultCatalogSource         = "static"
	DefaultEndpointAPIType       = "messages"
	DefaultEndpointPolicy        = "enabled"
	DefaultRemoteRefreshSchedule = "@every 10m"
	DefaultRemoteCatalogTimeout  = 30 * time.Second

	// Ledger defaults
	DefaultLedgerBackend           = "sqlite"
	DefaultLedgerSQLitePath        = "data/ledger.db"
	DefaultLedgerJournalMode       = "wal"
	DefaultLedgerBusyTimeout       = 5 * time.Second
	DefaultLedgerMaxOpenConns      = 4
	DefaultLedgerAsyncBuffer       = 1000
	DefaultLedgerWriteTimeout      = 5 * time.Second
	DefaultLedgerRetentionDays     = 30
	DefaultLedgerRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultMetricsListenAddress = "127.0.0.1:9464"
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "lmserver"
	DefaultTracingSampler       = "ratio"
	DefaultTracingSampleRatio   = 1.0
	DefaultTracingEndpoint      = "localhost:4317"
	DefaultTracingServiceName   = "lmserver"
	DefaultTracingTimeout       = 10 * time.Second
)

// Default histogram buckets.
var (
	DefaultRequestDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	DefaultFirstByteBuckets       = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	DefaultTokenCountBuckets      = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 200000}
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults. Port 0 and an empty nonce are meaningful values.
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.UserAgentPrefix == "" {
		cfg.Server.UserAgentPrefix = DefaultUserAgentPrefix
	}
	if cfg.Server.MaxPromptTokens == 0 {
		cfg.Server.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if cfg.Server.MaxOutputTokens == 0 {
		cfg.Server.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Upstream defaults
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = DefaultUpstreamMaxRetries
	}
	if cfg.Upstream.RetryBackoff == 0 {
		cfg.Upstream.RetryBackoff = DefaultUpstreamRetryBackoff
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.Upstream.MaxIdleConnsPerHost == 0 {
		cfg.Upstream.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if cfg.Upstream.IdleConnTimeout == 0 {
		cfg.Upstream.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if cfg.Upstream.InitiatorHeader == "" {
		cfg.Upstream.InitiatorHeader = DefaultInitiatorHeader
	}

	applyCatalogDefaults(&cfg.Catalog)
	applyLedgerDefaults(&cfg.Ledger)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Source == "" {
		cfg.Source = DefaultCatalogSource
	}
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.Name == "" {
			ep.Name = ep.Model
		}
		if ep.Family == "" {
			ep.Family = ep.Model
		}
		if len(ep.APITypes) == 0 {
			ep.APITypes = []string{DefaultEndpointAPIType}
		}
		if ep.Policy == "" {
			ep.Policy = DefaultEndpointPolicy
		}
	}
	if cfg.Remote.RefreshSchedule == "" {
		cfg.Remote.RefreshSchedule = DefaultRemoteRefreshSchedule
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = DefaultRemoteCatalogTimeout
	}
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultLedgerBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.SQLite.JournalMode == "" {
		cfg.SQLite.JournalMode = DefaultLedgerJournalMode
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultLedgerBusyTimeout
	}
	if cfg.SQLite.MaxOpenConns == 0 {
		cfg.SQLite.MaxOpenConns = DefaultLedgerMaxOpenConns
	}
	if cfg.AsyncBuffer == 0 {
		cfg.AsyncBuffer = DefaultLedgerAsyncBuffer
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultLedgerWriteTimeout
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultLedgerRetentionDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultLedgerRetentionSchedule
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.RequestDurationBuckets) == 0 {
		cfg.Metrics.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}
	if len(cfg.Metrics.FirstByteBuckets) == 0 {
		cfg.Metrics.FirstByteBuckets = append([]float64(nil), DefaultFirstByteBuckets...)
	}
	if len(cfg.Metrics.TokenCountBuckets) == 0 {
		cfg.Metrics.TokenCountBuckets = append([]float64(nil), DefaultTokenCountBuckets...)
	}

	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
