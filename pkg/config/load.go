package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LMSERVER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention LMSERVER_SECTION_FIELD (e.g., LMSERVER_SERVER_PORT).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_HOST", &cfg.Server.Host)
	envInt("SERVER_PORT", &cfg.Server.Port)
	envString("SERVER_NONCE", &cfg.Server.Nonce)
	envString("SERVER_USER_AGENT_PREFIX", &cfg.Server.UserAgentPrefix)
	envInt("SERVER_MAX_PROMPT_TOKENS", &cfg.Server.MaxPromptTokens)
	envInt("SERVER_MAX_OUTPUT_TOKENS", &cfg.Server.MaxOutputTokens)

	// Upstream overrides
	envDuration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	envInt("UPSTREAM_MAX_RETRIES", &cfg.Upstream.MaxRetries)
	envDuration("UPSTREAM_RETRY_BACKOFF", &cfg.Upstream.RetryBackoff)

	// Catalog overrides
	envString("CATALOG_SOURCE", &cfg.Catalog.Source)
	envString("CATALOG_REMOTE_URL", &cfg.Catalog.Remote.URL)
	envString("CATALOG_REMOTE_API_BASE_URL", &cfg.Catalog.Remote.APIBaseURL)
	envString("CATALOG_REMOTE_TOKEN", &cfg.Catalog.Remote.Token)
	envString("CATALOG_REMOTE_REFRESH_SCHEDULE", &cfg.Catalog.Remote.RefreshSchedule)
	envBool("CATALOG_WATCH", &cfg.Catalog.Watch)
	for i := range cfg.Catalog.Endpoints {
		applyEndpointEnvOverrides(&cfg.Catalog.Endpoints[i])
	}

	// Ledger overrides
	envBool("LEDGER_ENABLED", &cfg.Ledger.Enabled)
	envString("LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("LEDGER_SQLITE_PATH", &cfg.Ledger.SQLite.Path)
	envInt("LEDGER_RETENTION_DAYS", &cfg.Ledger.Retention.Days)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

// applyEndpointEnvOverrides applies overrides for one static endpoint.
// Variables follow the format LMSERVER_ENDPOINTS_<NAME>_<FIELD> where NAME
// is the endpoint name upper-cased with every other character replaced by
// an underscore.
func applyEndpointEnvOverrides(ep *EndpointConfig) {
	prefix := "ENDPOINTS_" + EnvName(ep.Name) + "_"
	envString(prefix+"BASE_URL", &ep.BaseURL)
	envString(prefix+"API_KEY", &ep.APIKey)
	envString(prefix+"MODEL", &ep.Model)
}

// EnvName converts name into the form used inside environment variable names.
func EnvName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
