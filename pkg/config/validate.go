package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	// Validate server configuration
	errs = append(errs, validateServer(&cfg.Server)...)

	// Validate upstream configuration
	errs = append(errs, validateUpstream(&cfg.Upstream)...)

	// Validate catalog configuration
	errs = append(errs, validateCatalog(&cfg.Catalog)...)

	// Validate selection rules
	errs = append(errs, validateSelection(&cfg.Selection)...)

	// Validate ledger configuration
	errs = append(errs, validateLedger(&cfg.Ledger)...)

	// Validate telemetry configuration
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	// Validate host is not empty
	if cfg.Host == "" {
		errs = append(errs, FieldError{Field: "server.host", Message: "host is required"})
	}
	// Validate port range (0 picks a free port)
	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, FieldError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 0-65535", cfg.Port),
		})
	}
	if cfg.MaxPromptTokens < 0 {
		errs = append(errs, FieldError{Field: "server.max_prompt_tokens", Message: "must not be negative"})
	}
	if cfg.MaxOutputTokens < 0 {
		errs = append(errs, FieldError{Field: "server.max_output_tokens", Message: "must not be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must not be negative"})
	}
	if cfg.ReadHeaderTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_header_timeout", Message: "must not be negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must not be negative"})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.timeout", Message: "must not be negative"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_retries", Message: "must not be negative"})
	}
	if cfg.RetryBackoff < 0 {
		errs = append(errs, FieldError{Field: "upstream.retry_backoff", Message: "must not be negative"})
	}

	return errs
}

var validAPITypes = map[string]bool{"messages": true, "chat_completions": true, "responses": true}

func validateCatalog(cfg *CatalogConfig) []FieldError {
	var errs []FieldError

	switch cfg.Source {
	case "static":
		seen := make(map[string]bool, len(cfg.Endpoints))
		for i, ep := range cfg.Endpoints {
			field := fmt.Sprintf("catalog.endpoints[%d]", i)
			if ep.Model == "" {
				errs = append(errs, FieldError{Field: field + ".model", Message: "model is required"})
			}
			if ep.Name != "" {
				if seen[ep.Name] {
					errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate endpoint name %q", ep.Name)})
				}
				seen[ep.Name] = true
			}
			// Validate base URL
			if err := validateURL(ep.BaseURL); err != "" {
				errs = append(errs, FieldError{Field: field + ".base_url", Message: err})
			}
			// Validate API types and per-API paths
			for _, api := range ep.APITypes {
				if !validAPITypes[api] {
					errs = append(errs, FieldError{
						Field:   field + ".api_types",
						Message: fmt.Sprintf("invalid api type %q: must be 'messages', 'chat_completions', or 'responses'", api),
					})
				}
			}
			for api := range ep.Paths {
				if !validAPITypes[api] {
					errs = append(errs, FieldError{Field: field + ".paths", Message: fmt.Sprintf("invalid api type %q", api)})
				}
			}
		}
	case "remote":
		if err := validateURL(cfg.Remote.URL); err != "" {
			errs = append(errs, FieldError{Field: "catalog.remote.url", Message: err})
		}
		if cfg.Remote.APIBaseURL != "" {
			if err := validateURL(cfg.Remote.APIBaseURL); err != "" {
				errs = append(errs, FieldError{Field: "catalog.remote.api_base_url", Message: err})
			}
		}
		// Validate refresh schedule
		if err := validateSchedule(cfg.Remote.RefreshSchedule); err != "" {
			errs = append(errs, FieldError{Field: "catalog.remote.refresh_schedule", Message: err})
		}
		if cfg.Remote.Timeout < 0 {
			errs = append(errs, FieldError{Field: "catalog.remote.timeout", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "catalog.source",
			Message: fmt.Sprintf("invalid catalog source %q: must be 'static' or 'remote'", cfg.Source),
		})
	}

	return errs
}

func validateSelection(cfg *SelectionConfig) []FieldError {
	var errs []FieldError

	for i, rule := range cfg.Rules {
		field := fmt.Sprintf("selection.rules[%d]", i)
		if rule.Prefix == "" {
			errs = append(errs, FieldError{Field: field + ".prefix", Message: "prefix is required"})
		}
		if len(rule.Prefer) == 0 {
			errs = append(errs, FieldError{Field: field + ".prefer", Message: "at least one preferred substring is required"})
		}
	}

	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}

	// Validate backend
	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "ledger.sqlite.path", Message: "path is required for the sqlite backend"})
		}
		switch strings.ToLower(cfg.SQLite.JournalMode) {
		case "wal", "delete", "truncate", "persist", "memory", "off":
		default:
			errs = append(errs, FieldError{
				Field:   "ledger.sqlite.journal_mode",
				Message: fmt.Sprintf("invalid journal mode %q", cfg.SQLite.JournalMode),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("invalid ledger backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.AsyncBuffer < 0 {
		errs = append(errs, FieldError{Field: "ledger.async_buffer", Message: "must not be negative"})
	}
	// Validate retention
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "ledger.retention.days", Message: "must not be negative"})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{Field: "ledger.retention.max_records", Message: "must not be negative"})
	}
	if err := validateSchedule(cfg.Retention.Schedule); err != "" {
		errs = append(errs, FieldError{Field: "ledger.retention.schedule", Message: err})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'trace', 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: fmt.Sprintf("invalid listen address %q: %v", cfg.Metrics.ListenAddress, err),
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}

// validateURL returns a message describing why raw is not an absolute
// http(s) URL, or "" when it is.
func validateURL(raw string) string {
	if raw == "" {
		return "url is required"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Sprintf("invalid url %q: host is required", raw)
	}
	return ""
}

func validateSchedule(spec string) string {
	if spec == "" {
		return "schedule is required"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Sprintf("invalid cron schedule %q: %v", spec, err)
	}
	return ""
}
