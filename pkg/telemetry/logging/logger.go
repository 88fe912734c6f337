package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in key=value text format.
	FormatText LogFormat = "text"
)

// LevelTrace is below debug and carries per-chunk and per-event stream
// diagnostics.
const LevelTrace = slog.Level(-8)

// Config contains configuration for the logger.
type Config struct {
	// Level is the minimum log level ("trace", "debug", "info", "warn", "error").
	Level string

	// Format is the output format ("json", "text").
	Format string

	// AddSource includes file and line number in logs.
	AddSource bool

	// Redact masks secrets in attribute values.
	Redact bool

	// Writer is the output writer (defaults to os.Stderr).
	Writer io.Writer
}

// New creates a logger from cfg. Install it with slog.SetDefault so that
// component loggers derived from slog.Default share the handler.
func New(cfg Config) (*slog.Logger, error) {
	h, err := NewHandler(cfg)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// NewHandler creates the handler behind New. Records are enriched with the
// request id and trace ids found in their context and, when enabled, have
// secrets masked before they reach the output handler.
func NewHandler(cfg Config) (slog.Handler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceLevel,
	}

	var inner slog.Handler
	switch format {
	case FormatText:
		inner = slog.NewTextHandler(writer, opts)
	default:
		inner = slog.NewJSONHandler(writer, opts)
	}

	var redactor *Redactor
	if cfg.Redact {
		redactor = NewRedactor()
	}
	return &contextHandler{inner: inner, redactor: redactor}, nil
}

// replaceLevel names LevelTrace "TRACE" instead of "DEBUG-4".
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// ParseFormat parses a log format string into LogFormat.
func ParseFormat(formatStr string) (LogFormat, error) {
	switch strings.ToLower(formatStr) {
	case "json", "":
		return FormatJSON, nil
	case "text", "console":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
