package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, cfg Config) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.Writer = buf
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return logger, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"json", Config{Level: "info", Format: "json"}, false},
		{"text", Config{Level: "debug", Format: "text"}, false},
		{"console alias", Config{Level: "warn", Format: "console"}, false},
		{"trace", Config{Level: "trace"}, false},
		{"defaults", Config{}, false},
		{"invalid level", Config{Level: "loud"}, true},
		{"invalid format", Config{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		logAt   slog.Level
		wantLog bool
	}{
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"debug", LevelTrace, false},
		{"trace", LevelTrace, true},
		{"error", slog.LevelWarn, false},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.logAt.String(), func(t *testing.T) {
			logger, buf := newTestLogger(t, Config{Level: tt.level})
			logger.Log(context.Background(), tt.logAt, "message")
			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestLogger_TraceLevelName(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "trace"})
	logger.Log(context.Background(), LevelTrace, "chunk")
	if got := decodeLine(t, buf)["level"]; got != "TRACE" {
		t.Errorf("level = %v, want TRACE", got)
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger, buf := newTestLogger(t, Config{})
	ctx := WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "handled", "status", 200)

	line := decodeLine(t, buf)
	if line["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", line["request_id"])
	}
	if line["status"] != float64(200) {
		t.Errorf("status = %v", line["status"])
	}
}

func TestLogger_ExplicitRequestIDWins(t *testing.T) {
	logger, buf := newTestLogger(t, Config{})
	ctx := WithRequestID(context.Background(), "from-ctx")
	logger.InfoContext(ctx, "handled", "request_id", "explicit")

	if strings.Count(buf.String(), "request_id") != 1 {
		t.Errorf("request_id logged more than once: %s", buf.String())
	}
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Redact: true})
	logger.With("nonce", "claude-lm-2f1c0c7e-aaaa-bbbb-cccc-0123456789ab").Info("started",
		"x-api-key", "claude-lm-2f1c0c7e",
		"header", "Bearer abc.def.ghi",
		"note", "key sk-ant-api03-secretvalue leaked",
		"prompt_tokens", 120,
		slog.Group("upstream", slog.String("token", "ghu_abcdef")),
	)

	out := buf.String()
	for _, secret := range []string{"2f1c0c7e", "abc.def.ghi", "secretvalue", "ghu_abcdef"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	line := decodeLine(t, buf)
	if line["prompt_tokens"] != float64(120) {
		t.Errorf("prompt_tokens = %v, counters must not be masked", line["prompt_tokens"])
	}
	if line["nonce"] != "clau***" {
		t.Errorf("nonce = %v, want prefix mask", line["nonce"])
	}
}

func TestLogger_NoRedaction(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Redact: false})
	logger.Info("started", "token", "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("value unexpectedly redacted: %s", buf.String())
	}
}

func TestLogger_TextFormat(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Format: "text"})
	logger.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"fatal", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
