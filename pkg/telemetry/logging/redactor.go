package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks credentials in log attributes.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

var sensitiveKeys = []string{
	"password", "passwd",
	"secret", "token", "api_key", "apikey", "api-key",
	"authorization", "nonce",
	"private_key",
}

// NewRedactor creates a Redactor with the built-in patterns: sk- style API
// keys, bearer tokens, and server nonces.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			{regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{4,}`), "sk-***"},
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), "Bearer ***"},
			{regexp.MustCompile(`claude-lm-[0-9a-fA-F\-]{8,}`), "claude-lm-***"},
		},
	}
}

// RedactString replaces every credential-looking substring of value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr masks a whole value when the key is sensitive and otherwise
// scrubs string values. Groups are processed recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch {
	case v.Kind() == slog.KindGroup:
		attrs := v.Group()
		out := make([]any, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	case isSensitiveKey(a.Key):
		if v.Kind() == slog.KindString {
			return slog.String(a.Key, RedactAPIKey(v.String()))
		}
		return slog.String(a.Key, "***")
	case v.Kind() == slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}

// isSensitiveKey matches whole key segments so that counters such as
// prompt_tokens are not masked.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lower == s ||
			strings.HasSuffix(lower, "_"+s) ||
			strings.HasSuffix(lower, "-"+s) ||
			strings.HasSuffix(lower, "."+s) {
			return true
		}
	}
	return false
}

// RedactAPIKey keeps the first 4 characters of a secret.
func RedactAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 4 {
		return "***"
	}
	return apiKey[:4] + "***"
}
