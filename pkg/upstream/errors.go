package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrNoBody is returned when a successful upstream response has no body.
var ErrNoBody = errors.New("upstream response has no body")

// StatusOverloaded is the non-standard status the Messages API uses when the
// service is overloaded.
const StatusOverloaded = 529

// Error is a non-2xx upstream response.
type Error struct {
	Endpoint   string
	StatusCode int
	Message    string

	// RetryAfter is the delay requested by a 429 or 529 response.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s returned %d", e.Endpoint, e.StatusCode)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may be sent again.
func (e *Error) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == StatusOverloaded
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

const maxErrorBody = 4096

// newError builds an Error from a non-2xx response. It reads at most
// maxErrorBody bytes and prefers the Messages API error.message field.
func newError(endpointName string, resp *http.Response, body []byte) *Error {
	e := &Error{Endpoint: endpointName, StatusCode: resp.StatusCode}

	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			e.Message = msg.String()
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == StatusOverloaded {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
