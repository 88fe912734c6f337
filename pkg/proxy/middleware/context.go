package middleware

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"
)
