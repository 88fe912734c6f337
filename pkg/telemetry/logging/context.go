package logging

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	modelKey     contextKey = "model"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithModel adds the selected model to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// GetModel retrieves the selected model from the context.
func GetModel(ctx context.Context) string {
	if m, ok := ctx.Value(modelKey).(string); ok {
		return m
	}
	return ""
}
