package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Custom keys use the "lmserver.*" namespace.
const (
	AttrRequestID      = "lmserver.request_id"
	AttrRequestedModel = "lmserver.model.requested"
	AttrModel          = "lmserver.model"
	AttrEndpoint       = "lmserver.endpoint"
	AttrUserInitiated  = "lmserver.user_initiated"

	AttrTokensPrompt     = "lmserver.tokens.prompt"
	AttrTokensCompletion = "lmserver.tokens.completion"
	AttrTokensCached     = "lmserver.tokens.cached"
	AttrFinishReason     = "lmserver.finish_reason"

	AttrBytesForwarded = "lmserver.bytes_forwarded"
	AttrAttempts       = "lmserver.upstream.attempts"
	AttrStatusCode     = "http.response.status_code"
	AttrErrorMessage   = "error.message"
)

// SetSelectionAttributes records which endpoint served a request.
func SetSelectionAttributes(span trace.Span, requested, model, endpoint string) {
	span.SetAttributes(
		attribute.String(AttrRequestedModel, requested),
		attribute.String(AttrModel, model),
		attribute.String(AttrEndpoint, endpoint),
	)
}

// SetUsageAttributes records token usage and the finish reason.
func SetUsageAttributes(span trace.Span, prompt, completion, cached int64, finishReason string) {
	span.SetAttributes(
		attribute.Int64(AttrTokensPrompt, prompt),
		attribute.Int64(AttrTokensCompletion, completion),
		attribute.Int64(AttrTokensCached, cached),
		attribute.String(AttrFinishReason, finishReason),
	)
}

// AttributeBuilder collects attributes for a span start option.
type AttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewAttributeBuilder returns an empty builder.
func NewAttributeBuilder() *AttributeBuilder {
	return &AttributeBuilder{}
}

// WithRequest adds the request id and initiator.
func (ab *AttributeBuilder) WithRequest(requestID string, userInitiated bool) *AttributeBuilder {
	if requestID != "" {
		ab.attrs = append(ab.attrs, attribute.String(AttrRequestID, requestID))
	}
	ab.attrs = append(ab.attrs, attribute.Bool(AttrUserInitiated, userInitiated))
	return ab
}

// WithString adds a string attribute when value is not empty.
func (ab *AttributeBuilder) WithString(key, value string) *AttributeBuilder {
	if value != "" {
		ab.attrs = append(ab.attrs, attribute.String(key, value))
	}
	return ab
}

// Build returns the attributes as a span start option.
func (ab *AttributeBuilder) Build() trace.SpanStartOption {
	return trace.WithAttributes(ab.attrs...)
}

// Attributes returns the collected attributes.
func (ab *AttributeBuilder) Attributes() []attribute.KeyValue {
	return ab.attrs
}
