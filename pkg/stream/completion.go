package stream

import (
	"net/http"

	"github.com/google/uuid"
)

// FinishReason is the normalized reason a completion ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
	FinishUnknown       FinishReason = "unknown"
)

// Header names carrying the correlation ids.
const (
	ClientRequestIDHeader = "X-Request-Id"
	OriginRequestIDHeader = "X-GitHub-Request-Id"
)

// RequestIDs correlates a completion with the upstream exchange that
// produced it.
type RequestIDs struct {
	// ClientRequestID is the id visible to the client. A fresh UUID is
	// generated when the upstream did not send one.
	ClientRequestID string `json:"client_request_id"`

	// OriginRequestID is the id assigned by the origin service, if any.
	OriginRequestID string `json:"origin_request_id,omitempty"`
}

// RequestIDsFromHeader extracts the correlation ids from upstream response
// headers.
func RequestIDsFromHeader(h http.Header) RequestIDs {
	ids := RequestIDs{
		ClientRequestID: h.Get(ClientRequestIDHeader),
		OriginRequestID: h.Get(OriginRequestIDHeader),
	}
	if ids.ClientRequestID == "" {
		ids.ClientRequestID = uuid.NewString()
	}
	return ids
}

// Usage holds token counts as reported by the upstream.
type Usage struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
	CachedTokens        int64 `json:"cached_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	ReasoningTokens     int64 `json:"reasoning_tokens"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Completion is the synthesized record of one logical message unit of an
// upstream stream. It feeds logging and telemetry only.
type Completion struct {
	MessageID    string       `json:"message_id,omitempty"`
	Model        string       `json:"model"`
	FinishReason FinishReason `json:"finish_reason"`
	FilterReason string       `json:"filter_reason,omitempty"`

	// StopReason is the raw stop reason sent by the upstream.
	StopReason string `json:"stop_reason,omitempty"`

	Usage      Usage      `json:"usage"`
	RequestIDs RequestIDs `json:"request_ids"`

	Text      string     `json:"text,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ErrorType and ErrorMessage are set when the stream carried an error event.
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// MapStopReason converts an upstream stop reason into a FinishReason and an
// optional filter reason.
func MapStopReason(stopReason string) (FinishReason, string) {
	switch stopReason {
	case "end_turn", "stop_sequence", "pause_turn":
		return FinishStop, ""
	case "max_tokens", "model_context_window_exceeded":
		return FinishLength, ""
	case "tool_use":
		return FinishToolCalls, ""
	case "refusal":
		return FinishContentFilter, "refusal"
	default:
		return FinishUnknown, ""
	}
}
