package endpoint

import (
	"context"
	"errors"
	"net/http"

	"mercator-hq/lmserver/pkg/stream"
)

// APIType identifies the wire protocol an endpoint speaks.
type APIType string

const (
	// APIMessages is the Anthropic Messages API.
	APIMessages APIType = "messages"

	// APIChatCompletions is the OpenAI-style chat completions API.
	APIChatCompletions APIType = "chat_completions"

	// APIResponses is the OpenAI-style responses API.
	APIResponses APIType = "responses"
)

// ErrNotImplemented is returned by endpoint operations that have no meaning
// for a particular implementation.
var ErrNotImplemented = errors.New("not implemented")

// Endpoint is a selectable chat-completion backend.
//
// Implementations must be safe for concurrent use. Decorators wrap an
// Endpoint by embedding it and overriding individual members.
type Endpoint interface {
	// Model is the canonical model id sent upstream.
	Model() string

	// Family is the model family slug (e.g. "claude-sonnet-4").
	Family() string

	// Name is a human-readable display name.
	Name() string

	// Version is the model version string reported by the catalog.
	Version() string

	// APIType is the wire API the endpoint uses by default.
	APIType() APIType

	// URLFor returns the request URL for the given wire API.
	URLFor(api APIType) string

	// URL returns the request URL for APIType.
	URL() string

	ModelMaxPromptTokens() int
	MaxOutputTokens() int
	SupportsVision() bool
	SupportsToolCalls() bool

	// Policy is the catalog policy state (e.g. "enabled").
	Policy() string

	// Headers returns the headers to send with every upstream request.
	// Callers may modify the returned value.
	Headers() http.Header

	// CreateRequestBody builds the native JSON request body.
	CreateRequestBody(opts RequestOptions) ([]byte, error)

	// ProcessResponse consumes a successful upstream response and returns
	// the sequence of completions decoded from it. The channel is closed when
	// the response has been fully consumed or ctx is done. The implementation
	// owns resp.Body and closes it.
	ProcessResponse(ctx context.Context, resp *http.Response) (<-chan stream.Completion, error)

	// MakeChatRequest performs a complete single-shot request.
	MakeChatRequest(ctx context.Context, opts RequestOptions) (*stream.Completion, error)

	// CloneWithTokenOverride returns a copy with a different prompt token limit.
	CloneWithTokenOverride(maxPromptTokens int) (Endpoint, error)
}

// ChatMessage is a flattened message used to build endpoint-native bodies.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestOptions are the abstract inputs from which an endpoint builds its
// native request body.
type RequestOptions struct {
	// Messages is the conversation, system prompt first when present.
	Messages []ChatMessage

	// MaxTokens caps the response length. Zero uses MaxOutputTokens.
	MaxTokens int

	// Stream requests a streaming response.
	Stream bool

	// Location tags the caller for upstream telemetry.
	Location string

	// UserInitiated reports whether the last message came from the user.
	UserInitiated bool

	// RequestID correlates the upstream call with the inbound request.
	RequestID string
}

// Info describes one endpoint as listed by a catalog.
type Info struct {
	Name            string
	Model           string
	Family          string
	Version         string
	BaseURL         string
	APIKey          string
	APITypes        []APIType
	Paths           map[APIType]string
	MaxPromptTokens int
	MaxOutputTokens int
	ThinkingBudget  int
	Vision          bool
	ToolCalls       bool
	Policy          string
	Headers         map[string]string
}

// DefaultPaths maps each wire API to its request path relative to BaseURL.
var DefaultPaths = map[APIType]string{
	APIMessages:        "/v1/messages",
	APIChatCompletions: "/chat/completions",
	APIResponses:       "/responses",
}
