package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"mercator-hq/lmserver/pkg/sse"
	"mercator-hq/lmserver/pkg/stream"
)

// AnthropicVersion is sent on Messages API requests unless configured otherwise.
const AnthropicVersion = "2023-06-01"

// HTTPEndpoint is the base Endpoint implementation for catalog entries
// reachable over HTTP.
type HTTPEndpoint struct {
	info   Info
	client *http.Client
	logger *slog.Logger
}

var _ Endpoint = (*HTTPEndpoint)(nil)

// NewHTTPEndpoint creates an endpoint from catalog info. A nil client uses
// http.DefaultClient.
func NewHTTPEndpoint(info Info, client *http.Client) *HTTPEndpoint {
	if client == nil {
		client = http.DefaultClient
	}
	if len(info.APITypes) == 0 {
		info.APITypes = []APIType{APIChatCompletions}
	}
	return &HTTPEndpoint{
		info:   info,
		client: client,
		logger: slog.Default().With("component", "endpoint", "model", info.Model),
	}
}

// Info returns a copy of the endpoint description.
func (e *HTTPEndpoint) Info() Info {
	return e.info
}

// Model returns the canonical model id sent upstream.
func (e *HTTPEndpoint) Model() string {
	return e.info.Model
}

// Family returns the model family slug used for exact matching.
func (e *HTTPEndpoint) Family() string {
	return e.info.Family
}

// Version returns the catalog version string, if any.
func (e *HTTPEndpoint) Version() string {
	return e.info.Version
}

// Policy returns the catalog policy state (for example "enabled").
func (e *HTTPEndpoint) Policy() string {
	return e.info.Policy
}

// Name returns the display name, falling back to the model id.
func (e *HTTPEndpoint) Name() string {
	if e.info.Name != "" {
		return e.info.Name
	}
	return e.info.Model
}

// APIType returns the first API listed for the endpoint.
func (e *HTTPEndpoint) APIType() APIType {
	return e.info.APITypes[0]
}

// URLFor returns the base URL joined with the path configured for api,
// or the default path for that API type.
func (e *HTTPEndpoint) URLFor(api APIType) string {
	path, ok := e.info.Paths[api]
	if !ok {
		path = DefaultPaths[api]
	}
	return strings.TrimRight(e.info.BaseURL, "/") + path
}

// URL returns the request URL for the endpoint's primary API type.
func (e *HTTPEndpoint) URL() string {
	return e.URLFor(e.APIType())
}

// ModelMaxPromptTokens returns the prompt token limit from the catalog.
func (e *HTTPEndpoint) ModelMaxPromptTokens() int { return e.info.MaxPromptTokens }

// MaxOutputTokens returns the output token limit from the catalog.
func (e *HTTPEndpoint) MaxOutputTokens() int { return e.info.MaxOutputTokens }

// SupportsVision reports whether image content is accepted.
func (e *HTTPEndpoint) SupportsVision() bool { return e.info.Vision }

// SupportsToolCalls reports whether tool definitions are accepted.
func (e *HTTPEndpoint) SupportsToolCalls() bool { return e.info.ToolCalls }

// Headers returns the headers every upstream request carries: bearer
// auth when an API key is configured, anthropic-version for Messages
// endpoints, then the configured extra headers, which win on conflict.
func (e *HTTPEndpoint) Headers() http.Header {
	h := make(http.Header, len(e.info.Headers)+2)
	if e.info.APIKey != "" {
		h.Set("Authorization", "Bearer "+e.info.APIKey)
	}
	if e.APIType() == APIMessages {
		h.Set("anthropic-version", AnthropicVersion)
	}
	for k, v := range e.info.Headers {
		h.Set(k, v)
	}
	return h
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type messagesBody struct {
	Model     string          `json:"model"`
	Messages  []ChatMessage   `json:"messages"`
	System    string          `json:"system,omitempty"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream,omitempty"`
	Thinking  *thinkingConfig `json:"thinking,omitempty"`
}

type chatBody struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
	N         int           `json:"n"`
}

// CreateRequestBody builds a body for the endpoint's own APIType.
func (e *HTTPEndpoint) CreateRequestBody(opts RequestOptions) ([]byte, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.info.MaxOutputTokens
	}

	switch e.APIType() {
	case APIMessages:
		body := messagesBody{
			Model:     e.info.Model,
			Messages:  make([]ChatMessage, 0, len(opts.Messages)),
			MaxTokens: maxTokens,
			Stream:    opts.Stream,
		}
		var system []string
		for _, m := range opts.Messages {
			if m.Role == "system" {
				system = append(system, m.Content)
				continue
			}
			body.Messages = append(body.Messages, m)
		}
		body.System = strings.Join(system, "\n")
		if e.info.ThinkingBudget > 0 {
			body.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: e.info.ThinkingBudget}
		}
		return json.Marshal(body)

	case APIChatCompletions:
		return json.Marshal(chatBody{
			Model:     e.info.Model,
			Messages:  opts.Messages,
			MaxTokens: maxTokens,
			Stream:    opts.Stream,
			N:         1,
		})

	default:
		return nil, fmt.Errorf("endpoint %s: request body for %s api: %w", e.info.Model, e.APIType(), ErrNotImplemented)
	}
}

// ProcessResponse decodes a Messages API event stream into completions.
func (e *HTTPEndpoint) ProcessResponse(ctx context.Context, resp *http.Response) (<-chan stream.Completion, error) {
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("endpoint %s: empty response", e.info.Model)
	}
	return Decode(ctx, resp, e.logger), nil
}

// Decode reads resp.Body as an SSE stream and emits a completion for each
// logical message. The body is closed when decoding stops.
func Decode(ctx context.Context, resp *http.Response, logger *slog.Logger) <-chan stream.Completion {
	out := make(chan stream.Completion)

	var once sync.Once
	closeBody := func() {
		once.Do(func() { _ = resp.Body.Close() })
	}
	stop := context.AfterFunc(ctx, closeBody)

	go func() {
		defer close(out)
		defer stop()
		defer closeBody()

		acc := stream.NewAccumulator(stream.RequestIDsFromHeader(resp.Header))
		parser := sse.NewParser(func(ev sse.Event) {
			c, ok, err := acc.Push(ev.Type, []byte(ev.Data))
			if err != nil {
				logger.Warn("failed to decode stream event", "event", ev.Type, "error", err)
				return
			}
			if ok {
				select {
				case out <- c:
				case <-ctx.Done():
				}
			}
		})

		buf := make([]byte, 32*1024)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := resp.Body.Read(buf)
			if n > 0 {
				parser.Feed(buf[:n])
			}
			if err != nil {
				if err == io.EOF {
					parser.Flush()
				}
				return
			}
		}
	}()

	return out
}

// MakeChatRequest performs a streaming request and returns the last
// completion of the response.
func (e *HTTPEndpoint) MakeChatRequest(ctx context.Context, opts RequestOptions) (*stream.Completion, error) {
	opts.Stream = true
	body, err := e.CreateRequestBody(opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = e.Headers()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", e.info.Model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("endpoint %s: status %d: %s", e.info.Model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	completions, err := e.ProcessResponse(ctx, resp)
	if err != nil {
		return nil, err
	}

	var last *stream.Completion
	for c := range completions {
		c := c
		last = &c
	}
	if last == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("endpoint %s: response contained no completion", e.info.Model)
	}
	return last, nil
}

// CloneWithTokenOverride returns a copy with a different prompt token limit.
func (e *HTTPEndpoint) CloneWithTokenOverride(maxPromptTokens int) (Endpoint, error) {
	info := e.info
	info.MaxPromptTokens = maxPromptTokens
	clone := NewHTTPEndpoint(info, e.client)
	return clone, nil
}
