package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4\",\"usage\":{\"input_tokens\":3}}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func messagesInfo(baseURL string) Info {
	return Info{
		Name:            "Claude Sonnet 4",
		Model:           "claude-sonnet-4",
		Family:          "claude-sonnet-4",
		BaseURL:         baseURL,
		APIKey:          "secret-token",
		APITypes:        []APIType{APIMessages, APIChatCompletions},
		MaxPromptTokens: 128000,
		MaxOutputTokens: 16000,
		ThinkingBudget:  1024,
		Headers:         map[string]string{"Copilot-Integration-Id": "lmserver"},
	}
}

func TestHTTPEndpoint_URLFor(t *testing.T) {
	info := messagesInfo("https://api.example.com/")
	info.Paths = map[APIType]string{APIChatCompletions: "/v2/chat"}
	ep := NewHTTPEndpoint(info, nil)

	tests := []struct {
		api  APIType
		want string
	}{
		{APIMessages, "https://api.example.com/v1/messages"},
		{APIChatCompletions, "https://api.example.com/v2/chat"},
		{APIResponses, "https://api.example.com/responses"},
	}
	for _, tt := range tests {
		if got := ep.URLFor(tt.api); got != tt.want {
			t.Errorf("URLFor(%s) = %q, want %q", tt.api, got, tt.want)
		}
	}
	if got := ep.URL(); got != "https://api.example.com/v1/messages" {
		t.Errorf("URL() = %q", got)
	}
}

func TestHTTPEndpoint_Headers(t *testing.T) {
	ep := NewHTTPEndpoint(messagesInfo("http://x"), nil)
	h := ep.Headers()

	if got := h.Get("Authorization"); got != "Bearer secret-token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("anthropic-version"); got != AnthropicVersion {
		t.Errorf("anthropic-version = %q", got)
	}
	if got := h.Get("Copilot-Integration-Id"); got != "lmserver" {
		t.Errorf("Copilot-Integration-Id = %q", got)
	}

	// Mutating the returned header must not leak into later calls.
	h.Set("X-Extra", "1")
	if ep.Headers().Get("X-Extra") != "" {
		t.Error("Headers() returned shared state")
	}
}

func TestHTTPEndpoint_CreateRequestBody_Messages(t *testing.T) {
	ep := NewHTTPEndpoint(messagesInfo("http://x"), nil)

	body, err := ep.CreateRequestBody(RequestOptions{
		Messages: []ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
		Stream: true,
	})
	if err != nil {
		t.Fatalf("CreateRequestBody() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["model"] != "claude-sonnet-4" {
		t.Errorf("model = %v", got["model"])
	}
	if got["system"] != "be brief" {
		t.Errorf("system = %v", got["system"])
	}
	if got["max_tokens"] != float64(16000) {
		t.Errorf("max_tokens = %v, want 16000", got["max_tokens"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v, want one user message", got["messages"])
	}
	thinking, _ := got["thinking"].(map[string]any)
	if thinking["budget_tokens"] != float64(1024) {
		t.Errorf("thinking = %v", got["thinking"])
	}
}

func TestHTTPEndpoint_CreateRequestBody_Chat(t *testing.T) {
	info := messagesInfo("http://x")
	info.APITypes = []APIType{APIChatCompletions}
	ep := NewHTTPEndpoint(info, nil)

	body, err := ep.CreateRequestBody(RequestOptions{
		Messages:  []ChatMessage{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("CreateRequestBody() error = %v", err)
	}

	var got chatBody
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Messages) != 2 || got.MaxTokens != 50 || got.N != 1 {
		t.Errorf("chat body = %+v", got)
	}
}

func TestHTTPEndpoint_MakeChatRequest(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Request-Id", "up-1")
		_, _ = w.Write([]byte(sampleStream))
	}))
	defer upstream.Close()

	ep := NewHTTPEndpoint(messagesInfo(upstream.URL), upstream.Client())
	c, err := ep.MakeChatRequest(context.Background(), RequestOptions{
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("MakeChatRequest() error = %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if c.Text != "hi" {
		t.Errorf("Text = %q, want %q", c.Text, "hi")
	}
	if c.RequestIDs.ClientRequestID != "up-1" {
		t.Errorf("ClientRequestID = %q", c.RequestIDs.ClientRequestID)
	}
}

func TestHTTPEndpoint_MakeChatRequest_Status(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer upstream.Close()

	ep := NewHTTPEndpoint(messagesInfo(upstream.URL), upstream.Client())
	if _, err := ep.MakeChatRequest(context.Background(), RequestOptions{}); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

func TestHTTPEndpoint_CloneWithTokenOverride(t *testing.T) {
	ep := NewHTTPEndpoint(messagesInfo("http://x"), nil)
	clone, err := ep.CloneWithTokenOverride(1000)
	if err != nil {
		t.Fatalf("CloneWithTokenOverride() error = %v", err)
	}
	if clone.ModelMaxPromptTokens() != 1000 {
		t.Errorf("clone.ModelMaxPromptTokens() = %d", clone.ModelMaxPromptTokens())
	}
	if ep.ModelMaxPromptTokens() != 128000 {
		t.Errorf("original modified: %d", ep.ModelMaxPromptTokens())
	}
}
