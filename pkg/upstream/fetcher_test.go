package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/lmserver/pkg/endpoint"
)

const okStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4\",\"usage\":{\"input_tokens\":5}}}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"max_tokens\"},\"usage\":{\"output_tokens\":9}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func messagesEndpoint(baseURL string) endpoint.Endpoint {
	return endpoint.NewHTTPEndpoint(endpoint.Info{
		Model:           "claude-sonnet-4",
		Family:          "claude-sonnet-4",
		BaseURL:         baseURL,
		APIKey:          "tok",
		APITypes:        []endpoint.APIType{endpoint.APIMessages},
		MaxOutputTokens: 1000,
	}, nil)
}

func newFetcher(client *http.Client, retries int) *Fetcher {
	return NewFetcher(Config{Client: client, MaxRetries: retries, RetryBackoff: time.Millisecond})
}

func TestFetcher_Fetch_Success(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(okStream))
	}))
	defer srv.Close()

	f := newFetcher(srv.Client(), 0)
	res, err := f.Fetch(context.Background(), Request{
		Endpoint:      messagesEndpoint(srv.URL),
		Options:       endpoint.RequestOptions{Messages: []endpoint.ChatMessage{{Role: "user", Content: "hi"}}, Stream: true},
		RequestID:     "req-1",
		UserInitiated: true,
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if res.StatusCode != http.StatusOK || res.Attempts != 1 {
		t.Errorf("StatusCode = %d, Attempts = %d", res.StatusCode, res.Attempts)
	}
	last := res.Last()
	if last == nil {
		t.Fatal("Last() = nil")
	}
	if last.FinishReason != "length" || last.Usage.TotalTokens != 14 {
		t.Errorf("completion = %+v", last)
	}

	headers := []struct {
		key  string
		want string
	}{
		{"Authorization", "Bearer tok"},
		{"Content-Type", "application/json"},
		{"Accept", "text/event-stream"},
		{"X-Request-Id", "req-1"},
		{"X-Initiator", "user"},
		{"anthropic-version", endpoint.AnthropicVersion},
	}
	for _, h := range headers {
		if v := got.Get(h.key); v != h.want {
			t.Errorf("%s = %q, want %q", h.key, v, h.want)
		}
	}
}

func TestFetcher_Fetch_AgentInitiator(t *testing.T) {
	var initiator string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initiator = r.Header.Get("X-Custom-Initiator")
		_, _ = w.Write([]byte(okStream))
	}))
	defer srv.Close()

	f := NewFetcher(Config{Client: srv.Client(), InitiatorHeader: "X-Custom-Initiator"})
	if _, err := f.Fetch(context.Background(), Request{Endpoint: messagesEndpoint(srv.URL)}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if initiator != "agent" {
		t.Errorf("initiator = %q, want agent", initiator)
	}
}

func TestFetcher_Fetch_Status(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		retries      int
		retryAfter   string
		wantErr      bool
		wantStatus   int
		wantAttempts int32
		wantMessage  string
		wantRetry    time.Duration
	}{
		{
			name:         "retries 5xx then succeeds",
			statuses:     []int{503, 502, 200},
			retries:      2,
			wantAttempts: 3,
		},
		{
			name:         "retries overloaded",
			statuses:     []int{529, 200},
			retries:      2,
			wantAttempts: 2,
		},
		{
			name:         "gives up after retries",
			statuses:     []int{500, 500, 500},
			retries:      2,
			wantErr:      true,
			wantStatus:   500,
			wantAttempts: 3,
			wantMessage:  "boom",
		},
		{
			name:         "4xx not retried",
			statuses:     []int{400, 200},
			retries:      2,
			wantErr:      true,
			wantStatus:   400,
			wantAttempts: 1,
			wantMessage:  "boom",
		},
		{
			name:         "429 carries retry-after",
			statuses:     []int{429, 200},
			retries:      2,
			retryAfter:   "7",
			wantErr:      true,
			wantStatus:   429,
			wantAttempts: 1,
			wantMessage:  "boom",
			wantRetry:    7 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := int(calls.Add(1)) - 1
				status := tt.statuses[len(tt.statuses)-1]
				if i < len(tt.statuses) {
					status = tt.statuses[i]
				}
				if status != http.StatusOK {
					if tt.retryAfter != "" {
						w.Header().Set("Retry-After", tt.retryAfter)
					}
					w.WriteHeader(status)
					_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
					return
				}
				_, _ = w.Write([]byte(okStream))
			}))
			defer srv.Close()

			f := newFetcher(srv.Client(), tt.retries)
			res, err := f.Fetch(context.Background(), Request{Endpoint: messagesEndpoint(srv.URL)})

			if calls.Load() != tt.wantAttempts {
				t.Errorf("upstream calls = %d, want %d", calls.Load(), tt.wantAttempts)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Fetch() error = %v", err)
				}
				if res.Attempts != int(tt.wantAttempts) {
					t.Errorf("Attempts = %d, want %d", res.Attempts, tt.wantAttempts)
				}
				return
			}

			var ue *Error
			if !errors.As(err, &ue) {
				t.Fatalf("Fetch() error = %v, want *Error", err)
			}
			if ue.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", ue.StatusCode, tt.wantStatus)
			}
			if ue.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", ue.Message, tt.wantMessage)
			}
			if ue.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", ue.RetryAfter, tt.wantRetry)
			}
			if StatusCode(err) != tt.wantStatus {
				t.Errorf("StatusCode(err) = %d", StatusCode(err))
			}
		})
	}
}

func TestFetcher_Fetch_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFetcher(srv.Client(), 3)
	if _, err := f.Fetch(ctx, Request{Endpoint: messagesEndpoint(srv.URL)}); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"with message", &Error{Endpoint: "m", StatusCode: 400, Message: "bad"}, "upstream m returned 400: bad"},
		{"without message", &Error{Endpoint: "m", StatusCode: 502}, "upstream m returned 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
