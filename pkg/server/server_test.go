package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/lmserver/internal/mockupstream"
	"mercator-hq/lmserver/pkg/catalog"
	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/ledger"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
	"mercator-hq/lmserver/pkg/upstream"
)

const testNonce = "claude-lm-test-nonce"

// sseChunks is an upstream stream split mid-line and inside the two-byte
// encoding of "é".
var sseChunks = []string{
	"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4-x\",\"usage\":{\"input_tokens\":10,\"output_tokens\":1}}}\n\nevent: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"h\xc3",
	"\xa9llo\"}}\n\nevent: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":5}}\n",
	"\nevent: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
}

const requestBody = `{"model":"claude-sonnet-4-20250514","max_tokens":1024,"stream":true,"thinking":{"type":"enabled","budget_tokens":2048},"messages":[{"role":"user","content":"hi"}]}`

// newUpstream starts a mock upstream that streams sseChunks.
func newUpstream(t *testing.T) *mockupstream.Server {
	t.Helper()
	up := mockupstream.New()
	t.Cleanup(up.Close)
	up.SetResponse(mockupstream.MessagesPath, mockupstream.Stream(sseChunks...))
	return up
}

func endpointConfig(baseURL string) config.EndpointConfig {
	return config.EndpointConfig{
		Name:    "Claude Sonnet 4",
		Model:   "claude-sonnet-4-x",
		Family:  "claude-sonnet-4",
		BaseURL: baseURL,
	}
}

func newTestServer(t *testing.T, deps Deps, endpoints ...config.EndpointConfig) *Server {
	t.Helper()
	if deps.Catalog == nil {
		deps.Catalog = catalog.NewStatic(endpoints, nil, nil)
	}
	if deps.Fetcher == nil {
		deps.Fetcher = upstream.NewFetcher(upstream.Config{})
	}
	s, err := New(deps, Options{
		Nonce:           testNonce,
		UserAgentPrefix: config.DefaultUserAgentPrefix,
		MaxPromptTokens: config.DefaultMaxPromptTokens,
		MaxOutputTokens: config.DefaultMaxOutputTokens,
		MaxBodyBytes:    1 << 20,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func postMessages(s *Server, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "claude-cli/1.2.3 (external, cli)")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, body []byte) (string, string) {
	t.Helper()
	var env struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("error body %q is not JSON: %v", body, err)
	}
	if env.Type != "error" {
		t.Errorf("envelope type = %q, want error", env.Type)
	}
	return env.Error.Type, env.Error.Message
}

func TestNew(t *testing.T) {
	if _, err := New(Deps{Fetcher: upstream.NewFetcher(upstream.Config{})}, Options{}); err == nil {
		t.Error("New() without catalog error = nil, want error")
	}
	if _, err := New(Deps{Catalog: catalog.NewStatic(nil, nil, nil)}, Options{}); err == nil {
		t.Error("New() without fetcher error = nil, want error")
	}

	s, err := New(Deps{
		Catalog: catalog.NewStatic(nil, nil, nil),
		Fetcher: upstream.NewFetcher(upstream.Config{}),
	}, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cfg := s.GetConfig()
	if !strings.HasPrefix(cfg.Nonce, NoncePrefix) || len(cfg.Nonce) <= len(NoncePrefix) {
		t.Errorf("generated nonce = %q, want %s<uuid>", cfg.Nonce, NoncePrefix)
	}
	if cfg.Host != config.DefaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, config.DefaultHost)
	}
	if s.Selector() == nil {
		t.Error("Selector() = nil, want default selector")
	}
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, Deps{})

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"options anywhere", http.MethodOptions, "/anything", http.StatusOK, ""},
		{"options messages", http.MethodOptions, "/v1/messages", http.StatusOK, ""},
		{"greeting", http.MethodGet, "/", http.StatusOK, Greeting},
		{"greeting with query", http.MethodGet, "/?check=1", http.StatusOK, Greeting},
		{"get messages", http.MethodGet, "/v1/messages", http.StatusNotFound, ""},
		{"unknown path", http.MethodPost, "/v1/complete", http.StatusNotFound, ""},
		{"post root", http.MethodPost, "/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusNotFound {
				typ, msg := decodeError(t, rec.Body.Bytes())
				if typ != "not_found_error" || msg != ErrNotFound.Error() {
					t.Errorf("error = %s %q, want not_found_error %q", typ, msg, ErrNotFound.Error())
				}
				return
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestMessages_Authentication(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, Deps{}, endpointConfig(up.URL()))

	tests := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"wrong", "claude-lm-other"},
		{"different case", strings.ToUpper(testNonce)},
		{"prefix", testNonce[:len(testNonce)-1]},
		{"padded", testNonce + " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessages(s, "/v1/messages", tt.key, requestBody)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			typ, msg := decodeError(t, rec.Body.Bytes())
			if typ != "authentication_error" {
				t.Errorf("error type = %q, want authentication_error", typ)
			}
			if msg != ErrInvalidAuthentication.Error() {
				t.Errorf("message = %q, want %q", msg, ErrInvalidAuthentication.Error())
			}
		})
	}

	if calls := up.RequestCount(); calls != 0 {
		t.Errorf("upstream calls = %d, want 0 for rejected requests", calls)
	}
}

func TestMessages_PassThrough(t *testing.T) {
	want := strings.Join(sseChunks, "")

	for _, path := range []string{"/v1/messages", "/messages", "//messages", "/v1/messages?beta=true"} {
		t.Run(path, func(t *testing.T) {
			up := newUpstream(t)
			s := newTestServer(t, Deps{}, endpointConfig(up.URL()))

			rec := postMessages(s, path, testNonce, requestBody)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
				t.Errorf("Content-Type = %q, want text/event-stream", ct)
			}
			if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
				t.Errorf("Cache-Control = %q, want no-cache", cc)
			}
			if got := rec.Body.String(); got != want {
				t.Errorf("forwarded body differs from upstream bytes:\ngot  %q\nwant %q", got, want)
			}

			reqs := up.Requests()
			if len(reqs) != 1 {
				t.Fatalf("upstream calls = %d, want 1", len(reqs))
			}
			body, ua := reqs[0].Body, reqs[0].Header.Get("User-Agent")
			var sent map[string]json.RawMessage
			if err := json.Unmarshal(body, &sent); err != nil {
				t.Fatalf("upstream body is not JSON: %v", err)
			}
			if got := string(sent["model"]); got != `"claude-sonnet-4-x"` {
				t.Errorf("upstream model = %s, want the selected endpoint model", got)
			}
			if got := string(sent["thinking"]); got != `{"type":"enabled","budget_tokens":2048}` {
				t.Errorf("upstream thinking = %s, want caller value", got)
			}
			if got := string(sent["messages"]); got != `[{"role":"user","content":"hi"}]` {
				t.Errorf("upstream messages = %s, want caller value", got)
			}
			if ua != "vscode_claude_code/1.2.3 (external, cli)" {
				t.Errorf("upstream User-Agent = %q", ua)
			}
		})
	}
}

func TestMessages_Selection(t *testing.T) {
	tests := []struct {
		name        string
		endpoints   []config.EndpointConfig
		wantMessage string
	}{
		{"empty catalog", nil, ErrNoEligibleEndpoints.Error()},
		{
			"no messages api",
			[]config.EndpointConfig{{Model: "claude-sonnet-4-x", BaseURL: "http://127.0.0.1:1", APITypes: []string{"chat_completions"}}},
			ErrNoEligibleEndpoints.Error(),
		},
		{
			"no matching model",
			[]config.EndpointConfig{{Model: "gpt-4o", Family: "gpt-4o", BaseURL: "http://127.0.0.1:1"}},
			ErrNoMatchingEndpoint.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Deps{}, tt.endpoints...)
			rec := postMessages(s, "/messages", testNonce, requestBody)

			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			typ, msg := decodeError(t, rec.Body.Bytes())
			if typ != "not_found_error" || msg != tt.wantMessage {
				t.Errorf("error = %s %q, want not_found_error %q", typ, msg, tt.wantMessage)
			}
		})
	}
}

func TestMessages_InvalidBody(t *testing.T) {
	s := newTestServer(t, Deps{}, endpointConfig("http://127.0.0.1:1"))

	rec := postMessages(s, "/v1/messages", testNonce, `{"model":`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	typ, msg := decodeError(t, rec.Body.Bytes())
	if typ != "api_error" || msg == "" {
		t.Errorf("error = %s %q, want api_error with the parse message", typ, msg)
	}
}

func TestMessages_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, Deps{}, endpointConfig("http://127.0.0.1:1"))
	s.opts.MaxBodyBytes = 16

	rec := postMessages(s, "/v1/messages", testNonce, requestBody)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	typ, msg := decodeError(t, rec.Body.Bytes())
	if typ != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", typ)
	}
	if msg != ErrBodyTooLarge.Error() {
		t.Errorf("message = %q, want %q", msg, ErrBodyTooLarge.Error())
	}
}

func TestMessages_UpstreamErrorFrame(t *testing.T) {
	up := mockupstream.New()
	defer up.Close()
	up.SetResponse(mockupstream.MessagesPath, mockupstream.ErrorResponse(http.StatusBadRequest, "invalid_request_error", "prompt is too long"))

	store := ledger.NewMemoryStore()
	recorder := ledger.NewRecorder(store, ledger.RecorderConfig{}, nil)
	s := newTestServer(t, Deps{Ledger: recorder}, endpointConfig(up.URL()))

	rec := postMessages(s, "/v1/messages", testNonce, requestBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (headers are committed before the upstream call)", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: error\ndata: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("body = %q, want a single SSE error event", body)
	}
	data := strings.TrimSuffix(strings.TrimPrefix(body, "event: error\ndata: "), "\n\n")
	typ, msg := decodeError(t, []byte(data))
	if typ != "invalid_request_error" || msg != "prompt is too long" {
		t.Errorf("error = %s %q, want invalid_request_error %q", typ, msg, "prompt is too long")
	}

	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	entries, err := store.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Status != http.StatusBadRequest || entries[0].Error == "" {
		t.Errorf("entry status = %d error = %q, want 400 with an error", entries[0].Status, entries[0].Error)
	}
}

func TestMessages_LedgerAndMetrics(t *testing.T) {
	up := newUpstream(t)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test"}, registry)
	store := ledger.NewMemoryStore()
	recorder := ledger.NewRecorder(store, ledger.RecorderConfig{}, collector)

	s := newTestServer(t, Deps{Ledger: recorder, Metrics: collector}, endpointConfig(up.URL()))

	rec := postMessages(s, "/v1/messages", testNonce, requestBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := store.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	e := entries[0]
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"requested model", e.RequestedModel, "claude-sonnet-4-20250514"},
		{"model", e.Model, "claude-sonnet-4-x"},
		{"endpoint", e.Endpoint, "Claude Sonnet 4"},
		{"status", e.Status, http.StatusOK},
		{"finish reason", e.FinishReason, "stop"},
		{"prompt tokens", e.PromptTokens, int64(10)},
		{"completion tokens", e.CompletionTokens, int64(5)},
		{"bytes", e.BytesForwarded, int64(len(strings.Join(sseChunks, "")))},
		{"attempts", e.Attempts, 1},
		{"user initiated", e.UserInitiated, true},
		{"canceled", e.Canceled, false},
		{"error", e.Error, ""},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if e.RequestID == "" || e.ClientRequestID == "" {
		t.Errorf("request ids = %q/%q, want both set", e.RequestID, e.ClientRequestID)
	}

	for _, name := range []string{
		"test_requests_total",
		"test_upstream_requests_total",
		"test_forwarded_bytes_total",
	} {
		n, err := testutil.GatherAndCount(registry, name)
		if err != nil {
			t.Fatalf("GatherAndCount(%s) error = %v", name, err)
		}
		if n == 0 {
			t.Errorf("%s has no series", name)
		}
	}
}

func TestMessages_ClientDisconnect(t *testing.T) {
	upstreamGone := make(chan struct{})
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, sseChunks[0])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
			close(upstreamGone)
		case <-time.After(10 * time.Second):
		}
	}))
	defer upstreamSrv.Close()

	s := newTestServer(t, Deps{}, endpointConfig(upstreamSrv.URL))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+s.Addr()+"/v1/messages", strings.NewReader(requestBody))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set(APIKeyHeader, testNonce)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("reading first bytes: %v", err)
	}
	cancel()
	_ = resp.Body.Close()

	select {
	case <-upstreamGone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not canceled after the client disconnected")
	}
}

func TestServer_Lifecycle(t *testing.T) {
	s := newTestServer(t, Deps{})

	if s.Addr() != "" || s.Running() {
		t.Fatal("server reports running before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port := s.GetConfig().Port
	if port == 0 {
		t.Fatal("GetConfig().Port = 0 after Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := s.GetConfig().Port; got != port {
		t.Errorf("Port after second Start = %d, want %d", got, port)
	}

	resp, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != Greeting {
		t.Errorf("GET / body = %q, want %q", body, Greeting)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
	if _, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/"); err == nil {
		t.Error("listener still accepts connections after Stop")
	}
}

func TestServer_StopsWithContext(t *testing.T) {
	s := newTestServer(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("server still running after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_GetConfigIsCopy(t *testing.T) {
	s := newTestServer(t, Deps{})
	cfg := s.GetConfig()
	cfg.Nonce = "changed"
	cfg.Port = 1
	if got := s.GetConfig(); got.Nonce != testNonce || got.Port != 0 {
		t.Errorf("GetConfig() = %+v after mutating a copy", got)
	}
}

func TestAccessLog_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	s := newTestServer(t, Deps{}, endpointConfig("http://127.0.0.1:1"))
	rec := postMessages(s, "/v1/messages", "wrong", requestBody)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	want := rec.Header().Get("X-Request-Id")
	if want == "" {
		t.Fatal("response has no X-Request-Id")
	}

	var found bool
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry struct {
			Msg       string `json:"msg"`
			RequestID string `json:"request_id"`
			Status    int    `json:"status"`
		}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil || entry.Msg != "request completed" {
			continue
		}
		found = true
		if entry.RequestID != want {
			t.Errorf("access log request_id = %q, want %q", entry.RequestID, want)
		}
		if entry.Status != http.StatusUnauthorized {
			t.Errorf("access log status = %d, want 401", entry.Status)
		}
	}
	if !found {
		t.Fatalf("no request completed line in log output:\n%s", buf.String())
	}
}
