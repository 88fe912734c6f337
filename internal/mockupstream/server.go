// Package mockupstream provides a scripted Messages API upstream for tests.
package mockupstream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MessagesPath is where endpoints send Messages API requests by default.
const MessagesPath = "/v1/messages"

// Server is an httptest server answering each path with a scripted Response
// and recording every request it receives.
type Server struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]Response
	requests  []Request
}

// Response scripts the answer for one path. A response with Chunks is
// streamed as text/event-stream, each chunk written verbatim and flushed.
type Response struct {
	StatusCode int
	Body       any
	Headers    map[string]string

	Chunks     []string
	ChunkDelay time.Duration

	// Delay is waited before anything is written. The wait ends early when
	// the client goes away.
	Delay time.Duration
}

// Request is a recorded upstream request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// New starts a server with no scripted responses.
func New() *Server {
	s := &Server{responses: make(map[string]Response)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL to use as an endpoint's base_url.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down and blocks until outstanding requests finish.
func (s *Server) Close() {
	s.server.Close()
}

// SetResponse scripts the answer for path, replacing any previous one.
func (s *Server) SetResponse(path string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[path] = r
}

// Requests returns a copy of the recorded requests, oldest first.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests received.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})
	resp, ok := s.responses[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		resp = ErrorResponse(http.StatusNotFound, "not_found_error", "no scripted response for "+r.URL.Path)
	}

	if resp.Delay > 0 && !sleep(r, resp.Delay) {
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	if len(resp.Chunks) > 0 {
		s.stream(w, r, status, resp)
		return
	}

	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	switch v := resp.Body.(type) {
	case nil:
	case string:
		_, _ = io.WriteString(w, v)
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	for i, chunk := range resp.Chunks {
		if i > 0 && resp.ChunkDelay > 0 && !sleep(r, resp.ChunkDelay) {
			return
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// sleep waits d and reports false when the client went away first.
func sleep(r *http.Request, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

// Stream returns a 200 response streaming chunks.
func Stream(chunks ...string) Response {
	return Response{StatusCode: http.StatusOK, Chunks: chunks}
}

// ErrorResponse returns a JSON response carrying an Anthropic error
// envelope.
func ErrorResponse(status int, errType, message string) Response {
	return Response{
		StatusCode: status,
		Body: map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    errType,
				"message": message,
			},
		},
	}
}

// Overloaded returns the 529 response upstreams send under load.
func Overloaded() Response {
	return ErrorResponse(529, "overloaded_error", "Overloaded")
}

// Event formats one SSE event with a JSON payload.
func Event(eventType string, data any) string {
	payload, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("mockupstream: cannot encode %s payload: %v", eventType, err))
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload)
}

// MessageStream returns the events of a complete single text block reply,
// one event per chunk.
func MessageStream(model, text string, inputTokens, outputTokens int) []string {
	return []string{
		Event("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":      "msg_mock",
				"type":    "message",
				"role":    "assistant",
				"model":   model,
				"content": []any{},
				"usage":   map[string]any{"input_tokens": inputTokens, "output_tokens": 1},
			},
		}),
		Event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]any{"type": "text", "text": ""},
		}),
		Event("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}),
		Event("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}),
		Event("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn"},
			"usage": map[string]any{"output_tokens": outputTokens},
		}),
		Event("message_stop", map[string]any{"type": "message_stop"}),
	}
}
