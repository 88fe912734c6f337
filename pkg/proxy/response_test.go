package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/lmserver/pkg/proxy/types"
	"mercator-hq/lmserver/pkg/upstream"
)

func TestWriteJSONResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       any
	}{
		{"success response", http.StatusOK, map[string]string{"message": "success"}},
		{"created response", http.StatusCreated, map[string]string{"id": "123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			if err := WriteJSONResponse(w, tt.statusCode, tt.data); err != nil {
				t.Errorf("WriteJSONResponse() error = %v", err)
			}
			if w.Code != tt.statusCode {
				t.Errorf("Status code = %v, want %v", w.Code, tt.statusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %v, want application/json", ct)
			}
			var result map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
				t.Errorf("Response is not valid JSON: %v", err)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		message  string
		wantType string
	}{
		{"unauthorized", http.StatusUnauthorized, "Invalid authentication", types.ErrorTypeAuthentication},
		{"not found", http.StatusNotFound, "No model found matching criteria", types.ErrorTypeNotFound},
		{"internal", http.StatusInternalServerError, "boom", types.ErrorTypeAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			if err := WriteError(w, tt.status, tt.message); err != nil {
				t.Fatalf("WriteError() error = %v", err)
			}
			if w.Code != tt.status {
				t.Errorf("Status code = %v, want %v", w.Code, tt.status)
			}
			var errResp types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("Response is not valid JSON: %v", err)
			}
			if errResp.Type != "error" || errResp.Error.Type != tt.wantType || errResp.Error.Message != tt.message {
				t.Errorf("envelope = %+v", errResp)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	_ = WriteErrorResponse(w, types.NewErrorResponse(http.StatusTooManyRequests, "slow down"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Status code = %v, want 429", w.Code)
	}
}

func TestStartStream(t *testing.T) {
	w := httptest.NewRecorder()
	StartStream(w)

	expectedHeaders := map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	}
	for key, want := range expectedHeaders {
		if got := w.Header().Get(key); got != want {
			t.Errorf("Header %s = %v, want %v", key, got, want)
		}
	}
	if w.Code != http.StatusOK {
		t.Errorf("Status code = %v, want 200", w.Code)
	}
	if !w.Flushed {
		t.Error("headers were not flushed")
	}
}

func TestWriteSSEError(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteSSEError(w, types.NewErrorResponse(http.StatusBadGateway, "upstream failed")); err != nil {
		t.Fatalf("WriteSSEError() error = %v", err)
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: error\ndata: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("frame = %q", body)
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(body, "event: error\ndata: "), "\n\n")
	var errResp types.ErrorResponse
	if err := json.Unmarshal([]byte(payload), &errResp); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if errResp.Error.Message != "upstream failed" || errResp.Error.Type != types.ErrorTypeAPI {
		t.Errorf("envelope = %+v", errResp)
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "upstream rate limit",
			err:         fmt.Errorf("fetch: %w", &upstream.Error{Endpoint: "m", StatusCode: 429, Message: "slow down"}),
			wantStatus:  http.StatusTooManyRequests,
			wantMessage: "slow down",
		},
		{
			name:        "upstream overloaded",
			err:         &upstream.Error{Endpoint: "m", StatusCode: 529, Message: "busy"},
			wantStatus:  types.StatusOverloaded,
			wantMessage: "busy",
		},
		{
			name:        "deadline",
			err:         context.DeadlineExceeded,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "upstream request timed out",
		},
		{
			name:        "generic",
			err:         errors.New("something broke"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := HandleError(tt.err)
			if got := resp.Error.HTTPStatusCode(); got != tt.wantStatus {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantStatus)
			}
			if resp.Error.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", resp.Error.Message, tt.wantMessage)
			}
		})
	}
}
