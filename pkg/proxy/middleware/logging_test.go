package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
		wantFlush  bool
	}{
		{
			name: "implicit ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("hello"))
			},
			wantStatus: http.StatusOK,
			wantBody:   "hello",
		},
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "flush passes through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				f, ok := w.(http.Flusher)
				if !ok {
					t.Error("wrapped writer does not implement http.Flusher")
					return
				}
				_, _ = w.Write([]byte("data: 1\n\n"))
				f.Flush()
			},
			wantStatus: http.StatusOK,
			wantBody:   "data: 1\n\n",
			wantFlush:  true,
		},
		{
			name: "start time in context",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if GetStartTime(r.Context()).IsZero() {
					t.Error("start time missing from context")
				}
				if time.Since(GetStartTime(r.Context())) > time.Minute {
					t.Error("start time is stale")
				}
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			LoggingMiddleware(tt.handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %v, want %v", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			if tt.wantFlush && !w.Flushed {
				t.Error("Flush did not reach the underlying writer")
			}
		})
	}
}

func TestResponseWriter_Shared(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if newResponseWriter(rw) != rw {
		t.Error("wrapping twice should reuse the writer")
	}
	if HeaderWritten(rw) {
		t.Error("HeaderWritten() = true before any write")
	}
	_, _ = rw.Write([]byte("abc"))
	if !HeaderWritten(rw) || rw.bytes != 3 {
		t.Errorf("HeaderWritten() = %v, bytes = %d", HeaderWritten(rw), rw.bytes)
	}
	if HeaderWritten(httptest.NewRecorder()) {
		t.Error("HeaderWritten() on a plain writer should be false")
	}
}

func TestStatus(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if got := Status(rw); got != http.StatusOK {
		t.Errorf("Status() = %d, want 200 before any write", got)
	}
	rw.WriteHeader(http.StatusNotFound)
	if got := Status(rw); got != http.StatusNotFound {
		t.Errorf("Status() = %d, want 404", got)
	}
	if got := Status(httptest.NewRecorder()); got != http.StatusOK {
		t.Errorf("Status() on a plain writer = %d, want 200", got)
	}
}
