package server

import (
	"io"
	"net/http"
	"time"

	"mercator-hq/lmserver/pkg/proxy"
	"mercator-hq/lmserver/pkg/proxy/middleware"
)

// Greeting is the body of GET /.
const Greeting = "Hello from ClaudeLanguageModelServer"

// Route labels used for metrics.
const (
	routeMessages = "messages"
	routeRoot     = "root"
	routeOptions  = "options"
	routeNotFound = "not_found"
)

// routes wraps the router in the middleware chain:
// recovery, request id, access log, router. The request id must wrap the
// access log so the completed line carries it.
func (s *Server) routes() http.Handler {
	var handler http.Handler = http.HandlerFunc(s.route)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)
	return handler
}

// route dispatches on method and raw path. A ServeMux is not used because
// it would redirect //messages to /messages.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := routeName(r)
	defer func() {
		s.deps.Metrics.RecordRequest(name, middleware.Status(w), time.Since(start))
	}()

	switch name {
	case routeOptions:
		w.WriteHeader(http.StatusOK)
	case routeRoot:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, Greeting)
	case routeMessages:
		s.handleMessages(w, r)
	default:
		_ = proxy.WriteError(w, http.StatusNotFound, ErrNotFound.Error())
	}
}

func routeName(r *http.Request) string {
	if r.Method == http.MethodOptions {
		return routeOptions
	}
	switch r.URL.Path {
	case "/":
		if r.Method == http.MethodGet {
			return routeRoot
		}
	case "/v1/messages", "/messages", "//messages":
		if r.Method == http.MethodPost {
			return routeMessages
		}
	}
	return routeNotFound
}
