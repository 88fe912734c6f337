package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/lmserver/pkg/proxy"
	"mercator-hq/lmserver/pkg/proxy/types"
)

const panicMessage = "An internal error occurred. Please try again later."

// RecoveryMiddleware recovers from panics in HTTP handlers. Before the
// response is committed it answers with a 500 api_error envelope; after the
// streaming headers have gone out it appends an SSE error frame instead.
// The stack trace is logged but never sent to the client.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			// Recovery runs outside RequestIDMiddleware; the id it
			// assigned is only visible on the response header.
			requestID := GetRequestID(r.Context())
			if requestID == "" {
				requestID = rw.Header().Get(RequestIDHeader)
			}
			slog.ErrorContext(r.Context(), "panic in handler",
				"error", err,
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			errResp := types.NewErrorResponse(http.StatusInternalServerError, panicMessage)
			if rw.written {
				_ = proxy.WriteSSEError(rw, errResp)
				return
			}
			_ = proxy.WriteErrorResponse(rw, errResp)
		}()

		next.ServeHTTP(rw, r)
	})
}
