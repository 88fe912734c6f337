// Package middleware provides HTTP middleware for the Messages API listener.
//
// # Middleware Chain
//
//	handler = Recovery(RequestID(Logging(router)))
//
// Order (innermost to outermost):
//  1. Logging: log method, path, status, latency, bytes and request id on completion
//  2. RequestID: assign the request id and store it in the context
//  3. Recovery: turn panics into an error response
//
// RequestID must wrap Logging, otherwise the access log sees a context
// without the id. Recovery reads the id back from the X-Request-Id response
// header.
//
// Recovery and Logging share one response writer wrapper. It records whether
// the status line has been sent and forwards Flush, so streamed responses
// reach the client chunk by chunk.
//
// # Request ID
//
// The id comes from the inbound X-Request-Id header or is a fresh UUID:
//
//	X-Request-Id: 550e8400-e29b-41d4-a716-446655440000
//
// It is stored with logging.WithRequestID, so every *Context log call made
// while serving the request carries request_id.
//
// # Recovery
//
// A panic before the response is committed produces:
//
//	{"type":"error","error":{"type":"api_error","message":"An internal error occurred. Please try again later."}}
//
// A panic after the streaming headers have been sent appends the same
// envelope as an "event: error" frame. The stack trace is only logged.
package middleware
