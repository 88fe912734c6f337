// Package types defines the Messages API request and error types used by the
// proxy.
//
// # Requests
//
// MessagesRequest types only the fields the proxy reads (model, messages,
// system, max_tokens, stream, tools). Every other top-level field is kept as
// raw JSON in Extra so that a decode and re-encode round trip never drops
// caller data:
//
//	req, err := types.ParseMessagesRequest(body)
//	if err != nil {
//	    return err
//	}
//	userInitiated := req.UserInitiated()
//
// # Errors
//
// ErrorResponse is the envelope returned for every non-2xx response:
//
//	{"type":"error","error":{"type":"not_found_error","message":"..."}}
//
// NewErrorResponse derives the error type from the HTTP status.
package types
