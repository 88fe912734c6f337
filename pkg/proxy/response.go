package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"mercator-hq/lmserver/pkg/proxy/types"
)

// SetSSEHeaders sets the headers of a streaming Messages API response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// StartStream commits the SSE headers with a 200 status and flushes them so
// the client sees a live connection before any upstream work begins.
func StartStream(w http.ResponseWriter) {
	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// WriteJSONResponse writes data as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}

// WriteError writes the error envelope for status with message.
func WriteError(w http.ResponseWriter, status int, message string) error {
	return WriteJSONResponse(w, status, types.NewErrorResponse(status, message))
}

// WriteErrorResponse writes errResp with the status derived from its type.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return WriteJSONResponse(w, errResp.Error.HTTPStatusCode(), errResp)
}

// WriteSSEError writes an in-stream error event. It is the only way to
// report a failure once the streaming headers have been sent.
//
//	event: error
//	data: {"type":"error","error":{"type":"api_error","message":"..."}}
func WriteSSEError(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	data, err := json.Marshal(errResp)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE error: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: error\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write SSE error: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
