// Package proxy holds the HTTP response helpers shared by the Messages API
// listener: SSE stream start, JSON error envelopes, in-stream error frames,
// and the mapping from orchestration errors to envelopes.
//
// Once StartStream has committed a 200 response, failures can only be
// reported with WriteSSEError:
//
//	proxy.StartStream(w)
//	if _, err := fetcher.Fetch(ctx, req); err != nil && !adapter.Forwarded() {
//	    _ = proxy.WriteSSEError(w, proxy.HandleError(err))
//	}
//
// Subpackages:
//   - middleware: request id, access logging, panic recovery
//   - types: Messages API request and error types
package proxy
