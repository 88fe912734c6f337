package proxy

import (
	"context"
	"errors"
	"net/http"

	"mercator-hq/lmserver/pkg/proxy/types"
	"mercator-hq/lmserver/pkg/upstream"
)

// HandleError converts an orchestration error into an error envelope.
//
// Upstream status errors keep their status so the client sees the same
// classification the upstream reported. Everything else is an api_error
// carrying the error's message.
func HandleError(err error) *types.ErrorResponse {
	var ue *upstream.Error
	switch {
	case errors.As(err, &ue):
		status := ue.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		return types.NewErrorResponse(status, ue.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewErrorResponse(http.StatusGatewayTimeout, "upstream request timed out")
	case err == nil:
		return types.NewErrorResponse(http.StatusInternalServerError, "unknown error")
	default:
		return types.NewErrorResponse(http.StatusInternalServerError, err.Error())
	}
}
