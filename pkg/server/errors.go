package server

import "errors"

// Errors answered to clients. Their messages are sent verbatim.
var (
	ErrInvalidAuthentication = errors.New("Invalid authentication")
	ErrNoEligibleEndpoints   = errors.New("No Claude models with Messages API available")
	ErrNoMatchingEndpoint    = errors.New("No model found matching criteria")
	ErrNotFound              = errors.New("Not found")
	ErrBodyTooLarge          = errors.New("Request body too large")
)
