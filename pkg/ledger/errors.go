package ledger

import (
	"errors"
	"fmt"
)

// ErrStoreClosed is returned by operations on a closed store or recorder.
var ErrStoreClosed = errors.New("ledger store is closed")

// StoreError wraps a backend failure with the operation that failed.
type StoreError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying storage error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{Backend: backend, Operation: operation, Cause: cause}
}
