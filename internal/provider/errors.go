// errors.go defines the error taxonomy shared by all provider backends and
// the components that call them.
package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned by Resolve when a template references a
	// provider key that was never registered. This is a configuration-level
	// failure, surfaced to admins only.
	ErrUnknownProvider = errors.New("unknown provider reference")

	// ErrCapabilityUnsupported is returned when a task requires an optional
	// capability the resolved backend does not implement. This is a
	// deployment bug, not a transient fault.
	ErrCapabilityUnsupported = errors.New("backend does not support requested capability")
)

// BackendError wraps any failure originating in an external provider call
// (network, auth, API-level rejection). All provider failures surface as this
// single kind regardless of the underlying cause.
type BackendError struct {
	Op         string // operation that failed, e.g. "create", "power_off"
	StatusCode int    // remote HTTP status, 0 when not applicable
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s failed: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("backend %s failed: %s", e.Op, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a BackendError for the given operation.
func NewBackendError(op string, statusCode int, message string, err error) *BackendError {
	return &BackendError{Op: op, StatusCode: statusCode, Message: message, Err: err}
}

// IsBackendError reports whether err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
