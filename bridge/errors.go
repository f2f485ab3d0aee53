package bridge

import (
	"errors"
	"fmt"
)

// ErrAPI is a sentinel for use with errors.Is to check whether any error in a
// chain is an *APIError.
var ErrAPI = &APIError{}

// APIError is an application-level failure reported to the web side as
// {"error": Code}. The bridge never interprets codes produced by handlers.
type APIError struct {
	Code string
}

func (e *APIError) Error() string {
	return e.Code
}

// Is matches any *APIError when the target has an empty code, and otherwise
// compares codes.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// NewAPIError returns an *APIError with a formatted code.
func NewAPIError(format string, args ...any) *APIError {
	return &APIError{Code: fmt.Sprintf(format, args...)}
}

// Errors raised by the bridge itself.
var (
	// ErrNoSuchAPI is reported when a name is missing from every relevant
	// registry. No handler is called.
	ErrNoSuchAPI = &APIError{Code: "no such API"}
	// ErrUnroutable is reported when a request path matches no call shape.
	ErrUnroutable = &APIError{Code: "unroutable call"}
	// ErrUnauthorized is reported only when cookie enforcement is enabled.
	ErrUnauthorized = &APIError{Code: "unauthorized"}
)

// Setup and channel errors. These surface to Go callers, not to the browser.
var (
	ErrNameInUse         = errors.New("bridge: name already in use")
	ErrRegistrySealed    = errors.New("bridge: registry is sealed once serving starts")
	ErrNoFreePort        = errors.New("bridge: no free port in range")
	ErrChannelExists     = errors.New("bridge: channel already registered")
	ErrChannelClosed     = errors.New("bridge: channel closed")
	ErrNotPaired         = errors.New("bridge: channel has no connected peer")
	ErrMessageInProgress = errors.New("bridge: a message of another frame type is in progress")
	ErrServerClosed      = errors.New("bridge: server closed")
)

// errorCode converts any handler error into the opaque code string placed in
// the error envelope.
func errorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		return apiErr.Code
	}
	return err.Error()
}
