package video

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by providers and the factory.
type ErrorKind string

const (
	KindConfiguration       ErrorKind = "configuration"
	KindValidation          ErrorKind = "validation"
	KindUnsupportedProvider ErrorKind = "unsupported_provider"
	KindSecurityPolicy      ErrorKind = "security_policy"
	KindInvalidState        ErrorKind = "invalid_state"
	KindBackend             ErrorKind = "backend"
)

var (
	ErrNotInitialized    = errors.New("provider not initialized")
	ErrDisconnected      = errors.New("provider disconnected")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRecordingNotFound = errors.New("recording not found")
	ErrUnsupported       = errors.New("operation not supported by backend")
)

// Error is the typed error returned by every provider operation.
type Error struct {
	Kind     ErrorKind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Op != "" {
		msg += " in " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewConfigurationError reports missing or invalid credentials.
func NewConfigurationError(err error) *Error { return newError(KindConfiguration, err) }

// NewValidationError reports malformed call arguments or unknown resources.
func NewValidationError(err error) *Error { return newError(KindValidation, err) }

// NewSecurityPolicyError reports an operation denied by room policy.
func NewSecurityPolicyError(err error) *Error { return newError(KindSecurityPolicy, err) }

// NewInvalidStateError reports an operation attempted from the wrong state.
func NewInvalidStateError(err error) *Error { return newError(KindInvalidState, err) }

// NewBackendError wraps a failure returned by the conferencing service.
func NewBackendError(err error) *Error { return newError(KindBackend, err) }

// NewUnsupportedProviderError reports an unknown provider name.
func NewUnsupportedProviderError(name string) *Error {
	return &Error{
		Kind:     KindUnsupportedProvider,
		Provider: name,
		Err:      fmt.Errorf("unsupported provider: %q", name),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsConfiguration(err error) bool       { return KindOf(err) == KindConfiguration }
func IsValidation(err error) bool          { return KindOf(err) == KindValidation }
func IsUnsupportedProvider(err error) bool { return KindOf(err) == KindUnsupportedProvider }
func IsSecurityPolicy(err error) bool      { return KindOf(err) == KindSecurityPolicy }
func IsInvalidState(err error) bool        { return KindOf(err) == KindInvalidState }
func IsBackend(err error) bool             { return KindOf(err) == KindBackend }

// HTTPError is a non-2xx response from a backend REST API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried anywhere in err's chain, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
