package goBankAuth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPrecondition marks misuse: persistence requested without a usable
	// backend, malformed app identity, or a session missing its token.
	ErrPrecondition = errors.New("precondition failed")
	// ErrChallengeInitiation is returned when the bank does not accept a Mobile BankID start request.
	ErrChallengeInitiation = errors.New("mobile bankid challenge could not be started")
	// ErrVerification is returned when a verification poll carries no status.
	ErrVerification = errors.New("mobile bankid verification status missing")
	// ErrNotVerified is returned when a Mobile BankID session is used before verification completed.
	ErrNotVerified = errors.New("mobile bankid not verified")
	// ErrLoginFailed is returned when a personal code login yields no continuation link.
	ErrLoginFailed = errors.New("login failed: check user id, personal code and authorization key")
	// ErrPersonalCodeChangeRequired is returned when the bank demands a new personal code.
	ErrPersonalCodeChangeRequired = errors.New("personal code change required by the bank")
	// ErrUnexpectedResponse matches every *UnexpectedResponseError.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrSessionNotFound is returned by Restore when nothing was persisted.
	ErrSessionNotFound = errors.New("no persisted session")
)

// APIError is returned for 4xx and 5xx responses. Body holds the raw
// (decompressed) response body.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("bank api %s %s: HTTP %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// ServerSide reports whether the bank answered with a 5xx status.
func (e *APIError) ServerSide() bool {
	return e.StatusCode >= 500
}

// TransportError is returned when no HTTP response was received.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("bank api %s %s: transport: %v", e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying network or context error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedResponseError is returned when a response decodes but lacks a
// field the operation depends on.
type UnexpectedResponseError struct {
	Operation string
	Field     string
	Body      []byte
	Err       error
}

// Error implements the error interface.
func (e *UnexpectedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response: missing %q", e.Operation, e.Field)
}

// Is makes errors.Is(err, ErrUnexpectedResponse) hold.
func (e *UnexpectedResponseError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// Unwrap returns the decoding error, if any.
func (e *UnexpectedResponseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the same call (with backoff) can
// succeed: transport failures and 5xx responses. 4xx responses and
// state-machine errors need new credentials or a new challenge.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ServerSide()
	}
	return false
}
