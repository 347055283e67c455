// Package domainerrors provides coded domain errors. Services return these so
// transport layers can translate them into responses without inspecting
// infrastructure detail, and so callers always receive a stable
// machine-readable code alongside the human string.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code surfaced to callers.
type Code string

const (
	// CodeUnauthorized covers missing/expired/mismatched sessions, wrong
	// session state, failed signature verification, and exhausted attempts.
	CodeUnauthorized Code = "unauthorized"

	// CodeBadRequest covers missing mandatory identity fields.
	CodeBadRequest Code = "bad_request"

	// CodeVendorFailure covers exhausted vendor retries and non-retryable
	// vendor HTTP statuses. Surfaced as a server error, never retried here.
	CodeVendorFailure Code = "vendor_failure"

	// CodeCryptoFailure covers malformed tokens and decrypt/sign failures.
	CodeCryptoFailure Code = "crypto_failure"

	// CodeSessionExpired distinguishes an expired session from one that
	// never existed, for logging only; callers see it as unauthorized.
	CodeSessionExpired Code = "session_expired"

	// CodeInternal is the catch-all server fault.
	CodeInternal Code = "internal"
)

// Error carries a code, a caller-safe message, and an optional wrapped cause.
// The cause is for logs; it is never serialized toward callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on code and message so tests can compare against a freshly
// constructed error value.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and caller-safe message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf extracts the domain code from an error chain, defaulting to
// CodeInternal for anything uncoded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message for an error chain. Uncoded
// errors collapse to a generic message so no internal detail leaks.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
