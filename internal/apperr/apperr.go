// Package apperr defines the error taxonomy surfaced to API callers. Every
// user-visible failure carries a stable machine-readable code and a message
// safe to expose; the wrapped cause stays server-side for logs.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class. Codes are part of the API contract and
// must not change once published.
type Code string

const (
	CodeInvalidIdentifier  Code = "INVALID_IDENTIFIER"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeEngineUnavailable  Code = "ENGINE_UNAVAILABLE"
	CodeEngineTimeout      Code = "ENGINE_TIMEOUT"
	CodeToolFailed         Code = "TOOL_FAILED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// Error pairs a taxonomy code with a caller-safe message. Err holds the
// underlying cause and is never serialized.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code and caller-safe message to err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code from err, or CodeInternal when err does
// not carry one.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message of err, or a generic fallback
// when err does not carry one. Raw error text from unknown errors is never
// returned.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a taxonomy code to the HTTP status used on the JSON
// surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidIdentifier, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeStorageUnavailable, CodeEngineUnavailable:
		return http.StatusServiceUnavailable
	case CodeEngineTimeout:
		return http.StatusGatewayTimeout
	case CodeToolFailed:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
