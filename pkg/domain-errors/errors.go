// Package domainerrors defines coded errors shared by services, stores and
// transports. Services return *Error values; transports translate the Code
// into a response status without inspecting messages.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies an error by how a caller should react to it.
type Code string

const (
	// Authorization
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"

	// Validation
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeInvalidInput Code = "invalid_input"

	// State conflict
	CodeConflict Code = "conflict"

	// Not found
	CodeNotFound Code = "not_found"

	// Domain rules and model invariants
	CodeRuleViolation      Code = "rule_violation"
	CodeInvariantViolation Code = "invariant_violation"

	// Infrastructure
	CodeInternal Code = "internal_error"
	CodeTimeout  Code = "timeout"
)

// Error carries a Code, a client-safe message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without a cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a Code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is shorthand for HasCode, kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost Code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a Code onto the HTTP status transports should return.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRuleViolation, CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Ensure returns err unchanged when it already carries a Code and wraps it
// with code and msg otherwise. Nil stays nil.
func Ensure(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return Wrap(err, code, msg)
}
