// Package errors provides coded application errors shared by the service,
// repository and transport layers. A code survives wrapping, so handlers can
// map any error returned from below to a response status with errors.Is.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeInvalidInput           Code = "INVALID_INPUT"
	ErrCodeInvalidPolicy          Code = "INVALID_POLICY"
	ErrCodeNoApproverConfigured   Code = "NO_APPROVER_CONFIGURED"
	ErrCodeUnauthorized           Code = "UNAUTHORIZED"
	ErrCodeUnauthenticated        Code = "UNAUTHENTICATED"
	ErrCodeAlreadyDecided         Code = "ALREADY_DECIDED"
	ErrCodeWrongOrder             Code = "WRONG_ORDER"
	ErrCodeExpenseFinalized       Code = "EXPENSE_FINALIZED"
	ErrCodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	ErrCodeNotFound               Code = "NOT_FOUND"
	ErrCodeConflict               Code = "CONFLICT"
	ErrCodeInternal               Code = "INTERNAL"
)

// Sentinels for errors.Is checks. Matching is by code only, so
// errors.Is(err, ErrWrongOrder) holds for any *Error carrying ErrCodeWrongOrder.
var (
	ErrValidation             = &Error{Code: ErrCodeInvalidInput}
	ErrInvalidPolicy          = &Error{Code: ErrCodeInvalidPolicy}
	ErrNoApproverConfigured   = &Error{Code: ErrCodeNoApproverConfigured}
	ErrNotAuthorized          = &Error{Code: ErrCodeUnauthorized}
	ErrUnauthenticated        = &Error{Code: ErrCodeUnauthenticated}
	ErrAlreadyDecided         = &Error{Code: ErrCodeAlreadyDecided}
	ErrWrongOrder             = &Error{Code: ErrCodeWrongOrder}
	ErrExpenseFinalized       = &Error{Code: ErrCodeExpenseFinalized}
	ErrConcurrentModification = &Error{Code: ErrCodeConcurrentModification}
	ErrNotFound               = &Error{Code: ErrCodeNotFound}
	ErrConflict               = &Error{Code: ErrCodeConflict}
	ErrInternal               = &Error{Code: ErrCodeInternal}
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	// Field names the offending input for ErrCodeInvalidInput errors.
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a bad request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error to the HTTP status the transport should answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeInvalidPolicy, ErrCodeNoApproverConfigured:
		return http.StatusUnprocessableEntity
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyDecided, ErrCodeWrongOrder, ErrCodeExpenseFinalized,
		ErrCodeConcurrentModification, ErrCodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Is, As and Join re-export the standard library helpers so callers importing
// this package under the name errors keep them in scope.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
