package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code, so cloned errors still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Details returns the message of the wrapped cause, if any.
func (e *Error) Details() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
//
// Duplicates are reported as 400 because the web client treats any 400 as a
// form-level message.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusBadRequest, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrFinalized          = New("FINALIZED", http.StatusConflict, "resource finalized")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrEventNotFound       = New("EVENT_NOT_FOUND", http.StatusNotFound, "event not found")
	ErrUserNotFound        = New("USER_NOT_FOUND", http.StatusNotFound, "user not found")
	ErrEnrollmentNotFound  = New("ENROLLMENT_NOT_FOUND", http.StatusNotFound, "enrollment not found")
	ErrPaymentNotFound     = New("PAYMENT_NOT_FOUND", http.StatusNotFound, "payment not found")
	ErrDuplicateEnrollment = New("DUPLICATE_ENROLLMENT", http.StatusBadRequest, "user already enrolled in event")
	ErrDuplicatePayment    = New("DUPLICATE_PAYMENT", http.StatusBadRequest, "enrollment already has a payment")
	ErrInvalidStatus       = New("INVALID_STATUS", http.StatusBadRequest, "invalid payment status")
	ErrPaymentFinalized    = New("PAYMENT_FINALIZED", http.StatusConflict, "payment already reviewed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// CloneWrap copies a predefined error and attaches the underlying cause.
func CloneWrap(base *Error, err error) *Error {
	if base == nil {
		return nil
	}
	clone := *base
	clone.Err = err
	return &clone
}
