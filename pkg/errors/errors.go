package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrInvariant
	ErrTransient
	ErrRateLimited
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Conflict signals that a resource is already owned or terminal. Callers
// treat it as success from the idempotence standpoint, never as a failure.
func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Err:     err,
	}
}

// Invariant signals a broken internal invariant, e.g. a double commit on a
// processing record. Logged loudly, never retried.
func Invariant(message string, err error) *AppError {
	return &AppError{
		Code:    ErrInvariant,
		Message: message,
		Err:     err,
	}
}

// Transient signals a failure that is expected to clear on its own, such as
// a dropped connection. The retry executor retries these.
func Transient(message string, err error) *AppError {
	return &AppError{
		Code:    ErrTransient,
		Message: message,
		Err:     err,
	}
}

func RateLimited(err error) *AppError {
	return &AppError{
		Code:    ErrRateLimited,
		Message: "rate limited",
		Err:     err,
	}
}

// Code extracts the ErrorCode from err, or 0 when err carries no AppError.
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// IsTransient reports whether err should be retried by the retry executor.
func IsTransient(err error) bool {
	switch Code(err) {
	case ErrTransient, ErrRateLimited:
		return true
	}
	return false
}

// IsConflict reports whether err represents a duplicate/already-owned
// condition rather than an actual failure.
func IsConflict(err error) bool {
	return Code(err) == ErrConflict
}

// IsInvariant reports whether err represents a broken internal invariant.
func IsInvariant(err error) bool {
	return Code(err) == ErrInvariant
}
