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
	Reason  string    `json:"reason,omitempty"`
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

// Error codes. Transport failures are split into transient (retried by the
// dispatcher) and permanent (failed immediately). Invariant violations mean the
// system state itself is suspect and must be surfaced to operators.
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrBusinessRule
	ErrTransientTransport
	ErrPermanentTransport
	ErrInvariantViolation
	ErrDependencyUnavailable
	ErrInternal
)

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

// NewBusinessRule rejects an operation with a machine-readable reason code,
// e.g. "campaign_cancelled" or "invalid_transition".
func NewBusinessRule(reason, message string) *AppError {
	return &AppError{
		Code:    ErrBusinessRule,
		Reason:  reason,
		Message: message,
	}
}

func NewTransientTransport(err error) *AppError {
	return &AppError{
		Code:    ErrTransientTransport,
		Message: "transient transport failure",
		Err:     err,
	}
}

func NewPermanentTransport(reason string, err error) *AppError {
	return &AppError{
		Code:    ErrPermanentTransport,
		Reason:  reason,
		Message: "permanent transport failure",
		Err:     err,
	}
}

func NewInvariantViolation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrInvariantViolation,
		Message: message,
		Err:     err,
	}
}

func NewDependencyUnavailable(dependency string, err error) *AppError {
	return &AppError{
		Code:    ErrDependencyUnavailable,
		Reason:  dependency,
		Message: fmt.Sprintf("%s unavailable", dependency),
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from err, or ErrInternal if it is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTransient reports whether err should be retried by the dispatcher.
func IsTransient(err error) bool {
	return CodeOf(err) == ErrTransientTransport
}

// IsBusinessRule reports whether err is a synchronous business-rule rejection.
func IsBusinessRule(err error) bool {
	return CodeOf(err) == ErrBusinessRule
}

// IsInvariantViolation reports whether err indicates corrupted state.
func IsInvariantViolation(err error) bool {
	return CodeOf(err) == ErrInvariantViolation
}
