package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an inflow error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrAuthRequired       ErrorCode = "AUTH_REQUIRED"       // 401
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // 503
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// InflowError represents a structured error with code, status, and details.
type InflowError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *InflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *InflowError {
	return &InflowError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a record cannot be found.
func NewNotFound(identifier string) *InflowError {
	return &InflowError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConflict creates a 409 error for invalid state transitions.
func NewConflict(msg string) *InflowError {
	return &InflowError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewAuthRequired creates a 401 error for missing or invalid provider credentials.
func NewAuthRequired(msg string) *InflowError {
	return &InflowError{
		Code:    ErrAuthRequired,
		Status:  401,
		Message: msg,
	}
}

// NewServiceUnavailable creates a 503 error for a tripped circuit breaker.
func NewServiceUnavailable(service string) *InflowError {
	return &InflowError{
		Code:    ErrServiceUnavailable,
		Status:  503,
		Message: fmt.Sprintf("service %q is unavailable (circuit open)", service),
		Details: map[string]any{"service": service},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *InflowError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &InflowError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an InflowError with the given code,
// unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var iErr *InflowError
	if stderrors.As(err, &iErr) {
		return iErr.Code == code
	}
	return false
}
