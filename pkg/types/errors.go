package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeInvalidIdentity   ErrorType = "invalid_identity"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeSchema            ErrorType = "schema"
	ErrorTypeUpstream          ErrorType = "upstream"
	ErrorTypeInternal          ErrorType = "internal"
)

// LedgerError represents a structured error in the clinic ledger
type LedgerError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewInvalidIdentityError creates a new invalid identity error
func NewInvalidIdentityError(message string) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeInvalidIdentity,
		Code:    ErrCodeInvalidIdentity,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NewInvalidTransitionError creates a new invalid transition error
func NewInvalidTransitionError(message string, details map[string]interface{}) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeInvalidTransition,
		Code:    ErrCodeInvalidTransition,
		Message: message,
		Details: details,
	}
}

// NewConflictError creates a new conflict error for concurrent-write detection
func NewConflictError(message string) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// NewSchemaError creates a new schema error for malformed stored records
func NewSchemaError(message string, cause error) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeSchema,
		Code:    ErrCodeSchemaViolation,
		Message: message,
		Cause:   cause,
	}
}

// NewUpstreamError creates a new upstream error for external collaborator failures
func NewUpstreamError(message string, cause error) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeUpstream,
		Code:    ErrCodeUpstreamUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *LedgerError {
	return &LedgerError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// Common error codes
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidIdentity     = "INVALID_IDENTITY"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeSchemaViolation     = "SCHEMA_VIOLATION"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// TypeOf returns the error type of err, or ErrorTypeInternal for untyped errors
func TypeOf(err error) ErrorType {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Type
	}
	return ErrorTypeInternal
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return TypeOf(err) == ErrorTypeConflict }

// IsInvalidTransition reports whether err is an invalid transition error
func IsInvalidTransition(err error) bool { return TypeOf(err) == ErrorTypeInvalidTransition }

// IsSchema reports whether err is a schema error
func IsSchema(err error) bool { return TypeOf(err) == ErrorTypeSchema }

// HTTPStatus maps an error to the HTTP status code its category responds with
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation, ErrorTypeInvalidIdentity:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidTransition, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
