package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeSync           ErrorType = "sync"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeInternal       ErrorType = "internal"
)

// RegistryError represents a structured error in the registry
type RegistryError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *RegistryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code, message string) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(code, message string) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeAuthentication,
		Code:    code,
		Message: message,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(code, message string) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeAuthorization,
		Code:    code,
		Message: message,
	}
}

// NewSyncError creates a new sync error
func NewSyncError(code, message string, cause error) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeSync,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeDuplicatePatientID = "DUPLICATE_PATIENT_ID"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeRecordNotFound     = "RECORD_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeSyncFailed         = "SYNC_FAILED"
	ErrCodeSyncInFlight       = "SYNC_IN_FLIGHT"
	ErrCodeSyncTimeout        = "SYNC_TIMEOUT"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// errorIs reports whether err is a RegistryError of the given type
func errorIs(err error, t ErrorType) bool {
	var regErr *RegistryError
	if errors.As(err, &regErr) {
		return regErr.Type == t
	}
	return false
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return errorIs(err, ErrorTypeValidation) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return errorIs(err, ErrorTypeConflict) }

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return errorIs(err, ErrorTypeNotFound) }

// IsAuthentication reports whether err is an authentication error
func IsAuthentication(err error) bool { return errorIs(err, ErrorTypeAuthentication) }

// IsSync reports whether err is a sync error
func IsSync(err error) bool { return errorIs(err, ErrorTypeSync) }
