package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeUnauthenticated   ErrorType = "unauthenticated"
	ErrorTypeInvalidCredential ErrorType = "invalid_credential"
	ErrorTypeInvalidToken      ErrorType = "invalid_token"
	ErrorTypeForbidden         ErrorType = "forbidden"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeTooLarge          ErrorType = "too_large"
	ErrorTypeInternal          ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. These are templates for errors.Is comparisons;
// call the constructors below to get an instance that can carry details.

var (
	ErrUserNotFound = NewDomainError(ErrorTypeNotFound, "User not found", nil)

	ErrValidation = NewDomainError(ErrorTypeValidation, "Validation failed", nil)

	ErrDuplicateEmail = NewDomainError(ErrorTypeConflict, "User already exists with this email", nil)

	ErrInvalidCredentials = NewDomainError(ErrorTypeInvalidCredential, "Invalid credentials", nil)

	ErrMissingToken     = NewDomainError(ErrorTypeUnauthenticated, "Access denied", nil)
	ErrNotAuthenticated = NewDomainError(ErrorTypeUnauthenticated, "Authentication required", nil)

	ErrInvalidToken = NewDomainError(ErrorTypeInvalidToken, "Invalid token", nil)

	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "Insufficient permissions", nil)

	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "Too many requests, please try again later.", nil)

	ErrRequestTooLarge = NewDomainError(ErrorTypeTooLarge, "Request entity too large", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// FieldViolation describes one failed input rule
type FieldViolation struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// NewValidationError returns a validation error carrying every field violation
func NewValidationError(violations []FieldViolation) *DomainError {
	return NewDomainError(ErrorTypeValidation, "Validation failed", nil).
		WithDetail("errors", violations)
}

// NewRateLimitError returns a rate limit error with a retry hint in seconds
func NewRateLimitError(message string, retryAfterSeconds int) *DomainError {
	if message == "" {
		message = ErrRateLimitExceeded.Message
	}
	return NewDomainError(ErrorTypeRateLimit, message, nil).
		WithDetail("retry_after", retryAfterSeconds)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthenticatedError checks if no credential was presented
func IsUnauthenticatedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthenticated
}

// IsInvalidCredentialError checks if a password did not match
func IsInvalidCredentialError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvalidCredential
}

// IsInvalidTokenError checks if a presented token was rejected
func IsInvalidTokenError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvalidToken
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsTooLargeError checks if a request body exceeded the size limit
func IsTooLargeError(err error) bool {
	return GetErrorType(err) == ErrorTypeTooLarge
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetViolations returns the field violations of a validation error
func GetViolations(err error) []FieldViolation {
	if v, ok := GetErrorDetails(err)["errors"].([]FieldViolation); ok {
		return v
	}
	return nil
}

// GetRetryAfter returns the retry hint in seconds of a rate limit error
func GetRetryAfter(err error) int {
	if v, ok := GetErrorDetails(err)["retry_after"].(int); ok {
		return v
	}
	return 0
}

// GetErrorMessage returns the caller-facing message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
