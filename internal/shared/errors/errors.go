package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "VALIDATION_ERROR"
	ErrorTypeTranslation         ErrorType = "TRANSLATION_ERROR"
	ErrorTypeNotConnected        ErrorType = "NOT_CONNECTED"
	ErrorTypeConnectionExhausted ErrorType = "CONNECTION_EXHAUSTED"
	ErrorTypeStore               ErrorType = "STORE_ERROR"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeAuthentication      ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeAuthorization       ErrorType = "AUTHORIZATION_ERROR"
	ErrorTypeInternal            ErrorType = "INTERNAL_ERROR"
)

// Sentinel errors shared by the persistence layer and the gateway.
var (
	ErrNotConnected        = errors.New("no database open")
	ErrConnectionExhausted = errors.New("connection attempts exhausted")
	ErrNotFound            = errors.New("resource not found")
	ErrUnknownAction       = errors.New("unknown action")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidToken        = errors.New("invalid token")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewValidationError reports a malformed action payload. Raised before any store call.
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewTranslationError reports a query leaf or connection string that cannot be translated.
func NewTranslationError(message string) *AppError {
	return NewAppError(ErrorTypeTranslation, message, http.StatusBadRequest)
}

// NewNotConnectedError reports a data operation issued outside the ready window.
func NewNotConnectedError(database string) *AppError {
	return NewAppError(ErrorTypeNotConnected, "no database open", http.StatusServiceUnavailable).
		WithCause(ErrNotConnected).
		WithDetail("database", database)
}

// NewConnectionExhaustedError reports a retry budget spent without readiness.
func NewConnectionExhaustedError(database string, attempts int) *AppError {
	return NewAppError(ErrorTypeConnectionExhausted,
		fmt.Sprintf("can not connect to database %s after %d attempts", database, attempts),
		http.StatusServiceUnavailable).
		WithCause(ErrConnectionExhausted).
		WithDetail("database", database).
		WithDetail("attempts", attempts)
}

// NewStoreError wraps an error returned by the underlying store unchanged.
func NewStoreError(operation string, cause error) *AppError {
	return NewAppError(ErrorTypeStore, operation+" failed", http.StatusInternalServerError).
		WithCause(cause).
		WithDetail("operation", operation)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithCause(ErrNotFound)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, message, http.StatusUnauthorized)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, message, http.StatusForbidden)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// ValidationError represents validation errors for multiple fields
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve.Errors[0].Message)
}

// NewValidationErrors creates a new validation errors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]ValidationError, 0),
	}
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) *ValidationErrors {
	ve.Errors = append(ve.Errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
	return ve
}

// HasErrors returns true if there are validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToAppError converts validation errors to an AppError
func (ve *ValidationErrors) ToAppError() *AppError {
	if !ve.HasErrors() {
		return nil
	}

	appErr := NewValidationError(ve.Error())
	appErr.Details["validation_errors"] = ve.Errors
	return appErr
}

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// TypeOf returns the AppError type carried by err, or ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// HTTPStatus returns the HTTP status carried by err, or 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPCode != 0 {
		return appErr.HTTPCode
	}
	return http.StatusInternalServerError
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound) || errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsTranslation checks if an error is a translation error
func IsTranslation(err error) bool {
	return isType(err, ErrorTypeTranslation)
}

// IsNotConnected checks if an error reports a missing live connection
func IsNotConnected(err error) bool {
	return isType(err, ErrorTypeNotConnected) || errors.Is(err, ErrNotConnected)
}

// IsConnectionExhausted checks if an error reports a spent retry budget
func IsConnectionExhausted(err error) bool {
	return isType(err, ErrorTypeConnectionExhausted) || errors.Is(err, ErrConnectionExhausted)
}

// IsStore checks if an error came from the underlying store
func IsStore(err error) bool {
	return isType(err, ErrorTypeStore)
}

// IsAuthentication checks if an error is an authentication error
func IsAuthentication(err error) bool {
	return isType(err, ErrorTypeAuthentication) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken)
}

// IsAuthorization checks if an error is an authorization error
func IsAuthorization(err error) bool {
	return isType(err, ErrorTypeAuthorization) || errors.Is(err, ErrForbidden)
}
