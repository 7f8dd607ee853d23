// Package errors defines structured error types for the Aegis admission service.
// Errors carry a machine-readable code, an HTTP status, and optional metadata so
// callers can distinguish transient store failures from definitive denials.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/turtacn/aegis/pkg/constants"
)

// ================================================================================
// Error Interface
// ================================================================================

// AppError is the structured error contract used across the service.
type AppError interface {
	error

	// Code returns the machine-readable error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code to map this error to
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) AppError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) AppError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Implementation
// ================================================================================

type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

func (e *baseError) Code() constants.ErrorCode {
	return e.code
}

func (e *baseError) HTTPStatus() int {
	return e.httpStatus
}

func (e *baseError) Description() string {
	return e.description
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) WithCause(cause error) AppError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// NewError creates a new AppError with the specified parameters.
func NewError(code constants.ErrorCode, httpStatus int, description string, message string) AppError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Constructors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error.
func ErrInvalidRequest(message string) AppError {
	return NewError(
		constants.ErrCodeInvalidRequest,
		http.StatusBadRequest,
		"The request is missing a required parameter or is otherwise malformed.",
		message,
	)
}

// ErrInvalidActor creates an invalid_actor error. Metered actions are always
// denied for an actor without a usable identity.
func ErrInvalidActor(message string) AppError {
	return NewError(
		constants.ErrCodeInvalidActor,
		http.StatusUnauthorized,
		"No usable actor identity was supplied with the request.",
		message,
	)
}

// ErrConfiguration creates a configuration_error. Malformed policy is fatal at
// construction time; the limiter is never silently disabled.
func ErrConfiguration(message string) AppError {
	return NewError(
		constants.ErrCodeConfiguration,
		http.StatusInternalServerError,
		"Service policy configuration is malformed.",
		message,
	)
}

// ErrTransientStore creates a transient_store_error for network or timeout
// failures talking to the quota or entitlement store.
func ErrTransientStore(message string) AppError {
	return NewError(
		constants.ErrCodeTransientStore,
		http.StatusServiceUnavailable,
		"A backing store could not be reached; last-known state was used where possible.",
		message,
	)
}

// ErrRateLimited creates a rate_limit_exceeded error carrying the retry-after
// duration in whole minutes.
func ErrRateLimited(scope string, retryAfterMinutes int) AppError {
	return NewError(
		constants.ErrCodeRateLimited,
		http.StatusTooManyRequests,
		"Too many failed attempts. Please try again later.",
		fmt.Sprintf("rate limit exceeded for scope %q", scope),
	).WithMetadata("scope", scope).
		WithMetadata("retry_after_minutes", retryAfterMinutes)
}

// ErrNotFound creates a not_found error.
func ErrNotFound(resource string, id string) AppError {
	return NewError(
		constants.ErrCodeNotFound,
		http.StatusNotFound,
		fmt.Sprintf("%s not found", resource),
		fmt.Sprintf("%s %q not found", resource, id),
	).WithMetadata("resource", resource).WithMetadata("id", id)
}

// ErrServerError creates a server_error.
func ErrServerError(message string) AppError {
	return NewError(
		constants.ErrCodeServerError,
		http.StatusInternalServerError,
		"The service encountered an unexpected condition.",
		message,
	)
}

// ================================================================================
// Validation Utilities
// ================================================================================

// AsAppError attempts to cast an error to AppError, unwrapping as needed.
func AsAppError(err error) (AppError, bool) {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsTransient reports whether the error is a transient store failure that the
// caller may retry with backoff.
func IsTransient(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code() == constants.ErrCodeTransientStore
	}
	return false
}

// IsNotFound reports whether the error is a not_found error.
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code() == constants.ErrCodeNotFound
	}
	return false
}

// WrapError wraps a generic error into an AppError with the given code.
func WrapError(err error, code constants.ErrorCode, message string) AppError {
	var httpStatus int

	switch code {
	case constants.ErrCodeInvalidRequest:
		httpStatus = http.StatusBadRequest
	case constants.ErrCodeInvalidActor:
		httpStatus = http.StatusUnauthorized
	case constants.ErrCodeNotFound:
		httpStatus = http.StatusNotFound
	case constants.ErrCodeRateLimited:
		httpStatus = http.StatusTooManyRequests
	case constants.ErrCodeTransientStore:
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	return NewError(code, httpStatus, err.Error(), message).WithCause(err)
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse is the JSON shape for error responses.
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts an AppError to an ErrorResponse.
func ToErrorResponse(err AppError) *ErrorResponse {
	return &ErrorResponse{
		Error:            string(err.Code()),
		ErrorDescription: err.Description(),
		Metadata:         err.Metadata(),
	}
}

// ToGenericErrorResponse converts any error to an ErrorResponse.
func ToGenericErrorResponse(err error) *ErrorResponse {
	if appErr, ok := AsAppError(err); ok {
		return ToErrorResponse(appErr)
	}

	return &ErrorResponse{
		Error:            string(constants.ErrCodeServerError),
		ErrorDescription: "An unexpected error occurred",
	}
}
