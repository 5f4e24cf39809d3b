package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error types for the reporting pipeline and its collaborators
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeSchema       ErrorType = "schema"
	ErrorTypeParse        ErrorType = "parse"
	ErrorTypeStorage      ErrorType = "storage"
	ErrorTypePrecondition ErrorType = "precondition"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewSchemaError reports required fields absent from an upload. Fields are listed in the
// message in the order given.
func NewSchemaError(missing []string) *AppError {
	fields := make([]interface{}, len(missing))
	for i, f := range missing {
		fields[i] = f
	}
	return &AppError{
		Type:       ErrorTypeSchema,
		Code:       "SCHEMA_MISSING_FIELDS",
		Message:    "missing required fields: " + strings.Join(missing, ", "),
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]interface{}{"missing": fields},
	}
}

// NewParseError describes one row that could not be interpreted.
func NewParseError(row int, field, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeParse,
		Code:       "ROW_PARSE_FAILED",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]interface{}{"row": row, "field": field},
	}
}

func NewStorageError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeStorage,
		Code:       "STORAGE_UNAVAILABLE",
		Message:    message,
		Cause:      cause,
		Retryable:  true,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewPreconditionError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypePrecondition,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewAlreadyExistsError is returned when a unique identity is taken.
func NewAlreadyExistsError(resource, key string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "ALREADY_EXISTS",
		Message:    fmt.Sprintf("%s %q already exists", resource, key),
		StatusCode: http.StatusConflict,
		Details:    map[string]interface{}{"resource": resource, "key": key},
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: http.StatusBadGateway,
		Details:    map[string]interface{}{"service": service},
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: http.StatusTooManyRequests,
	}
}

// Predefined common errors
var (
	ErrInvalidCredentials = NewUnauthorizedError("invalid username or password")
	ErrAccountSuspended   = NewForbiddenError("your account is suspended")
	ErrUserNotFound       = NewNotFoundError("user")
)

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// As returns the AppError in err's chain, if any
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
