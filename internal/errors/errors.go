package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Analysis pipeline errors
	ErrRecordingUnavailable ErrorCode = "RECORDING_UNAVAILABLE"
	ErrScoring              ErrorCode = "SCORING_FAILED"
	ErrUploadExhausted      ErrorCode = "UPLOAD_EXHAUSTED"

	// Service-specific errors
	ErrAIService      ErrorCode = "AI_SERVICE_ERROR"
	ErrStorageService ErrorCode = "STORAGE_SERVICE_ERROR"
	ErrPubSubService  ErrorCode = "PUBSUB_SERVICE_ERROR"
	ErrDatabase       ErrorCode = "DATABASE_ERROR"
)

// AppError represents an application error with code and metadata.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrInternal if err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// HTTPStatus returns the HTTP status code for the error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound, ErrRecordingUnavailable:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrScoring, ErrUploadExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors
func Internal(message string) *AppError {
	return New(ErrInternal, message)
}

func InternalWrap(message string, err error) *AppError {
	return Wrap(ErrInternal, message, err)
}

func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrForbidden, message)
}

func RateLimit(message string) *AppError {
	return New(ErrRateLimit, message)
}

func DatabaseWrap(message string, err error) *AppError {
	return Wrap(ErrDatabase, message, err)
}

// RecordingUnavailable signals that a recording handle could not be dereferenced.
func RecordingUnavailable(handle string, err error) *AppError {
	return Wrap(ErrRecordingUnavailable, "recording could not be retrieved", err).
		WithDetails(map[string]interface{}{"handle": handle})
}

// ScoringFailed signals that the pronunciation scoring service was unreachable,
// returned a malformed payload, or reported an empty result.
func ScoringFailed(message string, err error) *AppError {
	return Wrap(ErrScoring, message, err)
}

// UploadExhausted signals that every upload attempt failed. The last underlying
// error is carried for Unwrap.
func UploadExhausted(attempts int, last error) *AppError {
	return Wrap(ErrUploadExhausted, fmt.Sprintf("upload failed after %d attempts", attempts), last).
		WithDetails(map[string]interface{}{"attempts": attempts})
}
