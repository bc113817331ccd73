package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeSelfTarget       = "SELF_TARGET"
	CodeAlreadyPending   = "ALREADY_PENDING"
	CodeAlreadyResolved  = "ALREADY_RESOLVED"
	CodeConflict         = "CONFLICT"
	CodeSessionNotActive = "SESSION_NOT_ACTIVE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

const DetailRetryAfterMs = "retry_after_ms"

type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) StatusCode() int {
	return e.HTTPStatus
}

func (e *AppError) ToJSON() []byte {
	data, _ := json.Marshal(ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
	return data
}

// RetryAfter is the hint attached to RATE_LIMITED errors, zero otherwise.
func (e *AppError) RetryAfter() time.Duration {
	if e.Code != CodeRateLimited || e.Details == nil {
		return 0
	}
	ms, ok := e.Details[DetailRetryAfterMs].(int64)
	if !ok {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func Unauthenticated(message string) *AppError {
	return New(CodeUnauthenticated, message, http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NotFoundWithID(resource, id string) *AppError {
	return NotFound(resource).WithDetails(map[string]any{
		"resource": resource,
		"id":       id,
	})
}

func Validation(message string, details map[string]any) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, http.StatusBadRequest)
}

func SelfTarget(message string) *AppError {
	return New(CodeSelfTarget, message, http.StatusUnprocessableEntity)
}

func AlreadyPending(message string) *AppError {
	return New(CodeAlreadyPending, message, http.StatusConflict)
}

func AlreadyResolved(message string) *AppError {
	return New(CodeAlreadyResolved, message, http.StatusConflict)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

func SessionNotActive(message string) *AppError {
	return New(CodeSessionNotActive, message, http.StatusConflict)
}

func RateLimited(retryAfter time.Duration) *AppError {
	if retryAfter < time.Millisecond {
		retryAfter = time.Millisecond
	}
	return New(CodeRateLimited, "Too many requests, slow down and try again shortly", http.StatusTooManyRequests).
		WithDetails(map[string]any{
			DetailRetryAfterMs: retryAfter.Milliseconds(),
		})
}

func Internal(message string, err error) *AppError {
	return Wrap(err, CodeInternal, message, http.StatusInternalServerError)
}

func Timeout(message string) *AppError {
	return New(CodeTimeout, message, http.StatusGatewayTimeout)
}

func Unavailable(service string, err error) *AppError {
	return Wrap(err, CodeUnavailable, fmt.Sprintf("%s is temporarily unavailable", service), http.StatusServiceUnavailable)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// FromStorage keeps AppErrors raised below the service (SERVICE_UNAVAILABLE
// from the storage layer, typed errors from a transaction callback) and wraps
// anything else as INTERNAL_ERROR with message.
func FromStorage(message string, err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(message, err)
}
