// Package errors provides the closed error taxonomy surfaced to the UI layer.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// ErrorCode represents a unique error kind that can be bridged to the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Transport errors
	ErrNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
	ErrNetworkTimeout     ErrorCode = "NETWORK_TIMEOUT"

	// Remote service errors
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrServer       ErrorCode = "SERVER_ERROR"

	// Local errors
	ErrStorage        ErrorCode = "STORAGE_ERROR"
	ErrCooldownActive ErrorCode = "COOLDOWN_ACTIVE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	// StatusCode is the HTTP status that produced the error, 0 for local errors.
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromStatus builds an AppError for a non-2xx response of the remote service.
func FromStatus(status int, detail string) *AppError {
	code := CodeForStatus(status)
	if detail == "" {
		detail = UserMessage(code)
	}
	return &AppError{
		Code:       code,
		Message:    detail,
		StatusCode: status,
	}
}

// CodeForStatus maps an HTTP status onto the taxonomy.
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == 401:
		return ErrUnauthorized
	case status == 403:
		return ErrForbidden
	case status == 409:
		return ErrConflict
	case status == 408 || status == 504:
		return ErrNetworkTimeout
	case status >= 400 && status < 500:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return ErrInternal
	}
}

// Is checks if an error is of a specific code.
// Wrapped AppErrors are found through the error chain.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first AppError in the chain.
// Errors outside the taxonomy are classified as transport errors when they
// look like one, and as internal errors otherwise.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrNetworkTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrNetworkTimeout
		}
		return ErrNetworkUnavailable
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if stderrors.As(err, &opErr) || stderrors.As(err, &dnsErr) {
		return ErrNetworkUnavailable
	}
	return ErrInternal
}

// IsTransport reports whether the error means the request never got an
// answer from the server. Such events are queued instead of failed.
func IsTransport(err error) bool {
	switch CodeOf(err) {
	case ErrNetworkUnavailable, ErrNetworkTimeout:
		return true
	}
	return stderrors.Is(err, context.Canceled)
}

// UserMessage returns the displayable message for a code.
func UserMessage(code ErrorCode) string {
	switch code {
	case ErrNetworkUnavailable:
		return "No connection. Saved offline, will sync."
	case ErrNetworkTimeout:
		return "The server took too long to answer. Saved offline, will sync."
	case ErrUnauthorized:
		return "Your session has ended. Please sign in again."
	case ErrForbidden:
		return "You are not allowed to record attendance."
	case ErrConflict:
		return "Attendance was already recorded."
	case ErrValidation:
		return "The attendance data was rejected."
	case ErrServer:
		return "The attendance service is unavailable. Try again later."
	case ErrStorage:
		return "Could not save attendance on this device."
	case ErrCooldownActive:
		return "Please wait before punching again."
	default:
		return "Something went wrong."
	}
}

// HTTPStatus maps a code onto the status a local API answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrValidation:
		return 422
	case ErrUnauthorized:
		return 401
	case ErrForbidden:
		return 403
	case ErrConflict:
		return 409
	case ErrCooldownActive:
		return 429
	case ErrNetworkUnavailable:
		return 503
	case ErrNetworkTimeout:
		return 504
	case ErrServer:
		return 502
	default:
		return 500
	}
}
