// Package errors tests for error code definitions and error handling.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"validation", ErrValidation},
		{"network unavailable", ErrNetworkUnavailable},
		{"network timeout", ErrNetworkTimeout},
		{"unauthorized", ErrUnauthorized},
		{"forbidden", ErrForbidden},
		{"conflict", ErrConflict},
		{"server", ErrServer},
		{"storage", ErrStorage},
		{"cooldown", ErrCooldownActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
			if UserMessage(tt.code) == "" {
				t.Errorf("UserMessage(%q) is empty", tt.code)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "append failed", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] append failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestCodeForStatus verifies HTTP status mapping.
func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCode
	}{
		{400, ErrValidation},
		{401, ErrUnauthorized},
		{403, ErrForbidden},
		{409, ErrConflict},
		{422, ErrValidation},
		{500, ErrServer},
		{503, ErrServer},
		{504, ErrNetworkTimeout},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := CodeForStatus(tt.status); got != tt.want {
				t.Errorf("CodeForStatus(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

// TestCodeOf_wrapped verifies codes are found through wrapping.
func TestCodeOf_wrapped(t *testing.T) {
	inner := New(ErrForbidden, "nope")
	err := fmt.Errorf("submit: %w", inner)

	if got := CodeOf(err); got != ErrForbidden {
		t.Errorf("CodeOf() = %v, want %v", got, ErrForbidden)
	}
	if !Is(err, ErrForbidden) {
		t.Error("Is() should match wrapped AppError")
	}
	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
}

// TestIsTransport verifies transport classification.
func TestIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"server", New(ErrServer, "boom"), false},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransport(tt.err); got != tt.want {
				t.Errorf("IsTransport(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestFromStatus_defaultMessage verifies empty details fall back to user messages.
func TestFromStatus_defaultMessage(t *testing.T) {
	err := FromStatus(503, "")
	if err.Code != ErrServer {
		t.Errorf("Code = %v, want %v", err.Code, ErrServer)
	}
	if !strings.Contains(err.Message, "unavailable") {
		t.Errorf("Message = %q, want default server message", err.Message)
	}
	if err.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", err.StatusCode)
	}
}

// TestHTTPStatus verifies the local API status mapping.
func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrValidation, 422},
		{ErrUnauthorized, 401},
		{ErrCooldownActive, 429},
		{ErrNetworkUnavailable, 503},
		{ErrServer, 502},
		{ErrStorage, 500},
		{ErrInternal, 500},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
