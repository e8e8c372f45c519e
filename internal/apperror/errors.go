// Package apperror defines the errors the HTTP surface hands back to callers.
// Each carries a status code, a machine-readable type and a message that is
// safe to show. Infrastructure errors are kept in Internal for logging only.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// AppError is the base error type for errors that reach the HTTP boundary.
type AppError struct {
	// Code is the HTTP status code.
	Code int `json:"-"`

	// Type is a machine-readable classifier, e.g. "not_owner".
	Type string `json:"error"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed.
	Internal error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// NewAuthenticationRequired creates a 401 for a missing or expired session.
func NewAuthenticationRequired() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "authentication_required",
		Message: "Not authenticated",
	}
}

// NewInvalidSession creates a 401 for an identity exchange the provider rejected.
func NewInvalidSession() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "authentication_required",
		Message: "Invalid session_id",
	}
}

// NewInstanceLocked creates a 403 that discloses only the owner's email.
func NewInstanceLocked(ownerEmail string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    "instance_locked",
		Message: fmt.Sprintf("This instance is private and owned by %s", ownerEmail),
	}
}

// NewValidation creates a 400 for a malformed request body or field.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    "validation_error",
		Message: message,
	}
}

// NewAlreadyRunningElsewhere creates a 403 for a start while another user owns the live gateway.
func NewAlreadyRunningElsewhere() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    "already_running_elsewhere",
		Message: "Gateway is already running and owned by another user",
	}
}

// NewNotOwner creates a 403 for a privileged call from someone other than the owner.
func NewNotOwner(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    "not_owner",
		Message: message,
	}
}

// NewGatewayNotRunning creates a 404 for endpoints that need a live gateway.
func NewGatewayNotRunning() *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    "gateway_not_running",
		Message: "Gateway not running",
	}
}

// NewStartupFailure creates a 500 for a gateway that would not come up.
func NewStartupFailure(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     "startup_failure",
		Message:  "Failed to start gateway",
		Internal: err,
	}
}

// NewUpstreamUnavailable creates a 502 for an upstream that could not be reached.
func NewUpstreamUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:     http.StatusBadGateway,
		Type:     "upstream_unavailable",
		Message:  message,
		Internal: err,
	}
}

// NewTooManyRequests creates a 429.
func NewTooManyRequests() *AppError {
	return &AppError{
		Code:    http.StatusTooManyRequests,
		Type:    "rate_limited",
		Message: "Too many requests. Please try again later.",
	}
}

// NewInternal creates a 500. The client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     "internal_error",
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// As extracts an *AppError from err, wrapping anything else as internal.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}

// body is the wire shape of an error. Detail mirrors Message for clients
// that read the older field name.
type body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Write renders e as a JSON error response.
func Write(w http.ResponseWriter, e *AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_ = json.NewEncoder(w).Encode(body{Error: e.Type, Message: e.Message, Detail: e.Message})
}
