// Package apierror provides standardized API error handling.
// Every rejection the gateway produces goes through these types so clients
// always see the same envelope: a stable error code, a message, and optional
// stage-specific fields (limiter class, threat list, processing details).
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Standard error codes.
const (
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeIPBlocked         Code = "IP_BLOCKED"
	CodeInvalidUpload     Code = "INVALID_UPLOAD"
	CodeUnsafeContent     Code = "UNSAFE_CONTENT"
	CodeImageProcessing   Code = "IMAGE_PROCESSING_FAILED"
	CodeRequestTooLarge   Code = "REQUEST_TOO_LARGE"
)

// Error represents a standardized API error.
type Error struct {
	// HTTP status code
	Status int `json:"-"`

	// Machine-readable error code
	Code Code `json:"code"`

	// Human-readable error message
	Message string `json:"message"`

	// LimiterClass names the limiter class for rate-limit rejections (optional).
	LimiterClass string `json:"type,omitempty"`

	// Threats lists matched threat descriptors for content-scan rejections (optional).
	Threats []string `json:"threats,omitempty"`

	// Additional error details (optional)
	Details any `json:"details,omitempty"`

	// Internal error (not exposed to client)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Response represents the error response structure.
type Response struct {
	Error     string   `json:"error"`
	Code      Code     `json:"code"`
	Message   string   `json:"message"`
	Type      string   `json:"type,omitempty"`
	Threats   []string `json:"threats,omitempty"`
	Details   any      `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// ToResponse converts the error to a response structure.
func (e *Error) ToResponse() Response {
	return Response{
		Error:   string(e.Code),
		Code:    e.Code,
		Message: e.Message,
		Type:    e.LimiterClass,
		Threats: e.Threats,
		Details: e.Details,
	}
}

// WriteJSON writes the error as JSON to the response writer.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.ToResponse())
}

// Constructor functions

// New creates a new API error.
func New(status int, code Code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with API error context.
func Wrap(err error, status int, code Code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithError adds an internal error.
func (e *Error) WithError(err error) *Error {
	e.Err = err
	return e
}

// Pre-defined error constructors

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *Error {
	message := "Resource not found"
	if resource != "" {
		message = fmt.Sprintf("%s not found", resource)
	}
	return New(http.StatusNotFound, CodeNotFound, message)
}

// InternalError creates a 500 Internal Server Error.
// The wrapped error is logged, never exposed to the client.
func InternalError(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: "An internal error occurred",
		Err:     err,
	}
}

// RateLimitExceeded creates a 429 Too Many Requests error carrying the
// limiter class that rejected the request.
func RateLimitExceeded(class string) *Error {
	return &Error{
		Status:       http.StatusTooManyRequests,
		Code:         CodeRateLimitExceeded,
		Message:      "Too many requests, please try again later",
		LimiterClass: class,
	}
}

// IPBlocked creates a 403 error for an address under a progressive block.
// retryAfterSeconds is the remaining block time, rounded up.
func IPBlocked(retryAfterSeconds int) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Code:    CodeIPBlocked,
		Message: fmt.Sprintf("Access temporarily blocked, retry in %d seconds", retryAfterSeconds),
	}
}

// InvalidUpload creates a 400 error for a rejected upload's declared metadata.
func InvalidUpload(message string) *Error {
	return New(http.StatusBadRequest, CodeInvalidUpload, message)
}

// UnsafeContent creates a 422 error naming each matched threat descriptor.
func UnsafeContent(threats []string) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeUnsafeContent,
		Message: "File content failed security scan",
		Threats: threats,
	}
}

// ImageProcessingFailed creates a 422 error for decode/re-encode failures.
// These are ambiguous (transient glitch vs. malformed input) and deliberately
// kept on a distinct channel from unsafe-content rejections.
func ImageProcessingFailed(details string) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeImageProcessing,
		Message: "Image could not be processed",
		Details: details,
	}
}

// RequestTooLarge creates a 413 error for oversized request bodies.
func RequestTooLarge() *Error {
	return New(http.StatusRequestEntityTooLarge, CodeRequestTooLarge, "Request body too large")
}

// Helper functions

// IsAPIError checks if an error is an API error.
func IsAPIError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}

// FromError converts any error to an API error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	return InternalError(err)
}
