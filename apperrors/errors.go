// Package apperrors provides the stable, machine-readable error taxonomy
// shared by every package in the coordination plane.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is one of the stable, API-visible error codes.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindUnauthorized   Kind = "unauthorized"
	KindInvalidAPIKey  Kind = "invalid_api_key"
	KindRateLimited    Kind = "rate_limit_exceeded"
	KindBreakerOpen    Kind = "breaker_open"
	KindUpstreamError  Kind = "upstream_error"
	KindModelLoading   Kind = "model_loading"
	KindTimeout        Kind = "timeout"
	KindNotFound       Kind = "not_found"
	KindGone           Kind = "gone"
	KindInternal       Kind = "internal_error"
)

// httpStatus maps a Kind to its default HTTP status code.
var httpStatus = map[Kind]int{
	KindValidation:    400,
	KindUnauthorized:  401,
	KindInvalidAPIKey: 401,
	KindRateLimited:   429,
	KindBreakerOpen:   503,
	KindUpstreamError: 502,
	KindModelLoading:  503,
	KindTimeout:       504,
	KindNotFound:      404,
	KindGone:          410,
	KindInternal:      500,
}

// HTTPStatus returns the HTTP status code a Kind should be reported as.
// Unknown kinds default to 500.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return 500
}

// Error is a structured, wrapped error carrying a stable Kind, the
// operation that failed, and a correlation id safe to surface to callers
// without leaking the underlying stack trace.
type Error struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	ErrorID string
	Err     error

	// RetryAfterSeconds is set on KindRateLimited / KindBreakerOpen errors.
	RetryAfterSeconds int
	// QueueDepth is set on KindModelLoading errors.
	QueueDepth int
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error, stamping a fresh correlation id.
func New(op string, kind Kind, err error) *Error {
	return &Error{
		Op:      op,
		Kind:    kind,
		Err:     err,
		ErrorID: uuid.NewString(),
	}
}

// Newf builds a validation-style Error from a formatted message with no
// wrapped cause.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		ErrorID: uuid.NewString(),
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinel errors for comparison via errors.Is, for cases where a full
// *Error isn't warranted (internal control flow rather than a
// user-visible boundary).
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrClosed         = errors.New("closed")
	ErrInvalidInput   = errors.New("invalid input")
	ErrExpired        = errors.New("expired")
)

// IsRetryable reports whether err represents a transient condition worth
// retrying (network/IO classes), matching the classification the circuit
// breaker and retry packages share.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindValidation, KindUnauthorized, KindInvalidAPIKey, KindNotFound, KindGone:
			return false
		default:
			return true
		}
	}
	return true
}
