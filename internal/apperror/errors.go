// Package apperror defines the error kinds every operation reports to callers.
// REST handlers map a Kind to an HTTP status; the realtime hub maps it to a
// channel error event sent only to the originating connection.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindIllegalTransition  Kind = "illegal_transition"
	KindVerificationFailed Kind = "verification_failed"
	KindAdmissionRejected  Kind = "admission_rejected"
	KindConflict           Kind = "conflict"
	KindAlreadyExists      Kind = "already_exists"
	KindChannel            Kind = "channel"
	KindInternal           Kind = "internal"
)

// Error carries a stable kind, a human readable reason and optional details
// such as the current status of the entity.
type Error struct {
	Kind    Kind           `json:"kind"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may repeat the same request.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindVerificationFailed
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	cp := *e
	cp.Details = details
	return &cp
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(entity string) *Error {
	return New(KindNotFound, "%s not found", entity)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// IllegalTransition reports an action that is not valid from the current status.
func IllegalTransition(entity, action, current string) *Error {
	return New(KindIllegalTransition, "cannot %s %s in status %s", action, entity, current).
		With("current_status", current)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, err, "internal error")
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As converts any error into an *Error, wrapping unknown errors as internal.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// HTTPStatus maps a kind to the status code returned by the REST API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindChannel:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindIllegalTransition, KindConflict, KindAlreadyExists:
		return http.StatusConflict
	case KindVerificationFailed:
		return http.StatusUnprocessableEntity
	case KindAdmissionRejected:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
