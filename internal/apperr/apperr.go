// Package apperr defines the typed failures surfaced by the commitment core.
// Every error carries a Kind the transport layer maps to a response and,
// when known, the commitment's current status so callers can re-render.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure.
type Kind string

const (
	KindInvalidState      Kind = "invalid_state_transition"
	KindValidation        Kind = "validation_failure"
	KindAuthorization     Kind = "authorization_failure"
	KindDeadlineExceeded  Kind = "deadline_exceeded"
	KindPolicyUnavailable Kind = "policy_unavailable"
	KindNotFound          Kind = "not_found"
)

// Error is a domain failure. It is never retried by the core.
type Error struct {
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
	// Field names the offending input for validation failures.
	Field string `json:"field,omitempty"`
	// Status is the commitment's true status at the time of failure.
	Status string `json:"status,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a transition whose precondition does not hold.
func InvalidState(current string, format string, args ...any) *Error {
	e := New(KindInvalidState, format, args...)
	e.Status = current
	return e
}

// Validation reports a missing or malformed field.
func Validation(field, format string, args ...any) *Error {
	e := New(KindValidation, format, args...)
	e.Field = field
	return e
}

// Unauthorized reports a caller that may not perform the operation.
func Unauthorized(format string, args ...any) *Error {
	return New(KindAuthorization, format, args...)
}

// DeadlineExceeded reports a submission after the remediation window closed.
func DeadlineExceeded(current string, format string, args ...any) *Error {
	e := New(KindDeadlineExceeded, format, args...)
	e.Status = current
	return e
}

// PolicyUnavailable reports an escalation option disabled by policy.
func PolicyUnavailable(format string, args ...any) *Error {
	return New(KindPolicyUnavailable, format, args...)
}

// NotFound reports an unknown commitment or proof.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a domain failure of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WithStatus stamps the current status onto a domain error that lacks one.
// Non-domain errors are returned unchanged.
func WithStatus(err error, status string) error {
	e, ok := As(err)
	if !ok || e.Status != "" || status == "" {
		return err
	}
	cp := *e
	cp.Status = status
	return &cp
}
