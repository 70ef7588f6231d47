// Package errors defines the typed errors shared by every layer of the
// orders service. Callers branch on Kind instead of inspecting messages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPrecondition Kind = "precondition"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindGateway      Kind = "gateway"
	KindPersistence  Kind = "persistence"
	KindInternal     Kind = "internal"
)

// Error is the structured error returned by the store, the state machine and the services.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error

	sentinel bool
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, so errors.Is(err, ErrNotFound) holds for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.sentinel {
		return t.Kind == e.Kind
	}
	return t == e
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found", sentinel: true}
	ErrConflict         = &Error{Kind: KindConflict, Message: "concurrent modification", sentinel: true}
	ErrInvalidSignature = &Error{Kind: KindUnauthorized, Message: "invalid signature", sentinel: true}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "forbidden", sentinel: true}
)

// NewValidationError reports a malformed or inconsistent request field.
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string) *Error {
	return &Error{Kind: KindNotFound, Field: resource, Message: "not found"}
}

// NewPreconditionError reports an illegal state transition or a missing approval.
func NewPreconditionError(message string) *Error {
	return &Error{Kind: KindPrecondition, Field: "status", Message: message}
}

// NewGatewayError reports a failed or timed out call to the payment provider.
func NewGatewayError(message string, err error) *Error {
	return &Error{Kind: KindGateway, Message: message, Err: err}
}

// NewPersistenceError hides driver detail behind a generic message.
func NewPersistenceError(err error) *Error {
	return &Error{Kind: KindPersistence, Message: "operation failed", Err: err}
}

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As exposes the structured error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
