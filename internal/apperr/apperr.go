// Package apperr defines the closed set of error kinds the service reports to clients.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the discriminant of an application error.
type Kind int

const (
	// Internal covers infrastructure failures, including aborted transactions.
	Internal Kind = iota
	NotFound
	Validation
	Conflict
	Unauthorized
)

// String returns the wire code for the kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case Unauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is an error tagged with a Kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind and Message, so package-level
// sentinels work with errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags err with kind and message. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func NewNotFound(message string) *Error     { return New(NotFound, message) }
func NewValidation(message string) *Error   { return New(Validation, message) }
func NewConflict(message string) *Error     { return New(Conflict, message) }
func NewUnauthorized(message string) *Error { return New(Unauthorized, message) }

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the client-safe message for err. Internal errors never
// expose their cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal server error"
}
