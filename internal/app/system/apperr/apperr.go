// Package apperr defines the typed failures returned by the engines.
//
// Every business-rule violation is an *Error carrying a stable Kind (used to
// pick a transport status) and a Code naming the specific rule. Sentinels are
// compared with errors.Is, which matches on Code so copies made with
// WithMessage or WithFields still compare equal to their sentinel.
// Infrastructure failures are never *Error values.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse failure class.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindNotAuthorized Kind = "not_authorized"
	KindInvalidState  Kind = "invalid_state"
	KindConflict      Kind = "conflict"
	KindValidation    Kind = "validation_error"
)

// Error is a typed business failure.
type Error struct {
	Kind    Kind              `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	cause error
}

// New returns a new *Error.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of e with msg.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// WithMessagef is WithMessage with formatting.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithFields returns a copy of e carrying per-field detail.
func (e *Error) WithFields(fields map[string]string) *Error {
	c := *e
	c.Fields = fields
	return &c
}

// Wrap returns a copy of e that records cause for logging.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" for infrastructure failures.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
