// Package apperr defines the application error taxonomy. Handlers map
// kinds to HTTP statuses; services and stores create errors with the
// helpers below and never return raw infrastructure errors to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: malformed or semantically invalid input. Never retried.
	KindValidation
	// KindNotFound: the referenced entity does not exist.
	KindNotFound
	// KindForbidden: the entity exists but does not belong to the caller.
	KindForbidden
	// KindCrypto: seal/open failure. Fatal to the operation in progress.
	KindCrypto
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the caller-facing message without the wrapped cause.
func (e *Error) Message() string { return e.msg }

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// Forbidden creates a forbidden error.
func Forbidden(format string, args ...any) *Error {
	return &Error{kind: KindForbidden, msg: fmt.Sprintf(format, args...)}
}

// Crypto creates a crypto error wrapping its cause. The cause never
// contains key material or plaintext.
func Crypto(err error, msg string) *Error {
	return &Error{kind: KindCrypto, msg: msg, err: err}
}

// KindOf extracts the kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindUnknown
}
