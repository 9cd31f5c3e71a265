// Package errs defines the error taxonomy shared by every World component.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on failure type
// without depending on a concrete error value.
type Kind int

const (
	// Internal indicates a backend failure, deserialization error, or other
	// unexpected store condition. Zero value so an unclassified error defaults
	// here rather than to a more specific, potentially misleading kind.
	Internal Kind = iota
	// NotFound indicates the requested entity does not exist.
	NotFound
	// Conflict indicates a create collided with an existing unique entity.
	Conflict
	// InvalidState indicates a state machine transition is illegal.
	InvalidState
	// InvalidArgument indicates a required argument is missing or malformed.
	InvalidArgument
	// NotImplemented indicates the backend does not support the operation.
	NotImplemented
)

// String renders the kind using the taxonomy's documented name.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case InvalidState:
		return "invalid_state"
	case InvalidArgument:
		return "invalid_argument"
	case NotImplemented:
		return "not_implemented"
	default:
		return "internal"
	}
}

// Code maps a Kind to its documented HTTP-equivalent status. This is a
// convenience for callers that happen to sit behind HTTP; this package does
// not itself depend on net/http.
func Code(k Kind) int {
	switch k {
	case NotFound:
		return 404
	case Conflict:
		return 409
	case InvalidState:
		return 400
	case InvalidArgument:
		return 400
	case NotImplemented:
		return 501
	default:
		return 500
	}
}

// Error is the single error type returned by every storage, stream, and
// queue operation. It carries a Kind for caller dispatch, a human message,
// and an optional wrapped cause for diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause. The given kind
// is always used, even when cause is itself an *Error of another kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/As traverse the chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, errs.NotFoundErr) style sentinels work if ever
// introduced, and lets two *Error values compare equal by Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Is reports whether err is an *Error of the given Kind, unwrapping the
// error chain as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and Internal
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// NotFoundf is a convenience constructor for the most common kind.
func NotFoundf(format string, args ...any) *Error {
	return Newf(NotFound, format, args...)
}

// Conflictf is a convenience constructor for Conflict.
func Conflictf(format string, args ...any) *Error {
	return Newf(Conflict, format, args...)
}

// InvalidStatef is a convenience constructor for InvalidState.
func InvalidStatef(format string, args ...any) *Error {
	return Newf(InvalidState, format, args...)
}

// InvalidArgumentf is a convenience constructor for InvalidArgument.
func InvalidArgumentf(format string, args ...any) *Error {
	return Newf(InvalidArgument, format, args...)
}

// NotImplementedf is a convenience constructor for NotImplemented.
func NotImplementedf(format string, args ...any) *Error {
	return Newf(NotImplemented, format, args...)
}

// Internalf is a convenience constructor for Internal, typically wrapping an
// underlying store error that the caller cannot classify more precisely.
func Internalf(cause error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), cause)
}
