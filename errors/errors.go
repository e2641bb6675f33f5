package errors

import (
	"fmt"
	"strings"
)

// Kind categorizes the error
type Kind string

const (
	// KindMalformed indicates a decode failure: bad magic, bad LEB128,
	// bad UTF-8, truncated input, unknown section ID, invalid flags byte.
	KindMalformed Kind = "malformed"

	// KindUnsupported indicates a structurally valid construct whose
	// feature flag is not enabled.
	KindUnsupported Kind = "unsupported"

	// KindInvalid indicates a structural violation: type mismatch, wrong
	// arity, index out of range, duplicate export name, section out of
	// order, and the like.
	KindInvalid Kind = "invalid"

	// KindLimitExceeded indicates a cardinality cap was violated.
	KindLimitExceeded Kind = "limit_exceeded"
)

// Error is the structured error type used throughout the toolkit
type Error struct {
	Cause  error
	Kind   Kind
	Detail string
	Offset int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Detail)
	b.WriteString(" (at offset ")
	fmt.Fprintf(&b, "%d", e.Offset)
	b.WriteByte(')')

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error with the given kind, offset, and message
func New(kind Kind, offset int, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Offset: offset, Detail: detail}
}

// Malformed creates a decode error
func Malformed(offset int, format string, args ...any) *Error {
	return New(KindMalformed, offset, format, args...)
}

// Unsupported creates a feature-not-enabled error
func Unsupported(offset int, format string, args ...any) *Error {
	return New(KindUnsupported, offset, format, args...)
}

// Invalid creates a structural violation error
func Invalid(offset int, format string, args ...any) *Error {
	return New(KindInvalid, offset, format, args...)
}

// LimitExceeded creates a cardinality cap error. When the cap is one the
// message reads "multiple X", otherwise "X count exceeds limit of N".
func LimitExceeded(offset int, desc string, max int) *Error {
	if max == 1 {
		return New(KindLimitExceeded, offset, "multiple %s", desc)
	}
	return New(KindLimitExceeded, offset, "%s count exceeds limit of %d", desc, max)
}

// Wrap wraps an existing error with a kind and offset
func Wrap(kind Kind, offset int, cause error, detail string) *Error {
	return &Error{Kind: kind, Offset: offset, Detail: detail, Cause: cause}
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == kind
	}
	return false
}

// OffsetOf returns the byte offset carried by err, or -1 if err is not an
// *Error from this package.
func OffsetOf(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Offset
	}
	return -1
}
