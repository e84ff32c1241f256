// Package sigerr classifies every failure of the signing pipeline into one of a
// small set of kinds so the transport layer can decide how to report it.
package sigerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the class of a signing failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors that were never classified.
	Unknown Kind = iota
	// MalformedRequest means a field is missing or cannot be parsed. Not retryable.
	MalformedRequest
	// EncodingOverflow means a field exceeds its declared width. Not retryable.
	EncodingOverflow
	// SignerUnavailable means the key backend failed or timed out. Retryable.
	SignerUnavailable
	// SignatureMismatch means no recovery id reproduces the signer's public key.
	SignatureMismatch
)

func (k Kind) String() string {
	switch k {
	case MalformedRequest:
		return "MalformedRequest"
	case EncodingOverflow:
		return "EncodingOverflow"
	case SignerUnavailable:
		return "SignerUnavailable"
	case SignatureMismatch:
		return "SignatureMismatch"
	default:
		return "Unknown"
	}
}

// Error is a classified signing failure.
type Error struct {
	Kind   Kind
	Field  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool { return e.Kind == SignerUnavailable }

// Malformed returns a MalformedRequest error for field.
func Malformed(field, format string, args ...interface{}) error {
	return &Error{Kind: MalformedRequest, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Overflow returns an EncodingOverflow error for field.
func Overflow(field, format string, args ...interface{}) error {
	return &Error{Kind: EncodingOverflow, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a connector or timeout failure.
func Unavailable(err error, format string, args ...interface{}) error {
	return &Error{Kind: SignerUnavailable, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Mismatch returns a SignatureMismatch error.
func Mismatch(format string, args ...interface{}) error {
	return &Error{Kind: SignatureMismatch, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is worth retrying without changing the request.
func Retryable(err error) bool {
	return Is(err, SignerUnavailable)
}

// FieldOf returns the offending field name recorded on err, if any.
func FieldOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Field
	}
	return ""
}
