// Package failure defines the error taxonomy shared by commands, the remote
// client, the workspace store and the action history.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// CancelledMarker prefixes every cancellation message so callers can tell an
// expected cancellation apart from a real error, even after the error has been
// flattened to a string.
const CancelledMarker = "command already cancelled"

// Kind classifies a failure.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindCancelled  Kind = "cancelled"
	KindDecode     Kind = "decode"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
)

// Error is a classified failure. Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, failure.ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrTransport  = &Error{Kind: KindTransport}
	ErrCancelled  = &Error{Kind: KindCancelled}
	ErrDecode     = &Error{Kind: KindDecode}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrValidation = &Error{Kind: KindValidation}
)

// Transport reports that a command could not run or exited abnormally.
func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

// Cancelled reports a cancelled command. The message always starts with
// CancelledMarker.
func Cancelled(detail string) *Error {
	msg := CancelledMarker
	if detail != "" {
		msg += ": " + detail
	}
	return &Error{Kind: KindCancelled, Message: msg}
}

// Decode reports a payload that did not parse into the expected structure.
func Decode(message string, err error) *Error {
	return &Error{Kind: KindDecode, Message: message, Err: err}
}

// NotFound reports a referenced id that is absent.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation reports invalid input, such as an instance without an id.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a classified failure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsCancelled reports whether err is a cancellation. Plain errors whose message
// starts with the marker, in any case, count too.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindCancelled {
		return true
	}
	return strings.HasPrefix(strings.ToLower(err.Error()), CancelledMarker)
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsValidation reports whether err is a Validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsDecode reports whether err is a Decode failure.
func IsDecode(err error) bool {
	return KindOf(err) == KindDecode
}
