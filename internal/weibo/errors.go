package weibo

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without string matching.
type ErrorKind string

// Supported error kinds.
const (
	ErrKindConfiguration   ErrorKind = "configuration"
	ErrKindResolution      ErrorKind = "resolution"
	ErrKindTransport       ErrorKind = "transport"
	ErrKindMalformedRecord ErrorKind = "malformed_record"
	ErrKindNotFound        ErrorKind = "not_found"
)

// Error is a classified crawl error. Transport errors carry the last
// observed cause after the retry budget is exhausted.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("weibo %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("weibo %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error without a cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a classified error carrying an underlying cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" when err is unclassified.
func KindOf(err error) ErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsClassified reports whether err carries one of the crawl error kinds.
func IsClassified(err error) bool {
	var we *Error
	return errors.As(err, &we)
}
