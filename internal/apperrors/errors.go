// Package apperrors defines the coded error type returned by the game core.
package apperrors

import (
	"errors"
	"strconv"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable reason code
	Message  string            // Human readable message
	Metadata map[string]string // Extra context such as resetMs or cooldownMs
	Cause    error             // Wrapped underlying error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the taxonomy bucket of the error code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithMetadata creates a domain error carrying extra context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// RateLimited builds the rejection returned when a rate limit bucket is exhausted.
func RateLimited(resetMs int64, lockedUntilMs int64) *Error {
	md := map[string]string{"resetMs": strconv.FormatInt(resetMs, 10)}
	if lockedUntilMs > 0 {
		md["lockedUntil"] = strconv.FormatInt(lockedUntilMs, 10)
	}
	return WithMetadata(CodeRateLimited, "Too many requests", md)
}

// Cooldown builds the rejection returned while a player is serving a penalty.
func Cooldown(remainingMs int64) *Error {
	return WithMetadata(CodeCooldown, "Player is in cooldown", map[string]string{
		"cooldownMs": strconv.FormatInt(remainingMs, 10),
	})
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// KindOf returns the taxonomy bucket of err.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
