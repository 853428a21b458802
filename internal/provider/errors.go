package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures into the closed set every adapter must
// translate its native error codes into.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindUnavailable  ErrorKind = "unavailable"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindUnauthorized ErrorKind = "unauthorized"
)

// Retryable reports whether a bounded retry is permitted for this kind.
// Conflict is terminal immediately; retrying it would double-book hardware.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindUnavailable
}

// Error is the uniform failure type crossing the adapter boundary.
type Error struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(providerName string, kind ErrorKind, message string, cause error) *Error {
	return &Error{Provider: providerName, Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the kind from err, or KindUnavailable when err is not a
// classified provider error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
