package models

import (
	"context"
	"errors"
)

var (
	ErrAuth         = errors.New("authentication failed")
	ErrNetwork      = errors.New("network error")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// ErrorKind is the user-facing classification of an error.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindAuth         ErrorKind = "AuthError"
	KindNetwork      ErrorKind = "NetworkError"
	KindConflict     ErrorKind = "ConflictError"
	KindInvalidInput ErrorKind = "InvalidInput"
	KindForbidden    ErrorKind = "Forbidden"
	KindNotFound     ErrorKind = "NotFound"
	KindCanceled     ErrorKind = "Canceled"
	KindUnknown      ErrorKind = "Unknown"
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}

// ErrorInfo is the JSON shape of an error stored in component state.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Describe returns nil for a nil error.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}
