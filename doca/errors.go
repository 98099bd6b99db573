package doca

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is the result code reported by the offload backend.
//
// The values mirror the driver's error space: backends surface these codes
// verbatim and the wrapper never re-maps one code to another. ErrorAgain is
// special: it is a retry-now signal used by the work queue progress protocol
// and is never returned by the high-level poll API.
type ErrorCode int

//go:generate go tool enumer -type=ErrorCode errors.go

const (
	Success ErrorCode = iota
	ErrorUnknown
	ErrorInvalidValue
	ErrorNoMemory
	ErrorNotFound
	ErrorNotSupported
	ErrorNotPermitted
	ErrorDriver
	ErrorIOFailed
	ErrorAgain
	ErrorBadState
	ErrorInProgress
)

// Error carries a backend result code and a human-readable message.
// It is the leaf of every error chain produced by this package; use CodeOf
// to recover the code from a wrapped error.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("doca: %s", e.Code)
	}
	return fmt.Sprintf("doca: %s: %s", e.Code, e.Message)
}

// newErrorf creates an *Error with a stack trace attached (see
// github.com/pkg/errors package).
func newErrorf(code ErrorCode, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Message: fmt.Sprintf(format, args...)})
}

// CodeOf returns the backend result code carried by err, unwrapping as
// needed. A nil error maps to Success, an error with no *Error in its chain
// to ErrorUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorUnknown
}

// IsAgain reports whether err is the backend's retry-now signal.
func IsAgain(err error) bool {
	return CodeOf(err) == ErrorAgain
}
