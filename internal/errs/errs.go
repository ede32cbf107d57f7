// Package errs defines the error taxonomy shared across cloudp2p's
// components. It mirrors the storage protocol's closed error-code set
// (see internal/storageproto) so a local error and a wire error can be
// mapped onto each other without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable, comparable error category. Components that return a
// Code can be checked with errors.Is regardless of the wrapping message.
type Code int

const (
	CodeUnknown Code = iota
	CodeNotFound
	CodeInsufficientSpace
	CodeInvalidSignature
	CodeExpired
	CodePermissionDenied
	CodeRateLimited
	CodeInvalidRequest
	CodeQuotaExceeded
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeInsufficientSpace:
		return "insufficient_space"
	case CodeInvalidSignature:
		return "invalid_signature"
	case CodeExpired:
		return "expired"
	case CodePermissionDenied:
		return "permission_denied"
	case CodeRateLimited:
		return "rate_limited"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeQuotaExceeded:
		return "quota_exceeded"
	case CodeInternal:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is a categorized, wrappable error. It behaves like a normal error
// for fmt/logging purposes but carries a Code that survives wrapping.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error around an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// GetCode extracts the Code from err, walking the Unwrap chain. Returns
// CodeUnknown if nothing in the chain is an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Sentinels for conditions callers commonly want to compare against
// directly, grounded on netselect.go's errNoIPv4/ErrNoIface pattern of
// exporting a handful of stable sentinel values rather than a whole
// exception hierarchy.
var (
	ErrNotFound          = New(CodeNotFound, "resource not found")
	ErrExpired           = New(CodeExpired, "resource expired")
	ErrInvalidSignature  = New(CodeInvalidSignature, "signature verification failed")
	ErrInsufficientSpace = New(CodeInsufficientSpace, "insufficient storage space")
	ErrPermissionDenied  = New(CodePermissionDenied, "permission denied")
	ErrQuotaExceeded     = New(CodeQuotaExceeded, "quota exceeded")
	ErrInvalidRequest    = New(CodeInvalidRequest, "invalid request")
	ErrRateLimited       = New(CodeRateLimited, "rate limited")
)
