// Package domainerrors provides coded errors for the attendance integrity
// core. Services return these so transports can translate outcomes into
// machine-readable responses without string matching.
//
// The code set maps the core's error taxonomy:
//
//   - CodeValidation: malformed input, rejected before any persistence
//   - CodePolicyViolation: disallowed transition or role change; the refusal
//     itself is persisted as visible history
//   - CodeIntegrityFault: checksum mismatch or partial commit; requires review,
//     never auto-corrected
//   - CodeTimeout / CodeUnavailable: transient store failure; safe to retry
//     with the same idempotency key
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for programmatic handling.
type Code string

const (
	CodeValidation      Code = "validation_error"
	CodePolicyViolation Code = "policy_violation"
	CodeIntegrityFault  Code = "integrity_fault"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeBadRequest      Code = "bad_request"
	CodeTimeout         Code = "timeout"
	CodeUnavailable     Code = "unavailable"
	CodeInternal        Code = "internal"
)

// Error is a coded domain error. Details carry structured context for the
// caller (e.g. still-valid target states on a policy violation).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is / errors.As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Add attaches a structured detail to the error and returns it for chaining.
func (e *Error) Add(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so callers always get a classification.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf extracts structured details from err, or nil.
func DetailsOf(err error) map[string]any {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}
