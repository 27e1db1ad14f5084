// Package memerr implements the engine's error taxonomy (spec §7): a small
// set of machine-readable kinds that every transport maps to its own wire
// representation (HTTP status, JSON-RPC code) consistently.
package memerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindNotFound           Kind = "NotFound"
	KindDuplicate          Kind = "Duplicate"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindTimeout            Kind = "Timeout"
	KindDimensionMismatch  Kind = "DimensionMismatch"
	KindUnauthorized       Kind = "Unauthorized"
	KindResourceExhausted  Kind = "ResourceExhausted"
	KindInternal           Kind = "Internal"
)

// Error is the concrete error type carried through the engine. Duplicate is
// deliberately NOT surfaced as an error to callers — the storage layer
// reports it via a (stored bool) return instead (§7 propagation policy);
// KindDuplicate exists here only so internal code has a uniform way to talk
// about the condition before it's translated into a success response.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithCorrelationID attaches a correlation id, used for KindInternal errors
// so operators can find the corresponding log line.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a *Error (or wraps one).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a memerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code every HTTP handler must use
// (spec §7 "user-visible failure").
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return 400
	case KindUnauthorized:
		return 401
	case KindNotFound:
		return 404
	case KindTimeout:
		return 504
	case KindBackendUnavailable:
		return 503
	case KindResourceExhausted:
		return 429
	case KindDimensionMismatch:
		return 409
	case KindInternal:
		return 500
	default:
		return 500
	}
}

// JSONRPCCode maps a Kind to a JSON-RPC 2.0 error code. Validation-shaped
// kinds map onto the standard -32602 "invalid params"; everything else maps
// onto the server-error range starting at -32000, offset per kind so
// clients can distinguish them without parsing the message string.
func JSONRPCCode(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return -32602
	case KindNotFound:
		return -32001
	case KindBackendUnavailable:
		return -32002
	case KindTimeout:
		return -32003
	case KindDimensionMismatch:
		return -32004
	case KindUnauthorized:
		return -32005
	case KindResourceExhausted:
		return -32006
	default:
		return -32603
	}
}
