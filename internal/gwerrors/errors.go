// Package gwerrors defines the gateway's error taxonomy: a small set of
// sentinel kinds that every component classifies its failures into, plus a
// wrapping type that carries a stable wire-level error code alongside the
// underlying cause.
//
// Handlers at the MCP boundary (internal/gateway) use [CodeOf] to translate
// any error returned by a downstream component into the error_code string
// returned to callers, without needing to know which component produced it.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind sentinels. Components wrap one of these with [New] or [Wrap]; callers
// classify with [errors.Is] or recover the wire code with [CodeOf].
var (
	// ErrConflict indicates an operation collided with existing state, e.g.
	// registering a server name that already exists.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a lookup found nothing: unknown server, unknown
	// tool, unknown key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller-supplied value failed validation:
	// empty name, malformed namespaced tool name, bad regex, oversized
	// query, mismatched transport/URL.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates a deadline was reached waiting on a downstream
	// session or call.
	ErrTimeout = errors.New("timeout")

	// ErrTransport indicates an underlying MCP, HTTP, SSE, or subprocess
	// transport failure.
	ErrTransport = errors.New("transport error")

	// ErrUnavailable indicates an unexpected fault in an internal
	// subsystem (e.g. the search engine) that isn't one of the more
	// specific kinds above.
	ErrUnavailable = errors.New("unavailable")

	// ErrBackend indicates a storage backend failure. Never retried
	// inside the core.
	ErrBackend = errors.New("backend error")
)

// codeByKind maps each sentinel to its wire-level error_code string.
var codeByKind = map[error]string{
	ErrConflict:     "conflict",
	ErrNotFound:     "not_found",
	ErrInvalidInput: "invalid_input",
	ErrTimeout:      "timeout",
	ErrTransport:    "transport_error",
	ErrUnavailable:  "unavailable",
	ErrBackend:      "backend_error",
}

// gatewayError pairs a classified kind with a specific message and optional
// cause, preserving both for errors.Is/errors.As/errors.Unwrap chains.
type gatewayError struct {
	kind  error
	msg   string
	cause error
}

func (e *gatewayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *gatewayError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// New creates an error of the given kind with msg as its message. kind should
// be one of the sentinels declared above.
func New(kind error, msg string) error {
	return &gatewayError{kind: kind, msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind error, format string, args ...any) error {
	return &gatewayError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause as kind, preserving cause in the Unwrap chain so
// errors.Is(err, cause) still holds alongside errors.Is(err, kind).
func Wrap(kind error, msg string, cause error) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &gatewayError{kind: kind, msg: msg, cause: cause}
}

// CodeOf returns the wire-level error_code for err's classified kind. Returns
// "unavailable" for an err that carries no recognised kind, since that is the
// taxonomy's catch-all for unexpected internal faults.
func CodeOf(err error) string {
	for kind, code := range codeByKind {
		if errors.Is(err, kind) {
			return code
		}
	}
	return "unavailable"
}

// Is reports whether err is classified as kind. Equivalent to
// errors.Is(err, kind); provided for call-site readability in component code.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
