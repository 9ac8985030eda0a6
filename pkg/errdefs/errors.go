// Package errdefs defines the typed error taxonomy returned across the
// orchestration core's boundary. Every fault the core surfaces wraps one of
// the sentinel Kinds below so callers can switch on it with errors.Is,
// following the same sentinel-plus-Is-helper shape as compose-go's errdefs
// package, adapted to the standard library's errors instead of pkg/errors.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind is one entry of the error taxonomy in spec §7.
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindForbidden              Kind = "FORBIDDEN"
	KindInvalidState            Kind = "INVALID_STATE"
	KindQuotaExceeded           Kind = "QUOTA_EXCEEDED"
	KindInsufficientResources   Kind = "INSUFFICIENT_RESOURCES"
	KindNoFreePorts             Kind = "NO_FREE_PORTS"
	KindDriverFailed            Kind = "DRIVER_FAILED"
	KindIaaSToolFailed          Kind = "IAAS_TOOL_FAILED"
	KindTimeout                 Kind = "TIMEOUT"
	KindConflict                Kind = "CONFLICT"
	KindInternal                Kind = "INTERNAL"
)

// Error is a kind-tagged error carrying an optional detail string (e.g. a
// driver reason or the tail of captured subprocess output).
type Error struct {
	Kind   Kind
	Msg    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, errdefs.New(kind, "")) by comparing Kind only
// when the target carries no message of its own.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Msg != "" {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithDetail attaches a detail string (e.g. a captured stderr tail) to an
// Error of the given kind.
func WithDetail(kind Kind, msg, detail string) *Error {
	return &Error{Kind: kind, Msg: msg, Detail: detail}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

var (
	// ErrNotFound is a sentinel usable with errors.Is for bare not-found
	// checks (e.g. repository lookups that don't need a message).
	ErrNotFound = &Error{Kind: KindNotFound}
)
