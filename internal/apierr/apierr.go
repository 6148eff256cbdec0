// Package apierr models the closed error-kind set of spec.md §7 as a Go
// error with a Kind() accessor, the same shape the teacher's
// engine.Validator used for its sentinel errors, extended with a kind tag so
// internal/api can map any error returned from deeper layers to an HTTP
// status code by a single type switch (mirroring the teacher's gRPC
// handler switching on sentinel errors via errors.Is).
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds spec.md §7 defines.
type Kind int

const (
	// Unhandled is the zero value: an error with no specific kind maps
	// to it, i.e. to a 500.
	Unhandled Kind = iota
	BadRequest
	NotFound
	Unauthorized
	Forbidden
	UnsupportedChain
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case UnsupportedChain:
		return "unsupported_chain"
	default:
		return "unhandled"
	}
}

// Error is a kinded error: it carries a Kind in addition to a message,
// so the API layer can map it to a status code without string matching.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind reports e's error kind.
func (e *Error) Kind() Kind { return e.kind }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// BadRequestf builds a BadRequest-kind error: malformed CBOR/JSON,
// invalid commitment point, version gap, Pedersen verify failure.
func BadRequestf(format string, args ...any) error { return newf(BadRequest, format, args...) }

// NotFoundf builds a NotFound-kind error: missing share/policy/secret,
// or an unsupported secret name.
func NotFoundf(format string, args ...any) error { return newf(NotFound, format, args...) }

// Unauthorizedf builds an Unauthorized-kind error: policy verification
// failure, absent/expired permit.
func Unauthorizedf(format string, args ...any) error { return newf(Unauthorized, format, args...) }

// Forbiddenf builds a Forbidden-kind error: invalid EIP-712 signature,
// host mismatch, requester not permitted.
func Forbiddenf(format string, args ...any) error { return newf(Forbidden, format, args...) }

// UnsupportedChainf builds an UnsupportedChain-kind error.
func UnsupportedChainf(format string, args ...any) error {
	return newf(UnsupportedChain, format, args...)
}

// Wrap annotates err with a kind and message without discarding err
// from errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error; otherwise returns Unhandled.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unhandled
}
