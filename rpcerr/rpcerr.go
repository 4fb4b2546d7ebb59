// Package rpcerr defines the tagged error taxonomy used across the RPC
// core (handshake, adapter, channel, middleware). Every error that
// crosses a call boundary carries a stable Code so callers can switch on
// it instead of matching strings, and an optional Cause for debugging.
//
// This favors a real tagged variant over a plain `Error string` field
// on the message envelope, per §7 and the "Errors-with-extra-fields"
// design note.
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the stable rpcCode tag from §7.
type Code string

const (
	InvalidHandshakeRequest  Code = "INVALID_HANDSHAKE_REQUEST"
	InvalidHandshakeResponse Code = "INVALID_HANDSHAKE_RESPONSE"
	IncompatibleProtocol     Code = "INCOMPATIBLE_PROTOCOL"
	UnknownProtocol          Code = "UNKNOWN_PROTOCOL"
	InvalidRequest           Code = "INVALID_REQUEST"
	InvalidResponse          Code = "INVALID_RESPONSE"
	NotImplemented           Code = "NOT_IMPLEMENTED"
	ApplicationError         Code = "APPLICATION_ERROR"
	InternalServerError      Code = "INTERNAL_SERVER_ERROR"
	Timeout                  Code = "TIMEOUT"
	Interrupted              Code = "INTERRUPTED"
	NoActiveChannels         Code = "NO_ACTIVE_CHANNELS"
)

// Error is the concrete tagged error type. It satisfies the standard
// `error` interface plus `Unwrap` so callers can still `errors.As`/`Is`
// through it.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New builds an Error with no cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code to an existing error, preserving it as the Cause
// via github.com/pkg/errors so stack context survives for logging.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   errors.WithStack(cause),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code, so
// `errors.Is(err, rpcerr.New(rpcerr.Timeout, ""))`-style comparisons
// work without matching messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code from err, defaulting to InternalServerError
// for errors that did not originate in this package.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalServerError
}
