// Package dyaderr defines the stable error taxonomy every coordination
// component reports through: a small enumerated Code plus the underlying
// cause, so hook bodies can log a single line and discard instead of
// letting arbitrary error strings leak into the host application's view.
package dyaderr

import (
	"errors"
	"fmt"
)

// Code is a stable, enumerated coordination error. Callers should branch on
// Code, not on error strings.
type Code string

const (
	OK             Code = "OK"
	SYSFAIL        Code = "SYSFAIL"
	NOCTX          Code = "NOCTX"
	FLUXFAIL       Code = "FLUXFAIL"
	BADCOMMIT      Code = "BADCOMMIT"
	BADLOOKUP      Code = "BADLOOKUP"
	BADFETCH       Code = "BADFETCH"
	BADRESPONSE    Code = "BADRESPONSE"
	BADRPC         Code = "BADRPC"
	BADFIO         Code = "BADFIO"
	BADMANAGEDPATH Code = "BADMANAGEDPATH"
	BADPACK        Code = "BADPACK"
	BADUNPACK      Code = "BADUNPACK"
	RPCFinished    Code = "RPC_FINISHED"
	BadB64Decode   Code = "BAD_B64DECODE" // reserved: unused in core, kept for taxonomy parity with the wire error set
	BadCommMode    Code = "BAD_COMM_MODE"
)

// Error pairs a stable Code with the underlying cause. It satisfies the
// standard errors.Unwrap protocol so callers can still inspect the wrapped
// error with errors.Is/errors.As.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap constructs an *Error attributing cause err to op under code.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// New constructs an *Error with no wrapped cause, for conditions detected
// locally rather than propagated from another package.
func New(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf("%s", msg)}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and FLUXFAIL otherwise — the catch-all for unexpected transport
// errors.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return FLUXFAIL
}
