// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

import (
	"errors"
	"fmt"
)

// Code is the status a lifecycle operation reports. The numeric values are
// part of the compatibility surface and must not change between ABI
// revisions.
type Code uint8

// Status codes returned by lifecycle-advancing operations.
const (
	// CodeOK means the operation succeeded.
	CodeOK Code = 0
	// CodeConnFailed is an operational or device failure, possibly
	// transient; the host may retry with the same input.
	CodeConnFailed Code = 1
	// CodeInvalidParams is a caller error; retrying without correcting the
	// input will not help.
	CodeInvalidParams Code = 2
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeConnFailed:
		return "connection failed"
	case CodeInvalidParams:
		return "invalid parameters"
	default:
		return fmt.Sprintf("unknown code %d", uint8(c))
	}
}

// Retryable reports whether the host may retry the failed operation with
// unchanged input.
func (c Code) Retryable() bool {
	return c == CodeConnFailed
}

// Error is the tagged failure a driver returns across the contract boundary.
// Drivers convert every internal fault into an Error before returning; no
// panic crosses the boundary.
type Error struct {
	code  Code
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the status code carried by the error.
func (e *Error) Code() Code { return e.code }

// ConnFailedf builds a CodeConnFailed error.
func ConnFailedf(format string, args ...any) *Error {
	return &Error{code: CodeConnFailed, msg: fmt.Sprintf(format, args...)}
}

// InvalidParamsf builds a CodeInvalidParams error.
func InvalidParamsf(format string, args ...any) *Error {
	return &Error{code: CodeInvalidParams, msg: fmt.Sprintf(format, args...)}
}

// WrapConnFailed wraps an underlying fault as a CodeConnFailed error.
func WrapConnFailed(err error, msg string) *Error {
	return &Error{code: CodeConnFailed, msg: msg, cause: err}
}

// WrapInvalidParams wraps an underlying fault as a CodeInvalidParams error.
func WrapInvalidParams(err error, msg string) *Error {
	return &Error{code: CodeInvalidParams, msg: msg, cause: err}
}

// CodeOf extracts the status code from an operation result. nil maps to
// CodeOK; an error that is not a *driver.Error is treated as an operational
// failure, mirroring how a conforming driver converts unclassified internal
// faults.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeConnFailed
}
