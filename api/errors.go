// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel result codes and error handling utilities for emukern.
// Invalid-argument conditions surface synchronously as errors carrying a
// ResultCode so the syscall layer can translate them into guest-visible
// values. Internal invariant violations never travel this channel; they
// abort the emulation session (see kernel assertions).

package api

import "fmt"

// ResultCode is the guest-visible kernel result taxonomy.
type ResultCode uint32

const (
	ResOK ResultCode = iota
	ResOutOfRange
	ResInvalidProcessorID
	ResInvalidAddress
	ResNotFound
	ResTimeout
	ResCanceled
	ResInternal
)

// Common errors used across the library.
var (
	ErrOutOfRange         = &Error{Code: ResOutOfRange, Message: "value out of range"}
	ErrInvalidProcessorID = &Error{Code: ResInvalidProcessorID, Message: "invalid processor id"}
	ErrInvalidAddress     = &Error{Code: ResInvalidAddress, Message: "invalid virtual address"}
	ErrNotFound           = &Error{Code: ResNotFound, Message: "resource not found"}
	ErrTimedOut           = &Error{Code: ResTimeout, Message: "operation timed out"}
	ErrCanceled           = &Error{Code: ResCanceled, Message: "operation canceled"}
)

// Error is a structured kernel error with result code and context.
type Error struct {
	Code    ResultCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// WithContext returns a copy of the error annotated with key/value context.
func (e *Error) WithContext(key string, value any) *Error {
	out := &Error{Code: e.Code, Message: e.Message, Context: make(map[string]any, len(e.Context)+1)}
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Context[key] = value
	return out
}

// CodeOf extracts the ResultCode from an error, or ResInternal for
// errors that did not originate in the kernel taxonomy.
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ResInternal
}
