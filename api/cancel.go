// File: api/cancel.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cancellation contract for pending asynchronous registrations.

package api

// Cancelable is a pending operation that may be canceled, such as an
// outstanding timed-wakeup registration.
type Cancelable interface {
	// Cancel attempts to abort the operation.
	Cancel() error
	// Done signals completion or cancellation.
	Done() <-chan struct{}
	// Err returns nil while pending, the completion error afterwards.
	Err() error
}
