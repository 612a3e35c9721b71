// File: api/timing.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Virtual-clock contract consumed by the kernel. Timed wakeups are keyed
// by an opaque userdata value (a stable handle, never a raw pointer) so a
// callback may fire from a different execution context than the one that
// scheduled it.

package api

// EventType identifies a registered callback class on the virtual clock.
type EventType int

// EventCallback fires when a scheduled event's deadline is reached.
// cyclesLate reports how far past the deadline the clock had advanced.
type EventCallback func(userdata uint64, cyclesLate int64)

// Clock abstracts the timed-event queue driven by virtual cycles.
type Clock interface {
	// RegisterEvent binds a named callback class and returns its type id.
	RegisterEvent(name string, cb EventCallback) EventType

	// ScheduleEventThreadsafe schedules cb(userdata) cycles from now.
	// Safe to call from any goroutine.
	ScheduleEventThreadsafe(cycles int64, et EventType, userdata uint64)

	// UnscheduleEvent removes all pending events matching (et, userdata).
	UnscheduleEvent(et EventType, userdata uint64)

	// GetTicks returns the current virtual cycle count.
	GetTicks() uint64

	// NsToCycles converts guest nanoseconds to virtual cycles.
	NsToCycles(ns int64) int64
}
