// File: timing/clock.go
// Package timing implements the virtual clock and timed-event queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The clock is a min-heap of pending events ordered by absolute cycle
// deadline, with an insertion sequence number as a deterministic tie-break.
// Events may be scheduled from any goroutine; callbacks fire with the clock
// lock released so they are free to schedule or unschedule further events.

package timing

import (
	"container/heap"
	"sync"

	"github.com/momentics/emukern/api"
)

// BaseClockRate is the emulated CPU frequency in cycles per second.
const BaseClockRate = 1_019_215_872

type event struct {
	deadline uint64 // absolute cycle count at which the event fires
	seq      uint64 // insertion order, breaks deadline ties deterministically
	typ      api.EventType
	userdata uint64
}

// eventHeap is a min-heap over (deadline, seq).
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

type registeredEvent struct {
	name string
	cb   api.EventCallback
}

// Clock is the canonical api.Clock implementation.
type Clock struct {
	mu         sync.Mutex
	ticks      uint64
	seq        uint64
	pending    eventHeap
	registered []registeredEvent
}

// NewClock returns a clock positioned at cycle zero with no pending events.
func NewClock() *Clock {
	return &Clock{}
}

// RegisterEvent binds a named callback class and returns its type id.
func (c *Clock) RegisterEvent(name string, cb api.EventCallback) api.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, registeredEvent{name: name, cb: cb})
	return api.EventType(len(c.registered) - 1)
}

// ScheduleEventThreadsafe schedules the callback of et to fire cycles from
// now, carrying userdata. Negative delays clamp to "fire on next advance".
func (c *Clock) ScheduleEventThreadsafe(cycles int64, et api.EventType, userdata uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := c.ticks
	if cycles > 0 {
		deadline += uint64(cycles)
	}
	c.seq++
	heap.Push(&c.pending, &event{
		deadline: deadline,
		seq:      c.seq,
		typ:      et,
		userdata: userdata,
	})
}

// UnscheduleEvent removes every pending event matching (et, userdata).
// Unscheduling an event that is not pending is a no-op.
func (c *Clock) UnscheduleEvent(et api.EventType, userdata uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, ev := range c.pending {
		if ev.typ == et && ev.userdata == userdata {
			continue
		}
		kept = append(kept, ev)
	}
	c.pending = kept
	heap.Init(&c.pending)
}

// GetTicks returns the current virtual cycle count.
func (c *Clock) GetTicks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// NsToCycles converts guest nanoseconds to virtual cycles at BaseClockRate.
// Split to avoid overflowing the intermediate product for large delays.
func (c *Clock) NsToCycles(ns int64) int64 {
	return ns/1_000_000_000*BaseClockRate + ns%1_000_000_000*BaseClockRate/1_000_000_000
}

// Advance moves virtual time forward by cycles, firing every event whose
// deadline falls inside the window in deadline order. Callbacks run with
// the clock lock released.
func (c *Clock) Advance(cycles int64) {
	if cycles <= 0 {
		return
	}
	c.mu.Lock()
	target := c.ticks + uint64(cycles)
	for len(c.pending) > 0 && c.pending[0].deadline <= target {
		ev := heap.Pop(&c.pending).(*event)
		if ev.deadline > c.ticks {
			c.ticks = ev.deadline
		}
		cb := c.registered[ev.typ].cb
		late := int64(c.ticks - ev.deadline)
		c.mu.Unlock()
		cb(ev.userdata, late)
		c.mu.Lock()
	}
	c.ticks = target
	c.mu.Unlock()
}

// PendingEvents reports the number of outstanding registrations, used by
// lifecycle tests to verify cancellation.
func (c *Clock) PendingEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
