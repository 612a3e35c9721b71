// File: kernel/handle_table.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle tables map stable uint32 handles to threads. Timed wakeups and
// guest-visible references travel as handles, never as raw pointers, so a
// callback firing after the thread died resolves to "not found" instead of
// touching freed state. Guarded by the kernel lock like all kernel state.

package kernel

// Handle is a stable identifier for a kernel object.
type Handle uint32

// handleTable is an arena of thread references with monotonically
// increasing handle values. Handle zero is never issued.
type handleTable struct {
	next    Handle
	entries map[Handle]*Thread
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[Handle]*Thread)}
}

// create issues a fresh handle for t.
func (ht *handleTable) create(t *Thread) Handle {
	ht.next++
	h := ht.next
	ht.entries[h] = t
	return h
}

// get resolves h, returning nil for stale or never-issued handles.
func (ht *handleTable) get(h Handle) *Thread {
	return ht.entries[h]
}

// close invalidates h. Closing an unknown handle is a no-op.
func (ht *handleTable) close(h Handle) {
	delete(ht.entries, h)
}
