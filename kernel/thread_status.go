// File: kernel/thread_status.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread lifecycle states and priority range.

package kernel

// ThreadStatus is the lifecycle state of a guest thread.
type ThreadStatus int

const (
	ThreadStatusRunning ThreadStatus = iota
	ThreadStatusReady
	ThreadStatusWaitHLEEvent
	ThreadStatusWaitSleep
	ThreadStatusWaitIPC
	ThreadStatusWaitSynchAny
	ThreadStatusWaitSynchAll
	ThreadStatusWaitMutex
	ThreadStatusWaitArb
	ThreadStatusDormant
	ThreadStatusDead
)

var threadStatusNames = map[ThreadStatus]string{
	ThreadStatusRunning:      "Running",
	ThreadStatusReady:        "Ready",
	ThreadStatusWaitHLEEvent: "WaitHLEEvent",
	ThreadStatusWaitSleep:    "WaitSleep",
	ThreadStatusWaitIPC:      "WaitIPC",
	ThreadStatusWaitSynchAny: "WaitSynchAny",
	ThreadStatusWaitSynchAll: "WaitSynchAll",
	ThreadStatusWaitMutex:    "WaitMutex",
	ThreadStatusWaitArb:      "WaitArb",
	ThreadStatusDormant:      "Dormant",
	ThreadStatusDead:         "Dead",
}

func (s ThreadStatus) String() string {
	if n, ok := threadStatusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// isWaiting reports whether s is any of the blocked states.
func (s ThreadStatus) isWaiting() bool {
	switch s {
	case ThreadStatusWaitHLEEvent, ThreadStatusWaitSleep, ThreadStatusWaitIPC,
		ThreadStatusWaitSynchAny, ThreadStatusWaitSynchAll,
		ThreadStatusWaitMutex, ThreadStatusWaitArb:
		return true
	}
	return false
}

// Priority is a scheduling priority. Numerically lower values schedule first.
type Priority uint32

const (
	PriorityHighest Priority = 0
	PriorityLowest  Priority = 63

	// PriorityCount is the number of distinct priority levels.
	PriorityCount = 64
)
