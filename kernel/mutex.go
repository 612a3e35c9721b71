// File: kernel/mutex.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Priority-inheritance mutex protocol. Ownership is tracked per thread:
// waitMutexThreads lists the threads queued on mutexes a thread holds,
// lockOwner points the other way. Effective priority is the minimum of a
// thread's nominal priority and the effective priorities of everything
// queued on it; boosts propagate iteratively up the owner chain.

package kernel

import "github.com/momentics/emukern/api"

// AddMutexWaiter queues waiter on a mutex held by t. Re-registering the
// same pair is a consistency-checked no-op; a waiter already queued on a
// different owner is an invariant violation.
func (t *Thread) AddMutexWaiter(waiter *Thread) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.addMutexWaiter(waiter)
}

func (t *Thread) addMutexWaiter(waiter *Thread) {
	if waiter.lockOwner == t {
		// Already waiting for this thread to release; the waiter list
		// must agree.
		assertf(t.hasMutexWaiter(waiter), "thread %s claims owner %s but is not queued on it", waiter.name, t.name)
		return
	}

	// A thread can't wait on two different mutexes at the same time.
	if waiter.lockOwner != nil {
		fatalf("thread %s is already waiting on a mutex held by %s", waiter.name, waiter.lockOwner.name)
	}
	assertf(!t.hasMutexWaiter(waiter), "thread %s is already queued on %s without a back-reference", waiter.name, t.name)

	waiter.lockOwner = t
	t.waitMutexThreads = append(t.waitMutexThreads, waiter)
	t.kernel.updatePriority(t)
}

// RemoveMutexWaiter dequeues waiter from t and recomputes t's effective
// priority, deflating any inherited boost.
func (t *Thread) RemoveMutexWaiter(waiter *Thread) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.removeMutexWaiter(waiter)
}

func (t *Thread) removeMutexWaiter(waiter *Thread) {
	assertf(waiter.lockOwner == t, "thread %s is not waiting on a mutex held by %s", waiter.name, t.name)

	found := false
	for i, e := range t.waitMutexThreads {
		if e == waiter {
			t.waitMutexThreads = append(t.waitMutexThreads[:i], t.waitMutexThreads[i+1:]...)
			found = true
			break
		}
	}
	assertf(found, "thread %s has owner %s but is missing from its waiter list", waiter.name, t.name)

	waiter.lockOwner = nil
	t.kernel.updatePriority(t)
}

func (t *Thread) hasMutexWaiter(waiter *Thread) bool {
	for _, e := range t.waitMutexThreads {
		if e == waiter {
			return true
		}
	}
	return false
}

// updatePriority recomputes t's effective priority and walks the
// lock-owner chain applying the boost transitively. The walk is iterative
// with a visited set: an ownership cycle means guest or emulator state is
// corrupt, and we fail closed instead of looping.
func (k *System) updatePriority(t *Thread) {
	visited := make(map[*Thread]struct{})

	for t != nil {
		if _, seen := visited[t]; seen {
			fatalf("mutex ownership cycle detected at thread %s", t.name)
		}
		visited[t] = struct{}{}

		// Effective priority of the waiters, not nominal: a boost two
		// links down the chain must still reach this owner.
		newPriority := t.nominalPriority
		for _, waiter := range t.waitMutexThreads {
			if waiter.currentPriority < newPriority {
				newPriority = waiter.currentPriority
			}
		}

		if newPriority == t.currentPriority {
			return
		}

		t.scheduler.setThreadPriority(t, newPriority)
		t.currentPriority = newPriority

		t = t.lockOwner
	}
}

// SetPriority changes the nominal priority and recomputes the effective
// one. Out-of-range values are a caller bug, not a guest-recoverable
// condition, so they assert.
func (t *Thread) SetPriority(priority Priority) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	assertf(priority <= PriorityLowest, "invalid priority value %d", priority)
	t.nominalPriority = priority
	t.kernel.updatePriority(t)
}

// BoostPriority overrides the effective scheduler priority directly,
// bypassing nominal/inheritance bookkeeping. Explicit donation syscalls
// use this escape hatch; the inheritance invariant does not hold across
// it by design of the source protocol.
func (t *Thread) BoostPriority(priority Priority) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.scheduler.setThreadPriority(t, priority)
	t.currentPriority = priority
}

// BeginWaitMutex blocks t on the mutex at address addr held by owner,
// recording the guest handle the waiter passed. Queues t on the owner
// chain, which may boost the owner's effective priority.
func (t *Thread) BeginWaitMutex(owner *Thread, addr api.VAddr, handle Handle) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	t.block()
	t.status = ThreadStatusWaitMutex
	t.mutexWaitAddress = addr
	t.waitHandle = handle
	owner.addMutexWaiter(t)
}

// BeginWaitCondVar blocks t on the condition variable at address addr.
// No lock owner is recorded until the condvar signal hands over the
// underlying mutex.
func (t *Thread) BeginWaitCondVar(addr api.VAddr) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	t.block()
	t.status = ThreadStatusWaitMutex
	t.condvarWaitAddress = addr
}

// BeginWaitArb blocks t on the arbitration address addr.
func (t *Thread) BeginWaitArb(addr api.VAddr) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	t.block()
	t.status = ThreadStatusWaitArb
	t.arbWaitAddress = addr
}

// ReleaseMutexWaiters transfers every thread queued on t to the new
// owner's queue, or wakes them when the mutex is free. The syscall layer
// calls this when the guest releases a contended mutex.
func (t *Thread) ReleaseMutexWaiters(newOwner *Thread) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	waiters := append([]*Thread(nil), t.waitMutexThreads...)
	for _, waiter := range waiters {
		t.removeMutexWaiter(waiter)
		if newOwner != nil && waiter != newOwner {
			newOwner.addMutexWaiter(waiter)
			continue
		}
		waiter.mutexWaitAddress = 0
		waiter.condvarWaitAddress = 0
		waiter.waitHandle = 0
		waiter.resumeFromWait()
	}
}
