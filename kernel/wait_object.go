// File: kernel/wait_object.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wait objects are the things a thread can block on. The variant set is
// closed and small, so it is modeled as a tagged struct dispatched by an
// exhaustive switch rather than interface polymorphism.
//
// Two-way registration invariant: a thread appears in a wait object's
// waiter list iff that object appears in the thread's waitObjects slice.
// Both sides are always edited together, under the kernel lock.

package kernel

// WaitObjectKind tags the closed set of waitable variants.
type WaitObjectKind int

const (
	// WaitObjectGeneric is a countable signalable object.
	WaitObjectGeneric WaitObjectKind = iota
	// WaitObjectMutex is held by an owner thread until released.
	WaitObjectMutex
	// WaitObjectCondVar is a condition-variable / arbitration address.
	WaitObjectCondVar
	// WaitObjectHLEEvent is a high-level-emulation synchronization event.
	WaitObjectHLEEvent
	// WaitObjectThreadExit is a live thread awaited by its joiners.
	WaitObjectThreadExit
)

var waitObjectKindNames = map[WaitObjectKind]string{
	WaitObjectGeneric:    "Generic",
	WaitObjectMutex:      "Mutex",
	WaitObjectCondVar:    "CondVar",
	WaitObjectHLEEvent:   "HLEEvent",
	WaitObjectThreadExit: "ThreadExit",
}

func (k WaitObjectKind) String() string {
	if n, ok := waitObjectKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// WaitObject holds an ordered list of waiting threads. All methods require
// the kernel lock.
type WaitObject struct {
	kernel *System
	kind   WaitObjectKind
	name   string

	waiters []*Thread

	// signaled latches Signal for Generic, CondVar and HLEEvent objects.
	signaled bool
	// owner is the holding thread for Mutex objects and the subject
	// thread for ThreadExit objects.
	owner *Thread
}

// NewWaitObject creates a named wait object of the given kind.
func (k *System) NewWaitObject(kind WaitObjectKind, name string) *WaitObject {
	return &WaitObject{kernel: k, kind: kind, name: name}
}

// Name returns the object's debug name.
func (w *WaitObject) Name() string { return w.name }

// Kind returns the variant tag.
func (w *WaitObject) Kind() WaitObjectKind { return w.kind }

// shouldWait reports whether t would block on w right now.
func (w *WaitObject) shouldWait(t *Thread) bool {
	switch w.kind {
	case WaitObjectMutex:
		return w.owner != nil && w.owner != t
	case WaitObjectThreadExit:
		return w.owner.status != ThreadStatusDead
	case WaitObjectGeneric, WaitObjectCondVar, WaitObjectHLEEvent:
		return !w.signaled
	}
	fatalf("unknown wait object kind %d", w.kind)
	return false
}

// acquire consumes the object on behalf of t after a successful wait.
func (w *WaitObject) acquire(t *Thread) {
	switch w.kind {
	case WaitObjectMutex:
		w.owner = t
	case WaitObjectGeneric, WaitObjectCondVar:
		// one-shot: the signal is consumed by the first acquirer
		w.signaled = false
	case WaitObjectHLEEvent, WaitObjectThreadExit:
		// sticky: remains signaled for later waiters
	default:
		fatalf("unknown wait object kind %d", w.kind)
	}
}

// addWaitingThread appends t to the waiter list. The thread side of the
// registration is maintained by Thread.BeginWait.
func (w *WaitObject) addWaitingThread(t *Thread) {
	for _, e := range w.waiters {
		assertf(e != t, "thread %s double-registered on %s object %q", t.name, w.kind, w.name)
	}
	w.waiters = append(w.waiters, t)
}

// removeWaitingThread drops t from the waiter list. Removing an absent
// thread is harmless; the timed-wakeup path deregisters unconditionally.
func (w *WaitObject) removeWaitingThread(t *Thread) {
	for i, e := range w.waiters {
		if e == t {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}

// WaitingThreads returns a copy of the ordered waiter list.
func (w *WaitObject) WaitingThreads() []*Thread {
	w.kernel.mu.Lock()
	defer w.kernel.mu.Unlock()
	out := make([]*Thread, len(w.waiters))
	copy(out, w.waiters)
	return out
}

// Signal marks the object signaled and wakes eligible waiters.
func (w *WaitObject) Signal() {
	w.kernel.mu.Lock()
	defer w.kernel.mu.Unlock()
	w.signaled = true
	w.wakeupAllWaitingThreads()
}

// wakeupAllWaitingThreads wakes, in registration order, every waiter whose
// wait is now satisfiable. A wait-all thread is only woken once none of its
// registered objects would still block it. Woken threads are deregistered
// from all their wait objects before any callback runs, then resumed unless
// the callback vetoes.
func (w *WaitObject) wakeupAllWaitingThreads() {
	pending := make([]*Thread, len(w.waiters))
	copy(pending, w.waiters)

	for _, t := range pending {
		if w.shouldWait(t) {
			break
		}
		if t.status == ThreadStatusWaitSynchAll && !t.allWaitObjectsReady() {
			continue
		}
		w.kernel.wakeWaiter(t, w)
	}
}

// wakeWaiter resolves t's wait via object w: deregisters t everywhere,
// lets each object account the acquisition, consults the wakeup callback,
// and resumes the thread unless vetoed.
func (k *System) wakeWaiter(t *Thread, signaled *WaitObject) {
	index := t.waitObjectIndex(signaled)

	for _, obj := range t.waitObjects {
		obj.removeWaitingThread(t)
	}
	objects := t.waitObjects
	t.waitObjects = nil

	if t.status == ThreadStatusWaitSynchAll {
		for _, obj := range objects {
			obj.acquire(t)
		}
	} else {
		signaled.acquire(t)
	}

	resume := true
	if t.wakeupCallback != nil {
		resume = t.wakeupCallback(WakeupReasonSignal, t, signaled, index)
	}
	if resume {
		t.resumeFromWait()
	}
}
