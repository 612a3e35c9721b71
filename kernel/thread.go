// File: kernel/thread.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread entity and lifecycle. Threads are created Dormant, become Ready
// on first resume, and end Dead exactly once via Stop. Blocking is
// modeled by the Wait* states plus registration on wait objects; wakeups
// arrive either from explicit signaling or from the virtual clock.

package kernel

import (
	"sync"

	"github.com/momentics/emukern/api"
)

// WakeupReason tells a wakeup callback why the wait resolved.
type WakeupReason int

const (
	// WakeupReasonSignal: a wait object the thread was waiting on signaled.
	WakeupReasonSignal WakeupReason = iota
	// WakeupReasonTimeout: the timed wakeup fired first.
	WakeupReasonTimeout
)

// WakeupCallback runs when a thread's wait resolves, before the thread is
// resumed. object and index identify the signaling wait object for signal
// wakeups; both are zero-valued on timeout. Returning false vetoes the
// resume and leaves the thread in its prior wait state until something
// re-signals it.
type WakeupCallback func(reason WakeupReason, t *Thread, object *WaitObject, index int) bool

// Thread is one guest execution context. Exported methods acquire the
// kernel lock; unexported ones expect it held.
type Thread struct {
	kernel *System

	id     uint64
	name   string
	status ThreadStatus

	context api.ThreadContext

	nominalPriority Priority
	currentPriority Priority

	processorID  int
	idealCore    int // -1 = no preference
	affinityMask uint64

	owner     *Process
	scheduler *Scheduler

	tlsAddress api.VAddr
	entryPoint api.VAddr
	stackTop   api.VAddr

	// callbackHandle keys this thread's pending timed wakeup on the
	// virtual clock; guestHandle is the guest-visible reference.
	callbackHandle Handle
	guestHandle    Handle

	// pendingWakeup is the live timed-wakeup registration, nil when no
	// timer is armed.
	pendingWakeup *timedWakeup

	waitObjects []*WaitObject

	// Mutex/condvar/arbitration wait bookkeeping.
	mutexWaitAddress   api.VAddr
	condvarWaitAddress api.VAddr
	waitHandle         Handle
	arbWaitAddress     api.VAddr

	wakeupCallback WakeupCallback

	// lockOwner is the thread holding the mutex this thread is queued
	// on; waitMutexThreads are the threads queued on a mutex this
	// thread owns.
	lockOwner        *Thread
	waitMutexThreads []*Thread

	// exit is the wait object joiners block on until this thread dies.
	exit *WaitObject

	lastRunningTicks uint64
}

// CreateThread creates a Dormant thread owned by the given process.
// Invalid priority, processor id or entry point surface as result-coded
// errors for the syscall layer to translate.
func (k *System) CreateThread(name string, entryPoint api.VAddr, priority Priority,
	arg uint64, processorID int, stackTop api.VAddr, owner *Process) (*Thread, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if priority > PriorityLowest {
		k.log.Printf("CreateThread %q: invalid priority %d", name, priority)
		return nil, api.ErrOutOfRange.WithContext("priority", uint32(priority))
	}
	if !k.validProcessorID(processorID) {
		k.log.Printf("CreateThread %q: invalid processor id %d", name, processorID)
		return nil, api.ErrInvalidProcessorID.WithContext("processor_id", processorID)
	}
	if !owner.memory.IsValidVirtualAddress(entryPoint) {
		k.log.Printf("CreateThread %q: invalid entry point %#x", name, entryPoint)
		return nil, api.ErrInvalidAddress.WithContext("entry_point", entryPoint)
	}

	tlsAddress, err := owner.allocateTLSSlot()
	if err != nil {
		return nil, err
	}

	k.nextThreadID++
	t := &Thread{
		kernel:           k,
		id:               k.nextThreadID,
		name:             name,
		status:           ThreadStatusDormant,
		nominalPriority:  priority,
		currentPriority:  priority,
		processorID:      processorID,
		idealCore:        processorID,
		affinityMask:     1 << processorID,
		owner:            owner,
		scheduler:        k.cores[processorID].sched,
		tlsAddress:       tlsAddress,
		entryPoint:       entryPoint,
		stackTop:         stackTop,
		lastRunningTicks: k.clock.GetTicks(),
	}
	t.exit = k.NewWaitObject(WaitObjectThreadExit, name)
	t.exit.owner = t
	t.callbackHandle = k.wakeupHandles.create(t)
	t.scheduler.addThread(t)
	t.context.Reset(stackTop, entryPoint, arg)

	k.metricInc(metricThreadsCreated)
	return t, nil
}

// SetupMainThread creates and resumes the process main thread on core 0.
// Register 1 of its context carries the guest-visible thread handle.
func (k *System) SetupMainThread(entryPoint api.VAddr, priority Priority,
	stackTop api.VAddr, owner *Process) (*Thread, error) {
	t, err := k.CreateThread("main", entryPoint, priority, 0, 0, stackTop, owner)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	t.guestHandle = k.guestHandles.create(t)
	t.context.CPURegisters[1] = uint64(t.guestHandle)
	t.resumeFromWait()
	k.mu.Unlock()
	return t, nil
}

// ID returns the unique numeric thread identifier.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the human-readable thread name.
func (t *Thread) Name() string { return t.name }

// Status returns the current lifecycle state.
func (t *Thread) Status() ThreadStatus {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	return t.status
}

// Priorities returns (nominal, current effective) priority.
func (t *Thread) Priorities() (Priority, Priority) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	return t.nominalPriority, t.currentPriority
}

// ProcessorID returns the core the thread is currently assigned to.
func (t *Thread) ProcessorID() int {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	return t.processorID
}

// TLSAddress returns the thread-local-storage slot address.
func (t *Thread) TLSAddress() api.VAddr { return t.tlsAddress }

// ExitObject returns the wait object joiners can block on until this
// thread dies.
func (t *Thread) ExitObject() *WaitObject { return t.exit }

// Context returns the saved execution context for the CPU loop to drive.
func (t *Thread) Context() *api.ThreadContext { return &t.context }

// commandBufferOffset is where the IPC command buffer begins inside TLS.
const commandBufferOffset = 0x80

// CommandBufferAddress returns the guest address of the IPC command buffer.
func (t *Thread) CommandBufferAddress() api.VAddr {
	return t.tlsAddress + commandBufferOffset
}

// SetWakeupCallback installs the hook consulted before a wakeup resumes
// the thread.
func (t *Thread) SetWakeupCallback(cb WakeupCallback) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.wakeupCallback = cb
}

// SetWaitSynchronizationResult writes the wait result code into the
// context, where the guest expects it after a synchronization syscall.
func (t *Thread) SetWaitSynchronizationResult(code api.ResultCode) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.context.CPURegisters[0] = uint64(code)
}

// SetWaitSynchronizationOutput writes the signaled-object index output.
func (t *Thread) SetWaitSynchronizationOutput(output int32) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.context.CPURegisters[1] = uint64(uint32(output))
}

// waitObjectIndex returns the index of object in the thread's wait list,
// counting the last occurrence, matching guest wait-any output semantics.
func (t *Thread) waitObjectIndex(object *WaitObject) int {
	assertf(len(t.waitObjects) > 0, "thread %s is not waiting for anything", t.name)
	for i := len(t.waitObjects) - 1; i >= 0; i-- {
		if t.waitObjects[i] == object {
			return i
		}
	}
	return -1
}

// Stop terminates the thread. The transition to Dead happens at most
// once; a second Stop is a guarded no-op so cleanup never runs twice.
func (t *Thread) Stop() {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.stop()
}

func (t *Thread) stop() {
	if t.status == ThreadStatusDead {
		return
	}
	k := t.kernel

	// Cancel any outstanding timed wakeup and retire its handle.
	t.cancelTimedWakeup()
	k.wakeupHandles.close(t.callbackHandle)
	t.callbackHandle = 0
	if t.guestHandle != 0 {
		k.guestHandles.close(t.guestHandle)
		t.guestHandle = 0
	}

	// Forcefully terminated threads may still sit in scheduler state.
	if t.status == ThreadStatusReady {
		t.scheduler.unscheduleThread(t, t.currentPriority)
	} else if t.scheduler.current == t {
		t.scheduler.current = nil
		k.cores[t.processorID].PrepareReschedule()
	}

	t.status = ThreadStatusDead

	t.exit.wakeupAllWaitingThreads()

	// Clean up dangling references in objects this thread was waiting on.
	for _, obj := range t.waitObjects {
		obj.removeWaitingThread(t)
	}
	t.waitObjects = nil

	// A thread queued on another thread's mutex must leave that queue so
	// the owner's inherited priority deflates.
	if t.lockOwner != nil {
		t.lockOwner.removeMutexWaiter(t)
	}

	t.scheduler.removeThread(t)

	t.owner.freeTLSSlot(t.tlsAddress)
}

// ResumeFromWait transitions a waiting or Dormant thread to Ready and
// places it on a core per the affinity/ideal-core algorithm. Calling it
// on an already-Ready thread is a no-op: a thread waiting on several
// objects may be notified more than once.
func (t *Thread) ResumeFromWait() {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()
	t.resumeFromWait()
}

func (t *Thread) resumeFromWait() {
	assertf(len(t.waitObjects) == 0, "thread %s is waking up while still registered on wait objects", t.name)

	switch t.status {
	case ThreadStatusReady:
		// Duplicate wakeup; the first one already requeued the thread.
		return
	case ThreadStatusRunning:
		fatalf("thread %s resumed while already running", t.name)
	case ThreadStatusDead:
		fatalf("thread %s resumed after death", t.name)
	}
	assertf(t.status == ThreadStatusDormant || t.status.isWaiting(),
		"thread %s cannot resume from status %s", t.name, t.status)

	// A wait resolved by signaling may still carry an armed timed wakeup;
	// cancel it so the stale timer cannot fire into a later wait.
	t.cancelTimedWakeup()

	t.wakeupCallback = nil
	t.status = ThreadStatusReady
	t.reposition()
	t.kernel.metricInc(metricThreadWakeups)
}

// reposition runs the core-placement algorithm and moves the thread's
// scheduler bookkeeping accordingly. Shared verbatim between wait
// resolution and live affinity changes; the two paths must not diverge.
func (t *Thread) reposition() {
	k := t.kernel

	newCore := k.nextProcessorID(t.affinityMask)
	if newCore < 0 {
		newCore = t.processorID
	}
	if t.idealCore != -1 && k.cores[t.idealCore].sched.current == nil {
		newCore = t.idealCore
	}
	assertf(k.validProcessorID(newCore), "placement resolved to invalid core %d", newCore)

	next := k.cores[newCore].sched

	// Two steps: first the tracking-set move, then the ready-queue move.
	if newCore != t.processorID {
		t.scheduler.removeThread(t)
		next.addThread(t)
	}
	t.processorID = newCore

	t.scheduler.unscheduleThread(t, t.currentPriority)
	next.scheduleThread(t, t.currentPriority)

	t.scheduler = next

	k.cores[newCore].PrepareReschedule()
	k.metricInc(metricReschedules)
}

// ChangeCore updates the ideal core and affinity mask, repositioning the
// thread immediately when it is Ready.
func (t *Thread) ChangeCore(idealCore int, affinityMask uint64) {
	t.kernel.mu.Lock()
	defer t.kernel.mu.Unlock()

	assertf(idealCore == -1 || t.kernel.validProcessorID(idealCore), "invalid ideal core %d", idealCore)
	t.idealCore = idealCore
	t.affinityMask = affinityMask

	if t.status != ThreadStatusReady {
		return
	}
	t.reposition()
}

// waitForever is the duration sentinel meaning "no timeout".
const waitForever = -1

// timedWakeup is the cancelable registration WakeAfterDelay hands out. It
// completes with a nil error when the timer fires and with ErrCanceled when
// the wait resolves early, the registration is replaced, or the thread dies.
type timedWakeup struct {
	thread *Thread
	once   sync.Once
	err    error
	done   chan struct{}
}

func (w *timedWakeup) finish(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

// Cancel unschedules the timed wakeup. Canceling after the timer fired or
// after another registration replaced this one is a no-op.
func (w *timedWakeup) Cancel() error {
	k := w.thread.kernel
	k.mu.Lock()
	if w.thread.pendingWakeup == w {
		w.thread.cancelTimedWakeup()
	}
	k.mu.Unlock()
	w.finish(api.ErrCanceled)
	return nil
}

// Done is closed once the registration fired or was canceled.
func (w *timedWakeup) Done() <-chan struct{} { return w.done }

// Err returns nil while the registration is pending or after it fired, and
// ErrCanceled once it was canceled.
func (w *timedWakeup) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// WakeAfterDelay arms a timed wakeup nanoseconds of virtual time from now,
// keyed by the thread's stable callback handle, replacing any previous
// registration. Returns nil for the wait-forever sentinel.
func (t *Thread) WakeAfterDelay(nanoseconds int64) api.Cancelable {
	if nanoseconds == waitForever {
		return nil
	}
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.armTimedWakeup(nanoseconds)
}

// CancelWakeupTimer unschedules a pending timed wakeup, if any.
func (t *Thread) CancelWakeupTimer() {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	t.cancelTimedWakeup()
}

// armTimedWakeup schedules the wakeup event and tracks its registration.
func (t *Thread) armTimedWakeup(nanoseconds int64) *timedWakeup {
	t.cancelTimedWakeup()
	w := &timedWakeup{thread: t, done: make(chan struct{})}
	t.pendingWakeup = w
	k := t.kernel
	k.clock.ScheduleEventThreadsafe(k.clock.NsToCycles(nanoseconds), k.wakeupEvent, uint64(t.callbackHandle))
	return w
}

// cancelTimedWakeup unschedules the pending timed wakeup and completes its
// registration. Safe to call with no timer armed.
func (t *Thread) cancelTimedWakeup() {
	k := t.kernel
	k.clock.UnscheduleEvent(k.wakeupEvent, uint64(t.callbackHandle))
	if t.pendingWakeup != nil {
		t.pendingWakeup.finish(api.ErrCanceled)
		t.pendingWakeup = nil
	}
}

// threadWakeupCallback fires on the virtual clock when a timed wakeup
// comes due. It runs under the kernel lock. A handle that no longer
// resolves is a stale timer race: logged, never fatal.
func (k *System) threadWakeupCallback(userdata uint64, cyclesLate int64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t := k.wakeupHandles.get(Handle(userdata))
	if t == nil {
		k.log.Printf("wakeup callback fired for invalid thread handle %#08x", userdata)
		k.metricInc(metricStaleWakeups)
		return
	}
	if t.pendingWakeup != nil {
		t.pendingWakeup.finish(nil)
		t.pendingWakeup = nil
	}

	resume := true

	switch t.status {
	case ThreadStatusWaitSynchAny, ThreadStatusWaitSynchAll, ThreadStatusWaitHLEEvent:
		// Deregister from every waited object before any callback runs.
		for _, obj := range t.waitObjects {
			obj.removeWaitingThread(t)
		}
		t.waitObjects = nil
		if t.wakeupCallback != nil {
			resume = t.wakeupCallback(WakeupReasonTimeout, t, nil, 0)
		}
	}

	if t.mutexWaitAddress != 0 || t.condvarWaitAddress != 0 || t.waitHandle != 0 {
		assertf(t.status == ThreadStatusWaitMutex, "thread %s has mutex wait state in status %s", t.name, t.status)
		t.mutexWaitAddress = 0
		t.condvarWaitAddress = 0
		t.waitHandle = 0

		// A timeout does not run priority-inheritance release semantics;
		// only explicit signaling does. The thread simply leaves the
		// owner's waiter queue, which deflates the owner's boost.
		if t.lockOwner != nil {
			t.lockOwner.removeMutexWaiter(t)
		}
	}

	if t.arbWaitAddress != 0 {
		assertf(t.status == ThreadStatusWaitArb, "thread %s has arb wait state in status %s", t.name, t.status)
		t.arbWaitAddress = 0
	}

	if resume {
		t.resumeFromWait()
	}
}

// block removes a Running or Ready thread from dispatch ahead of a wait
// transition.
func (t *Thread) block() {
	switch t.status {
	case ThreadStatusRunning:
		if t.scheduler.current == t {
			t.scheduler.current = nil
			t.kernel.cores[t.processorID].PrepareReschedule()
		}
	case ThreadStatusReady:
		t.scheduler.unscheduleThread(t, t.currentPriority)
	case ThreadStatusDead:
		fatalf("dead thread %s cannot block", t.name)
	}
}

// BeginWait blocks the thread on the given wait objects. Wait-all waits
// for every object, wait-any for the first. Registration of both sides
// completes under the kernel lock, so a concurrent signal cannot observe
// a half-registered waiter.
func (t *Thread) BeginWait(objects []*WaitObject, waitAll bool, cb WakeupCallback) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	t.block()
	if waitAll {
		t.status = ThreadStatusWaitSynchAll
	} else {
		t.status = ThreadStatusWaitSynchAny
	}
	t.wakeupCallback = cb
	t.waitObjects = append([]*WaitObject(nil), objects...)
	for _, obj := range objects {
		obj.addWaitingThread(t)
	}
}

// BeginWaitHLEEvent blocks the thread on a single HLE event object.
func (t *Thread) BeginWaitHLEEvent(object *WaitObject, cb WakeupCallback) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	t.block()
	t.status = ThreadStatusWaitHLEEvent
	t.wakeupCallback = cb
	t.waitObjects = []*WaitObject{object}
	object.addWaitingThread(t)
}

// Sleep puts the thread into a timed sleep for the given virtual-time
// duration. The wait-forever sentinel sleeps until explicitly resumed.
func (t *Thread) Sleep(nanoseconds int64) {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	t.block()
	t.status = ThreadStatusWaitSleep
	if nanoseconds != waitForever {
		t.armTimedWakeup(nanoseconds)
	}
}

// allWaitObjectsReady reports whether none of the thread's registered
// objects would still block it, the wait-all resolution condition.
func (t *Thread) allWaitObjectsReady() bool {
	for _, obj := range t.waitObjects {
		if obj.shouldWait(t) {
			return false
		}
	}
	return true
}
