package kernel_test

import (
	"testing"

	"github.com/momentics/emukern/kernel"
)

func TestSignalWakesFirstWaiterOnly(t *testing.T) {
	e := newTestEnv(t, 2)
	obj := e.sys.NewWaitObject(kernel.WaitObjectGeneric, "one-shot")

	first := e.create(t, "first", 10, 0)
	second := e.create(t, "second", 10, 1)
	e.startRunning(t, first)
	e.startRunning(t, second)

	first.BeginWait([]*kernel.WaitObject{obj}, false, nil)
	second.BeginWait([]*kernel.WaitObject{obj}, false, nil)

	obj.Signal()
	wantStatus(t, first, kernel.ThreadStatusReady)
	wantStatus(t, second, kernel.ThreadStatusWaitSynchAny)

	obj.Signal()
	wantStatus(t, second, kernel.ThreadStatusReady)
}

func TestHLEEventIsSticky(t *testing.T) {
	e := newTestEnv(t, 2)
	evt := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "sticky")

	a := e.create(t, "a", 10, 0)
	b := e.create(t, "b", 10, 1)
	e.startRunning(t, a)
	e.startRunning(t, b)

	a.BeginWaitHLEEvent(evt, nil)
	b.BeginWaitHLEEvent(evt, nil)

	evt.Signal()
	wantStatus(t, a, kernel.ThreadStatusReady)
	wantStatus(t, b, kernel.ThreadStatusReady)
}

func TestWaitAllNeedsEveryObject(t *testing.T) {
	e := newTestEnv(t, 1)
	ev1 := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "ev1")
	ev2 := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "ev2")

	th := e.create(t, "collector", 10, 0)
	e.startRunning(t, th)

	th.BeginWait([]*kernel.WaitObject{ev1, ev2}, true, nil)
	wantStatus(t, th, kernel.ThreadStatusWaitSynchAll)

	ev1.Signal()
	wantStatus(t, th, kernel.ThreadStatusWaitSynchAll)

	ev2.Signal()
	wantStatus(t, th, kernel.ThreadStatusReady)
}

func TestWaitAnyReportsSignaledIndex(t *testing.T) {
	e := newTestEnv(t, 1)
	ev1 := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "ev1")
	ev2 := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "ev2")

	th := e.create(t, "selector", 10, 0)
	e.startRunning(t, th)

	var gotReason kernel.WakeupReason
	gotIndex := -2
	th.BeginWait([]*kernel.WaitObject{ev1, ev2}, false,
		func(reason kernel.WakeupReason, t *kernel.Thread, obj *kernel.WaitObject, index int) bool {
			gotReason = reason
			gotIndex = index
			return true
		})

	ev2.Signal()
	wantStatus(t, th, kernel.ThreadStatusReady)
	if gotReason != kernel.WakeupReasonSignal || gotIndex != 1 {
		t.Errorf("callback got (%v, %d), want (signal, 1)", gotReason, gotIndex)
	}
}

func TestWakeupCallbackVeto(t *testing.T) {
	e := newTestEnv(t, 1)
	evt := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "vetoed")

	th := e.create(t, "stubborn", 10, 0)
	e.startRunning(t, th)

	th.BeginWaitHLEEvent(evt, func(kernel.WakeupReason, *kernel.Thread, *kernel.WaitObject, int) bool {
		return false
	})
	evt.Signal()

	// Vetoed: the thread stays in its wait state until re-signaled by
	// some other path.
	wantStatus(t, th, kernel.ThreadStatusWaitHLEEvent)
}

func TestEarlySignalCancelsTimedWakeup(t *testing.T) {
	e := newTestEnv(t, 1)
	evt := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "fast")

	th := e.create(t, "racer", 10, 0)
	e.startRunning(t, th)

	th.BeginWaitHLEEvent(evt, nil)
	th.WakeAfterDelay(1_000_000)
	evt.Signal()
	wantStatus(t, th, kernel.ThreadStatusReady)
	if got := e.clock.PendingEvents(); got != 0 {
		t.Fatalf("timed wakeups pending after signal resolution = %d, want 0", got)
	}

	// The old deadline must not disturb a later wait-forever sleep.
	e.startRunning(t, th)
	th.Sleep(int64(-1))
	e.clock.Advance(e.clock.NsToCycles(2_000_000))
	wantStatus(t, th, kernel.ThreadStatusWaitSleep)
}

func TestTimeoutDeregistersBeforeCallback(t *testing.T) {
	e := newTestEnv(t, 1)
	evt := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "slow")

	th := e.create(t, "impatient", 10, 0)
	e.startRunning(t, th)

	var reason kernel.WakeupReason
	th.BeginWaitHLEEvent(evt, func(r kernel.WakeupReason, t *kernel.Thread, obj *kernel.WaitObject, index int) bool {
		reason = r
		return true
	})
	th.WakeAfterDelay(1_000_000)
	e.clock.Advance(e.clock.NsToCycles(1_000_000))

	wantStatus(t, th, kernel.ThreadStatusReady)
	if reason != kernel.WakeupReasonTimeout {
		t.Errorf("reason = %v, want timeout", reason)
	}
	if got := len(evt.WaitingThreads()); got != 0 {
		t.Errorf("waiter list length = %d after timeout, want 0", got)
	}

	// A late signal must not wake the thread a second time.
	e.startRunning(t, th)
	evt.Signal()
	wantStatus(t, th, kernel.ThreadStatusRunning)
}

func TestResumeWhileRegisteredPanics(t *testing.T) {
	e := newTestEnv(t, 1)
	evt := e.sys.NewWaitObject(kernel.WaitObjectHLEEvent, "held")

	th := e.create(t, "entangled", 10, 0)
	e.startRunning(t, th)
	th.BeginWaitHLEEvent(evt, nil)

	mustPanic(t, "resume while registered", func() { th.ResumeFromWait() })
}
