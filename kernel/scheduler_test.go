package kernel_test

import (
	"testing"

	"github.com/momentics/emukern/kernel"
)

func TestPlacementFallsToFirstFreeCore(t *testing.T) {
	e := newTestEnv(t, 4)

	// Cores 0-2 busy, core 3 idle.
	for core := 0; core < 3; core++ {
		e.startRunning(t, e.create(t, "busy", 10, core))
	}

	th := e.create(t, "drifter", 10, 0)
	th.ChangeCore(-1, 0b1111)
	th.ResumeFromWait()

	if th.ProcessorID() != 3 {
		t.Errorf("placement = core %d, want 3", th.ProcessorID())
	}
}

func TestPlacementIdealCoreOverridesFreeScan(t *testing.T) {
	e := newTestEnv(t, 4)

	// Core 0 and core 2 are both idle; the free-core scan would pick 0,
	// but the ideal core wins while it has no running thread.
	th := e.create(t, "picky", 10, 0)
	th.ChangeCore(2, 0b1111)
	th.ResumeFromWait()

	if th.ProcessorID() != 2 {
		t.Errorf("placement = core %d, want ideal core 2", th.ProcessorID())
	}
}

func TestPlacementKeepsPreviousCoreWhenAllBusy(t *testing.T) {
	e := newTestEnv(t, 2)
	for core := 0; core < 2; core++ {
		e.startRunning(t, e.create(t, "busy", 10, core))
	}

	th := e.create(t, "patient", 20, 1)
	th.ChangeCore(-1, 0b11)
	th.ResumeFromWait()

	if th.ProcessorID() != 1 {
		t.Errorf("placement = core %d, want previous core 1", th.ProcessorID())
	}
	wantStatus(t, th, kernel.ThreadStatusReady)
}

func TestChangeCoreMovesReadyThread(t *testing.T) {
	e := newTestEnv(t, 4)
	th := e.create(t, "mover", 10, 0)
	th.ResumeFromWait()
	if th.ProcessorID() != 0 {
		t.Fatalf("start core = %d, want 0", th.ProcessorID())
	}

	th.ChangeCore(3, 0b1000)
	if th.ProcessorID() != 3 {
		t.Errorf("after ChangeCore: core %d, want 3", th.ProcessorID())
	}
	// The thread must now be dispatchable on core 3, not core 0.
	if got := e.sys.Scheduler(0).Reschedule(); got != nil {
		t.Errorf("core 0 dispatched %v, want idle", got)
	}
	if got := e.sys.Scheduler(3).Reschedule(); got != th {
		t.Errorf("core 3 dispatched %v, want mover", got)
	}
}

func TestDispatchHonorsPriorityThenFIFO(t *testing.T) {
	e := newTestEnv(t, 1)
	low := e.create(t, "low", 40, 0)
	first := e.create(t, "first", 10, 0)
	second := e.create(t, "second", 10, 0)

	low.ResumeFromWait()
	first.ResumeFromWait()
	second.ResumeFromWait()

	sched := e.sys.Scheduler(0)
	if got := sched.Reschedule(); got != first {
		t.Fatalf("dispatch 1 = %v, want first", got)
	}
	first.Sleep(int64(-1))
	if got := sched.Reschedule(); got != second {
		t.Fatalf("dispatch 2 = %v, want second", got)
	}
	second.Sleep(int64(-1))
	if got := sched.Reschedule(); got != low {
		t.Fatalf("dispatch 3 = %v, want low", got)
	}
}

func TestHigherPriorityWakeupPreempts(t *testing.T) {
	e := newTestEnv(t, 1)
	bg := e.create(t, "background", 40, 0)
	e.startRunning(t, bg)

	urgent := e.create(t, "urgent", 5, 0)
	urgent.ResumeFromWait()

	core := e.sys.Core(0)
	if !core.ConsumeReschedule() {
		t.Fatal("wakeup did not request a reschedule")
	}
	if got := core.Scheduler().Reschedule(); got != urgent {
		t.Fatalf("dispatch = %v, want urgent", got)
	}
	// The preempted thread went back to Ready, not limbo.
	wantStatus(t, bg, kernel.ThreadStatusReady)
}

func TestEqualPriorityKeepsRunningThread(t *testing.T) {
	e := newTestEnv(t, 1)
	a := e.create(t, "a", 10, 0)
	e.startRunning(t, a)

	b := e.create(t, "b", 10, 0)
	b.ResumeFromWait()

	if got := e.sys.Scheduler(0).Reschedule(); got != a {
		t.Errorf("dispatch = %v, want a to keep running on equal priority", got)
	}
}

func TestBoostPriorityReordersReadyQueue(t *testing.T) {
	e := newTestEnv(t, 1)
	a := e.create(t, "a", 20, 0)
	b := e.create(t, "b", 10, 0)
	a.ResumeFromWait()
	b.ResumeFromWait()

	a.BoostPriority(1)

	if got := e.sys.Scheduler(0).Reschedule(); got != a {
		t.Fatalf("dispatch = %v, want boosted a", got)
	}
	if _, current := a.Priorities(); current != 1 {
		t.Errorf("current priority = %d, want 1", current)
	}
}

func TestContextSwitchMetrics(t *testing.T) {
	e := newTestEnv(t, 1)
	th := e.create(t, "counted", 10, 0)
	e.startRunning(t, th)

	if e.metrics.Counter("kernel.context_switches") == 0 {
		t.Error("context switch not counted")
	}
	if e.metrics.Counter("kernel.threads_created") != 1 {
		t.Error("thread creation not counted")
	}
}
