package kernel_test

import (
	"io"
	"log"
	"testing"

	"github.com/momentics/emukern/api"
	"github.com/momentics/emukern/control"
	"github.com/momentics/emukern/kernel"
	"github.com/momentics/emukern/timing"
)

const (
	testEntry api.VAddr = 0x10_0000
	testStack api.VAddr = 0x8000_0000
)

// fakeMemory accepts every address except those explicitly marked invalid.
type fakeMemory struct {
	invalid map[api.VAddr]bool
	mapped  int
}

func (m *fakeMemory) IsValidVirtualAddress(addr api.VAddr) bool {
	return !m.invalid[addr]
}

func (m *fakeMemory) MapTLSPage(base api.VAddr) error {
	m.mapped++
	return nil
}

func (m *fakeMemory) UnmapTLSPage(base api.VAddr) error {
	m.mapped--
	return nil
}

type testEnv struct {
	sys     *kernel.System
	clock   *timing.Clock
	proc    *kernel.Process
	mem     *fakeMemory
	metrics *control.MetricsRegistry
}

func newTestEnv(t *testing.T, cores int) *testEnv {
	t.Helper()
	clock := timing.NewClock()
	metrics := control.NewMetricsRegistry()
	sys := kernel.NewSystem(kernel.Config{
		Cores:   cores,
		Clock:   clock,
		Logger:  log.New(io.Discard, "", 0),
		Metrics: metrics,
	})
	mem := &fakeMemory{invalid: make(map[api.VAddr]bool)}
	return &testEnv{
		sys:     sys,
		clock:   clock,
		proc:    sys.NewProcess("test", mem),
		mem:     mem,
		metrics: metrics,
	}
}

func (e *testEnv) create(t *testing.T, name string, prio kernel.Priority, core int) *kernel.Thread {
	t.Helper()
	th, err := e.sys.CreateThread(name, testEntry, prio, 0, core, testStack, e.proc)
	if err != nil {
		t.Fatalf("CreateThread(%s): %v", name, err)
	}
	return th
}

// startRunning resumes th and dispatches it on its core, failing the test
// if the scheduler picks someone else.
func (e *testEnv) startRunning(t *testing.T, th *kernel.Thread) {
	t.Helper()
	th.ResumeFromWait()
	got := e.sys.Scheduler(th.ProcessorID()).Reschedule()
	if got != th {
		t.Fatalf("core %d dispatched %v, want %s", th.ProcessorID(), got, th.Name())
	}
}

func wantStatus(t *testing.T, th *kernel.Thread, want kernel.ThreadStatus) {
	t.Helper()
	if got := th.Status(); got != want {
		t.Fatalf("thread %s status = %s, want %s", th.Name(), got, want)
	}
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected a kernel assertion panic", name)
		}
	}()
	fn()
}
