// File: kernel/kernel.go
// Package kernel implements the thread lifecycle and scheduling core of
// the emulator: multi-core affinity-aware placement, wait objects,
// priority-inheriting mutexes and virtual-clock timed wakeups.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// All kernel state hangs off an explicitly constructed System, never a
// package-level singleton. Every mutation is serialized behind one
// coarse-grained lock: kernel operations are short and infrequent relative
// to guest instruction execution, so the lock trades parallelism for
// correctness simplicity. Exported methods acquire the lock; unexported
// ones document that they expect it held.

package kernel

import (
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/momentics/emukern/api"
	"github.com/momentics/emukern/control"
)

// DefaultCoreCount is the number of emulated cores unless configured.
const DefaultCoreCount = 4

// Metric keys published to the control registry.
const (
	metricContextSwitches = "kernel.context_switches"
	metricThreadsCreated  = "kernel.threads_created"
	metricThreadWakeups   = "kernel.thread_wakeups"
	metricStaleWakeups    = "kernel.stale_wakeups"
	metricReschedules     = "kernel.reschedule_requests"
)

// Config carries the collaborators and knobs for a System.
type Config struct {
	// Cores is the emulated core count; DefaultCoreCount when zero.
	Cores int
	// Clock is the virtual clock driving timed wakeups. Required.
	Clock api.Clock
	// Logger receives kernel diagnostics; stderr when nil.
	Logger *log.Logger
	// Metrics, when set, receives kernel counters.
	Metrics *control.MetricsRegistry
}

// Core pairs an emulated core's scheduler with its reschedule signal.
type Core struct {
	id      int
	sched   *Scheduler
	resched atomic.Bool
}

// ID returns the emulated core index.
func (c *Core) ID() int { return c.id }

// Scheduler returns this core's scheduler.
func (c *Core) Scheduler() *Scheduler { return c.sched }

// PrepareReschedule asks this core's execution loop to re-poll its next
// thread at the next opportunity.
func (c *Core) PrepareReschedule() {
	c.resched.Store(true)
}

// ConsumeReschedule reports and clears a pending reschedule request.
func (c *Core) ConsumeReschedule() bool {
	return c.resched.Swap(false)
}

// System is the kernel context object. Its lifetime is owned by the
// top-level emulation session.
type System struct {
	mu    sync.Mutex // the global kernel HLE lock
	clock api.Clock
	log   *log.Logger

	metrics *control.MetricsRegistry

	cores []*Core

	// wakeupHandles keys pending timed wakeups; guestHandles backs
	// guest-visible thread handles (register 1 of the main thread).
	wakeupHandles *handleTable
	guestHandles  *handleTable
	wakeupEvent   api.EventType

	nextThreadID uint64
}

// NewSystem constructs the kernel around the given collaborators and
// registers its wakeup callback with the virtual clock.
func NewSystem(cfg Config) *System {
	if cfg.Clock == nil {
		fatalf("Config.Clock is required")
	}
	cores := cfg.Cores
	if cores <= 0 {
		cores = DefaultCoreCount
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[kernel] ", log.LstdFlags)
	}
	k := &System{
		clock:         cfg.Clock,
		log:           logger,
		metrics:       cfg.Metrics,
		wakeupHandles: newHandleTable(),
		guestHandles:  newHandleTable(),
	}
	for i := 0; i < cores; i++ {
		k.cores = append(k.cores, &Core{id: i, sched: newScheduler(k, i)})
	}
	k.wakeupEvent = k.clock.RegisterEvent("ThreadWakeupCallback", k.threadWakeupCallback)
	return k
}

// CoreCount returns the number of emulated cores.
func (k *System) CoreCount() int { return len(k.cores) }

// Core returns the emulated core with the given index.
func (k *System) Core(id int) *Core {
	assertf(id >= 0 && id < len(k.cores), "core index %d out of range", id)
	return k.cores[id]
}

// Scheduler returns the per-core scheduler for the given core index.
func (k *System) Scheduler(id int) *Scheduler {
	return k.Core(id).sched
}

// Clock returns the virtual clock the kernel was built around.
func (k *System) Clock() api.Clock { return k.clock }

// CurrentContext returns the saved execution context of whichever thread
// is Running on the given core, for the execution loop to drive. Nil when
// the core is idle.
func (k *System) CurrentContext(coreID int) *api.ThreadContext {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.Core(coreID).sched.current
	if t == nil {
		return nil
	}
	return &t.context
}

// LookupGuestHandle resolves a guest-visible thread handle.
func (k *System) LookupGuestHandle(h Handle) *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.guestHandles.get(h)
}

// validProcessorID reports whether id names an emulated core.
func (k *System) validProcessorID(id int) bool {
	return id >= 0 && id < len(k.cores)
}

// nextProcessorID scans cores in increasing index order and returns the
// first one enabled in mask with no running thread, or -1 when every
// eligible core is busy. The lowest-index tie-break is deliberate: guest
// software may depend on deterministic placement order.
func (k *System) nextProcessorID(mask uint64) int {
	for id := range k.cores {
		if mask&(1<<id) == 0 {
			continue
		}
		if k.cores[id].sched.current == nil {
			return id
		}
	}
	return -1
}

// metricInc bumps a kernel counter when a registry is attached.
func (k *System) metricInc(key string) {
	if k.metrics != nil {
		k.metrics.Inc(key, 1)
	}
}
