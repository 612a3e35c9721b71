// File: kernel/scheduler.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-core scheduler. Each emulated core owns one Scheduler: a tracking
// set of all threads assigned to the core, a 64-level priority ready queue
// and the pointer to the thread currently executing on that core. The
// ready queue and the tracking set are logically separate collections;
// moving a thread between cores edits both in two steps.

package kernel

import (
	"math/bits"

	"github.com/eapache/queue"
)

// prioQueue is a priority-bucketed ready queue: one FIFO per priority
// level with a bitmask of non-empty levels for O(1) highest-priority
// lookup. Threads of equal priority run in insertion order.
type prioQueue struct {
	buckets  [PriorityCount]*queue.Queue
	nonEmpty uint64
}

func (pq *prioQueue) push(t *Thread, prio Priority) {
	if pq.buckets[prio] == nil {
		pq.buckets[prio] = queue.New()
	}
	pq.buckets[prio].Add(t)
	pq.nonEmpty |= 1 << prio
}

// remove drops t from the prio bucket, preserving the order of the
// remaining entries. Reports whether t was present.
func (pq *prioQueue) remove(t *Thread, prio Priority) bool {
	q := pq.buckets[prio]
	if q == nil {
		return false
	}
	found := false
	for n := q.Length(); n > 0; n-- {
		e := q.Remove().(*Thread)
		if e == t && !found {
			found = true
			continue
		}
		q.Add(e)
	}
	if q.Length() == 0 {
		pq.nonEmpty &^= 1 << prio
	}
	return found
}

// front returns the first thread of the highest-priority non-empty bucket,
// or nil when the queue is empty.
func (pq *prioQueue) front() *Thread {
	if pq.nonEmpty == 0 {
		return nil
	}
	prio := bits.TrailingZeros64(pq.nonEmpty)
	return pq.buckets[prio].Peek().(*Thread)
}

// contains reports whether t sits in the prio bucket.
func (pq *prioQueue) contains(t *Thread, prio Priority) bool {
	q := pq.buckets[prio]
	if q == nil {
		return false
	}
	for i := 0; i < q.Length(); i++ {
		if q.Get(i).(*Thread) == t {
			return true
		}
	}
	return false
}

// Scheduler owns the ready-thread bookkeeping of one emulated core.
// Unexported methods require the kernel lock.
type Scheduler struct {
	kernel  *System
	coreID  int
	threads []*Thread // tracking set: every thread assigned to this core
	ready   prioQueue
	current *Thread
}

func newScheduler(k *System, coreID int) *Scheduler {
	return &Scheduler{kernel: k, coreID: coreID}
}

// CoreID returns the emulated core index this scheduler serves.
func (s *Scheduler) CoreID() int { return s.coreID }

// GetCurrentThread returns the thread currently executing on this core,
// or nil when the core is idle.
func (s *Scheduler) GetCurrentThread() *Thread {
	s.kernel.mu.Lock()
	defer s.kernel.mu.Unlock()
	return s.current
}

// HaveReadyThreads reports whether any thread is queued to run.
func (s *Scheduler) HaveReadyThreads() bool {
	s.kernel.mu.Lock()
	defer s.kernel.mu.Unlock()
	return s.ready.nonEmpty != 0
}

// addThread registers t in this core's tracking set.
func (s *Scheduler) addThread(t *Thread) {
	s.threads = append(s.threads, t)
}

// removeThread drops t from this core's tracking set.
func (s *Scheduler) removeThread(t *Thread) {
	for i, e := range s.threads {
		if e == t {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			return
		}
	}
}

// scheduleThread inserts t into the ready queue at prio.
func (s *Scheduler) scheduleThread(t *Thread, prio Priority) {
	assertf(!s.ready.contains(t, prio), "thread %s scheduled twice on core %d", t.name, s.coreID)
	s.ready.push(t, prio)
}

// unscheduleThread removes t from the ready queue. Absence is tolerated:
// wait-resolution unschedules unconditionally before re-scheduling.
func (s *Scheduler) unscheduleThread(t *Thread, prio Priority) {
	s.ready.remove(t, prio)
}

// setThreadPriority re-sorts t into the prio bucket if it is Ready.
// Called before t.currentPriority is updated, so the old bucket is still
// derivable from the thread.
func (s *Scheduler) setThreadPriority(t *Thread, prio Priority) {
	if t.status == ThreadStatusReady {
		s.ready.remove(t, t.currentPriority)
		s.ready.push(t, prio)
	}
}

// popNextReadyThread picks the thread to run next: the head of the
// highest-priority bucket, unless the currently running thread outranks
// it. Equal priority keeps the running thread; yielding is explicit.
func (s *Scheduler) popNextReadyThread() *Thread {
	next := s.ready.front()
	if s.current != nil && s.current.status == ThreadStatusRunning {
		if next == nil || s.current.currentPriority <= next.currentPriority {
			return s.current
		}
	}
	return next
}

// switchContext makes next the running thread of this core. The outgoing
// thread, if still Running, goes back to Ready at its effective priority.
func (s *Scheduler) switchContext(next *Thread) {
	prev := s.current
	if prev == next {
		return
	}
	if prev != nil && prev.status == ThreadStatusRunning {
		prev.status = ThreadStatusReady
		s.ready.push(prev, prev.currentPriority)
	}
	if next != nil {
		s.ready.remove(next, next.currentPriority)
		next.status = ThreadStatusRunning
		next.lastRunningTicks = s.kernel.clock.GetTicks()
	}
	s.current = next
	s.kernel.metricInc(metricContextSwitches)
}

// Reschedule re-evaluates this core's running thread and returns it.
// Exposed to the per-core execution loop, which calls it after a
// PrepareReschedule signal.
func (s *Scheduler) Reschedule() *Thread {
	s.kernel.mu.Lock()
	defer s.kernel.mu.Unlock()
	s.switchContext(s.popNextReadyThread())
	return s.current
}
