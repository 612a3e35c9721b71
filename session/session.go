// File: session/session.go
// Package session assembles the emulation core: virtual clock, kernel,
// and one host goroutine per emulated core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each core loop drives whichever guest thread its scheduler selected,
// honoring reschedule requests between slices. Guest instruction
// execution itself lives behind the CoreRunner hook; the session neither
// interprets nor JITs guest code.

package session

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/emukern/affinity"
	"github.com/momentics/emukern/control"
	"github.com/momentics/emukern/kernel"
	"github.com/momentics/emukern/timing"
)

// CoreRunner executes guest work for the thread currently running on a
// core, for at most sliceCycles virtual cycles. It is the boundary to the
// out-of-scope CPU interpretation layer.
type CoreRunner func(coreID int, t *kernel.Thread, sliceCycles int64)

// Config holds session parameters. Zero values fall back to the control
// store when one is attached, then to defaults.
type Config struct {
	Cores          int
	SliceCycles    int64
	PinHostThreads bool
	Logger         *log.Logger
	Metrics        *control.MetricsRegistry
	Control        *control.ConfigStore
}

const defaultSliceCycles = 50_000

// Session owns the lifetime of the kernel context and the per-core host
// loops.
type Session struct {
	cfg    Config
	log    *log.Logger
	clock  *timing.Clock
	system *kernel.System
	runner CoreRunner

	sliceCycles atomic.Int64

	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

// New builds a session around the given runner.
func New(cfg Config, runner CoreRunner) *Session {
	if cfg.Control != nil {
		if cfg.Cores == 0 {
			cfg.Cores = cfg.Control.GetInt(control.KeyCoreCount, kernel.DefaultCoreCount)
		}
		if cfg.SliceCycles == 0 {
			cfg.SliceCycles = int64(cfg.Control.GetInt(control.KeySliceCycles, defaultSliceCycles))
		}
		cfg.PinHostThreads = cfg.Control.GetBool(control.KeyPinHost, cfg.PinHostThreads)
	}
	if cfg.SliceCycles <= 0 {
		cfg.SliceCycles = defaultSliceCycles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}

	clock := timing.NewClock()
	s := &Session{
		cfg:    cfg,
		log:    logger,
		clock:  clock,
		runner: runner,
		system: kernel.NewSystem(kernel.Config{
			Cores:   cfg.Cores,
			Clock:   clock,
			Logger:  logger,
			Metrics: cfg.Metrics,
		}),
		shutdownCh: make(chan struct{}),
	}
	s.sliceCycles.Store(cfg.SliceCycles)

	// Slice length is a live knob; re-read it on config reloads.
	if cfg.Control != nil {
		cfg.Control.OnReload(func() {
			s.sliceCycles.Store(int64(cfg.Control.GetInt(control.KeySliceCycles, defaultSliceCycles)))
		})
	}
	return s
}

// System returns the kernel context.
func (s *Session) System() *kernel.System { return s.system }

// Clock returns the virtual clock.
func (s *Session) Clock() *timing.Clock { return s.clock }

// Run starts one host goroutine per emulated core and blocks until
// Shutdown. Core 0 additionally pumps the virtual clock, firing timed
// wakeups as guest time accumulates.
func (s *Session) Run() {
	for id := 0; id < s.system.CoreCount(); id++ {
		s.wg.Add(1)
		go s.coreLoop(id)
	}
	<-s.shutdownCh
	s.wg.Wait()
}

// Shutdown stops all core loops. Safe to call more than once.
func (s *Session) Shutdown() {
	s.once.Do(func() { close(s.shutdownCh) })
}

func (s *Session) coreLoop(coreID int) {
	defer s.wg.Done()

	if s.cfg.PinHostThreads {
		if err := affinity.Pin(coreID); err != nil {
			s.log.Printf("core %d: running unpinned: %v", coreID, err)
		}
		defer affinity.Unpin()
	}

	core := s.system.Core(coreID)
	sched := core.Scheduler()

	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}

		if core.ConsumeReschedule() || sched.GetCurrentThread() == nil {
			sched.Reschedule()
		}

		slice := s.sliceCycles.Load()
		if t := sched.GetCurrentThread(); t != nil {
			s.runner(coreID, t, slice)
		} else if !sched.HaveReadyThreads() {
			// Idle core: yield the host CPU instead of spinning.
			time.Sleep(100 * time.Microsecond)
		}

		// Guest time advances with core 0's slices.
		if coreID == 0 {
			s.clock.Advance(slice)
		}
	}
}
