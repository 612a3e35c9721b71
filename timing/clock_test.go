package timing_test

import (
	"testing"

	"github.com/momentics/emukern/timing"
)

func TestAdvanceFiresInDeadlineOrder(t *testing.T) {
	c := timing.NewClock()
	var fired []uint64
	et := c.RegisterEvent("test", func(userdata uint64, late int64) {
		fired = append(fired, userdata)
	})

	c.ScheduleEventThreadsafe(200, et, 2)
	c.ScheduleEventThreadsafe(100, et, 1)
	c.ScheduleEventThreadsafe(300, et, 3)

	c.Advance(250)
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", fired)
	}
	c.Advance(50)
	if len(fired) != 3 || fired[2] != 3 {
		t.Fatalf("fired = %v, want [1 2 3]", fired)
	}
	if c.GetTicks() != 300 {
		t.Errorf("ticks = %d, want 300", c.GetTicks())
	}
}

func TestSameDeadlineKeepsScheduleOrder(t *testing.T) {
	c := timing.NewClock()
	var fired []uint64
	et := c.RegisterEvent("test", func(userdata uint64, late int64) {
		fired = append(fired, userdata)
	})

	c.ScheduleEventThreadsafe(100, et, 7)
	c.ScheduleEventThreadsafe(100, et, 8)
	c.Advance(100)

	if len(fired) != 2 || fired[0] != 7 || fired[1] != 8 {
		t.Fatalf("fired = %v, want [7 8]", fired)
	}
}

func TestUnscheduleRemovesAllMatches(t *testing.T) {
	c := timing.NewClock()
	fired := 0
	et := c.RegisterEvent("test", func(userdata uint64, late int64) { fired++ })

	c.ScheduleEventThreadsafe(100, et, 1)
	c.ScheduleEventThreadsafe(200, et, 1)
	c.ScheduleEventThreadsafe(150, et, 2)
	c.UnscheduleEvent(et, 1)

	if got := c.PendingEvents(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	c.Advance(1000)
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

func TestCallbackMayReschedule(t *testing.T) {
	c := timing.NewClock()
	fired := 0
	var chain func(userdata uint64, late int64)
	et := c.RegisterEvent("chain", func(userdata uint64, late int64) {
		chain(userdata, late)
	})
	chain = func(userdata uint64, late int64) {
		fired++
		if fired < 3 {
			c.ScheduleEventThreadsafe(10, et, userdata)
		}
	}

	c.ScheduleEventThreadsafe(10, et, 0)
	c.Advance(100)
	if fired != 3 {
		t.Errorf("fired = %d, want 3", fired)
	}
}

func TestNsToCycles(t *testing.T) {
	c := timing.NewClock()
	if got := c.NsToCycles(1_000_000_000); got != timing.BaseClockRate {
		t.Errorf("NsToCycles(1s) = %d, want %d", got, timing.BaseClockRate)
	}
	if got := c.NsToCycles(0); got != 0 {
		t.Errorf("NsToCycles(0) = %d, want 0", got)
	}
}
