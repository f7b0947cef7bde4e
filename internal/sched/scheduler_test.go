package sched

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a minimal test-only implementation of SimClock.
type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	// Not used in these tests; simple stub is fine.
	ch := make(chan time.Time, 1)
	return ch
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEventSchedulerSingleEvent(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	var counter int
	t1 := testStart.Add(10 * time.Second)
	id := sched.Schedule(t1, func() { counter++ })
	if id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	sched.RunDue()
	if counter != 0 {
		t.Fatalf("event fired before its time, counter=%d", counter)
	}

	clock.AdvanceTo(t1)
	sched.RunDue()
	if counter != 1 {
		t.Fatalf("counter = %d after due time, want 1", counter)
	}

	// Re-running must not fire the event again.
	sched.RunDue()
	if counter != 1 {
		t.Fatalf("event ran twice, counter=%d", counter)
	}
}

func TestEventSchedulerFIFOAtSameTimestamp(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	at := testStart.Add(time.Second)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		sched.Schedule(at, func() { order = append(order, i) })
	}

	clock.AdvanceTo(at)
	sched.RunDue()

	if len(order) != 5 {
		t.Fatalf("ran %d events, want 5", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("same-timestamp events ran out of enqueue order: %v", order)
		}
	}
}

func TestEventSchedulerOrderingAcrossTimestamps(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	var order []string
	// Enqueue later event first; it must still run second.
	sched.Schedule(testStart.Add(2*time.Second), func() { order = append(order, "late") })
	sched.Schedule(testStart.Add(time.Second), func() { order = append(order, "early") })

	clock.AdvanceTo(testStart.Add(5 * time.Second))
	sched.RunDue()

	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("order = %v, want [early late]", order)
	}
}

func TestEventSchedulerCancel(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	fired := false
	id := sched.Schedule(testStart.Add(time.Second), func() { fired = true })
	sched.Cancel(id)
	// Unknown IDs are ignored.
	sched.Cancel("ev-9999")

	clock.AdvanceTo(testStart.Add(time.Minute))
	sched.RunDue()
	if fired {
		t.Fatalf("cancelled event still fired")
	}
}

func TestEventSchedulerReentrantSchedule(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	var fires int
	sched.Schedule(testStart, func() {
		fires++
		// Schedule a follow-up due at the same instant; RunDue must pick
		// it up in the same pass.
		sched.Schedule(testStart, func() { fires++ })
	})

	sched.RunDue()
	if fires != 2 {
		t.Fatalf("fires = %d, want 2 (follow-up in same pass)", fires)
	}
}

func TestRepeatFiresEveryInterval(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	var fires []time.Time
	Repeat(sched, testStart.Add(time.Second), time.Second, func(now time.Time) {
		fires = append(fires, now)
	})

	clock.AdvanceTo(testStart.Add(3 * time.Second))
	sched.RunDue()

	if len(fires) != 3 {
		t.Fatalf("fired %d times, want 3", len(fires))
	}
	for i, at := range fires {
		want := testStart.Add(time.Duration(i+1) * time.Second)
		if !at.Equal(want) {
			t.Fatalf("fire %d at %v, want %v", i, at, want)
		}
	}
}

func TestRepeatCancelStopsFiring(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	fires := 0
	handle := Repeat(sched, testStart.Add(time.Second), time.Second, func(time.Time) {
		fires++
	})

	clock.AdvanceTo(testStart.Add(2 * time.Second))
	sched.RunDue()
	if fires != 2 {
		t.Fatalf("fires = %d before cancel, want 2", fires)
	}

	handle.Cancel()
	if !handle.Cancelled() {
		t.Fatalf("handle not marked cancelled")
	}

	clock.AdvanceTo(testStart.Add(time.Minute))
	sched.RunDue()
	if fires != 2 {
		t.Fatalf("fires = %d after cancel, want 2", fires)
	}

	// A second cancel is a no-op.
	handle.Cancel()
}

func TestRepeatCancelFromInsideCallback(t *testing.T) {
	clock := newFakeClock(testStart)
	sched := NewEventScheduler(clock)

	fires := 0
	var handle *RepeatHandle
	handle = Repeat(sched, testStart, time.Second, func(time.Time) {
		fires++
		if fires == 2 {
			handle.Cancel()
		}
	})

	clock.AdvanceTo(testStart.Add(10 * time.Second))
	sched.RunDue()
	if fires != 2 {
		t.Fatalf("fires = %d, want 2 (self-cancel after second fire)", fires)
	}
}
