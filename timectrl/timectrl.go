package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Protocol
// components depend on this abstraction rather than the concrete time
// controller so tests can substitute a fake clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once the
	// duration d has elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)
	timers    []*simTimer
}

type simTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// After returns a channel that receives the simulation time once d has
// elapsed in simulation time. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	t := &simTimer{
		deadline: tc.currentTime.Add(d),
		ch:       make(chan time.Time, 1),
	}
	tc.timers = append(tc.timers, t)
	return t.ch
}

// SetTime jumps simulation time to now, firing any timers that became due.
// Primarily used by tests and scenario replay.
func (tc *TimeController) SetTime(now time.Time) {
	tc.mu.Lock()
	tc.currentTime = now
	fired := tc.fireDueTimersLocked(now)
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, t := range fired {
		t.ch <- now
	}
	for _, fn := range listeners {
		fn(now)
	}
}

// fireDueTimersLocked removes due timers from the list and returns them.
// Caller must hold tc.mu.
func (tc *TimeController) fireDueTimersLocked(now time.Time) []*simTimer {
	var due []*simTimer
	kept := tc.timers[:0]
	for _, t := range tc.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	tc.timers = kept
	return due
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for the specified duration in a separate
// goroutine. It returns a channel that is closed when the controller
// finishes. In Accelerated mode the tick loop runs as fast as listeners
// allow; in RealTime mode each tick waits out its wall-clock duration.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		elapsed := time.Duration(0)

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			if ticker != nil {
				<-ticker.C
			}
			simTime = simTime.Add(tc.Tick)
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.currentTime = simTime
			fired := tc.fireDueTimersLocked(simTime)
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.Unlock()

			for _, t := range fired {
				t.ch <- simTime
			}
			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}
