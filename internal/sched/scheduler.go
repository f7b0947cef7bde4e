// Package sched provides the discrete-event scheduler driving the
// clustering protocol. All simulated activity is callbacks ordered by
// target simulation time; callbacks scheduled for the same instant run in
// the order they were enqueued.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation.
//
// The main simulation loop advances the time controller and calls RunDue()
// after each advance. Protocol components use Schedule / Repeat / Cancel to
// manage their time-based actions (rounds, failure checks, per-member
// sends, energy reports).
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time, delegated to the SimClock.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now(). Events
	// sharing a timestamp run in enqueue order. Safe to call repeatedly;
	// an event never runs twice.
	RunDue()
}

// Metrics receives scheduler instrumentation callbacks. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// SetQueueDepth reports the number of pending, non-cancelled events.
	SetQueueDepth(n int)
	// EventExecuted reports one executed event and how far behind its
	// target time it fired.
	EventExecuted(lag time.Duration)
	// EventCancelled reports one cancelled event.
	EventCancelled()
}

// Option configures an EventScheduler.
type Option func(*eventScheduler)

// WithMetrics instruments the scheduler with the given recorder.
func WithMetrics(m Metrics) Option {
	return func(s *eventScheduler) {
		s.metrics = m
	}
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Time
	seq       uint64
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock   timectrl.SimClock
	metrics Metrics

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by (when, seq), earliest first
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler backed by the given SimClock. Tests
// typically pass a fake clock; production runs pass the TimeController.
func NewEventScheduler(clock timectrl.SimClock, opts ...Option) EventScheduler {
	s := &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		seq:  s.counter,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev
	s.reportQueueDepthLocked()

	return id
}

// reportQueueDepthLocked pushes the pending-event count to the metrics
// recorder, if any. Caller must hold s.mu.
func (s *eventScheduler) reportQueueDepthLocked() {
	if s.metrics != nil {
		s.metrics.SetQueueDepth(len(s.index))
	}
}

// addEventLocked inserts an event keeping (when, seq) order. Inserting
// after all events with an equal timestamp preserves the FIFO tie-break.
// Caller must hold s.mu.
func (s *eventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; RunDue skips cancelled events.
	if s.metrics != nil {
		s.metrics.EventCancelled()
	}
	s.reportQueueDepthLocked()
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// popNextLocked removes and returns the earliest due, non-cancelled event,
// or nil when nothing is due. Caller must hold s.mu.
func (s *eventScheduler) popNextLocked() *scheduledEvent {
	now := s.clock.Now()
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if !ev.when.After(now) {
			s.events = s.events[1:]
			return ev
		}
		// Events are ordered, so everything after this is later still.
		break
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popNextLocked()
		if ev == nil {
			s.mu.Unlock()
			return
		}
		delete(s.index, ev.id)
		s.reportQueueDepthLocked()
		lag := s.clock.Now().Sub(ev.when)
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.EventExecuted(lag)
		}

		// Execute outside the lock so callbacks can schedule or cancel
		// further events.
		if ev.f != nil {
			ev.f()
		}
	}
}
