package sched

import (
	"sync"
	"time"
)

// RepeatHandle is the cancellation token for a self-rescheduling task. The
// token is checked at the top of every fire, before the callback runs or
// re-enqueues, so cancelling a handle guarantees no further fires even when
// the next occurrence is already sitting in the queue.
type RepeatHandle struct {
	mu        sync.Mutex
	scheduler EventScheduler
	pendingID string
	cancelled bool
}

// Cancel stops the repeating task. Idempotent.
func (h *RepeatHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.cancelled = true
	if h.pendingID != "" {
		h.scheduler.Cancel(h.pendingID)
		h.pendingID = ""
	}
}

// Cancelled reports whether Cancel has been called.
func (h *RepeatHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Repeat schedules fn to first run at start and then every interval of
// simulation time, indefinitely, until the returned handle is cancelled.
// Each fire re-enqueues the next occurrence before invoking fn, matching
// the self-rescheduling communication pattern of the protocol.
func Repeat(s EventScheduler, start time.Time, every time.Duration, fn func(now time.Time)) *RepeatHandle {
	handle := &RepeatHandle{scheduler: s}

	var fire func(at time.Time) func()
	fire = func(at time.Time) func() {
		return func() {
			handle.mu.Lock()
			if handle.cancelled {
				handle.mu.Unlock()
				return
			}
			next := at.Add(every)
			handle.pendingID = s.Schedule(next, fire(next))
			handle.mu.Unlock()

			fn(at)
		}
	}

	handle.mu.Lock()
	handle.pendingID = s.Schedule(start, fire(start))
	handle.mu.Unlock()
	return handle
}
