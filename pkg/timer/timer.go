package timer

import (
	"sync"
	"time"
)

// Handle represents a scheduled single-shot callback that can be cancelled
// before it fires.
type Handle interface {
	// Cancel stops the callback from firing. It reports whether the
	// cancellation happened before the callback started.
	Cancel() bool
}

// Scheduler schedules single-shot callbacks. The production implementation is
// backed by time.AfterFunc; tests substitute a Manual scheduler that fires on
// demand.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Handle
}

type realHandle struct {
	t *time.Timer
}

func (h *realHandle) Cancel() bool {
	return h.t.Stop()
}

type realScheduler struct{}

// NewScheduler returns a Scheduler backed by the runtime timer heap.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) Schedule(d time.Duration, fn func()) Handle {
	return &realHandle{t: time.AfterFunc(d, fn)}
}

// Debouncer owns a single pending callback and rearms it with a
// clear-then-reschedule discipline: Reset always cancels the pending callback
// before scheduling the next one, so the callback can never fire twice for
// one quiet period.
type Debouncer struct {
	sched Scheduler
	delay time.Duration

	mu      sync.Mutex
	pending Handle
}

// NewDebouncer creates a Debouncer that fires delay after the most recent
// Reset with no further Resets.
func NewDebouncer(sched Scheduler, delay time.Duration) *Debouncer {
	return &Debouncer{sched: sched, delay: delay}
}

// Reset cancels any pending callback and schedules fn after the configured
// delay.
func (d *Debouncer) Reset(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Cancel()
	}
	d.pending = d.sched.Schedule(d.delay, fn)
}

// Stop cancels the pending callback, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Cancel()
		d.pending = nil
	}
}

// Delay returns the configured quiet window.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}
