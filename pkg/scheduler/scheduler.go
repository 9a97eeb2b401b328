package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMargin is how long before a deadline the coarse timer is aimed. The
// remaining gap is closed with cooperative yields.
const DefaultMargin = 2 * time.Millisecond

// TickFunc observes each tick with its nominal deadline and the time the
// callback was actually dispatched. It runs on the loop goroutine right before
// the job callback and must not block.
type TickFunc func(deadline, actual time.Time)

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMargin sets the correction margin. Wakeups that arrive earlier than
// margin before the deadline yield instead of firing.
func WithMargin(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.margin = d
		}
	}
}

// WithoutCorrection disables the cooperative-yield correction: ticks fire on
// the coarse timer alone. Deadlines still advance by a fixed step.
func WithoutCorrection() Option {
	return func(s *Scheduler) {
		s.correct = false
		s.margin = 0
	}
}

// WithClock overrides the time source. The default is [time.Now], which
// carries a monotonic reading.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickObserver registers fn to observe every tick of every job.
func WithTickObserver(fn TickFunc) Option {
	return func(s *Scheduler) { s.onTick = fn }
}

// Scheduler starts drift-corrected periodic jobs on a [Loop].
type Scheduler struct {
	loop    *Loop
	margin  time.Duration
	correct bool
	now     func() time.Time
	onTick  TickFunc
}

// New returns a Scheduler whose jobs run on loop.
func New(loop *Loop, opts ...Option) *Scheduler {
	s := &Scheduler{
		loop:    loop,
		margin:  DefaultMargin,
		correct: true,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Loop returns the loop the scheduler runs its jobs on.
func (s *Scheduler) Loop() *Loop { return s.loop }

// Start registers callback to run every interval. The first tick is due one
// interval from now. callback runs on the loop goroutine and must not block.
func (s *Scheduler) Start(callback func(), interval time.Duration) *Handle {
	h := &Handle{
		s:        s,
		callback: callback,
		interval: interval,
	}
	h.mu.Lock()
	h.next = s.now().Add(interval)
	h.timer = s.loop.After(interval-s.margin, h.wake)
	h.mu.Unlock()
	return h
}

// Handle is one active periodic job returned by [Scheduler.Start].
//
// Handle is safe for concurrent use; [Handle.Clear] may be called from inside
// the job's own callback.
type Handle struct {
	s        *Scheduler
	callback func()
	interval time.Duration

	mu      sync.Mutex
	next    time.Time
	timer   *Timer     // pending coarse wakeup, or nil
	yield   *Immediate // pending cooperative recheck, or nil
	cleared bool

	ticks atomic.Int64
}

// Interval returns the job's period.
func (h *Handle) Interval() time.Duration { return h.interval }

// Ticks returns how many times the callback has been invoked.
func (h *Handle) Ticks() int64 { return h.ticks.Load() }

// NextDeadline returns the absolute time of the next tick.
func (h *Handle) NextDeadline() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

// Clear cancels the job and whichever wakeup is pending. It is idempotent,
// nil-safe, and may be called after the job's final callback.
func (h *Handle) Clear() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleared {
		return
	}
	h.cleared = true
	h.timer.Cancel()
	h.yield.Cancel()
	h.timer, h.yield = nil, nil
}

// Cleared reports whether [Handle.Clear] has been called.
func (h *Handle) Cleared() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleared
}

// wake is the single wakeup entry point for both primitives.
func (h *Handle) wake() {
	h.mu.Lock()
	if h.cleared {
		h.mu.Unlock()
		return
	}
	h.timer, h.yield = nil, nil

	now := h.s.now()
	if h.s.correct && h.next.Sub(now) > h.s.margin {
		h.yield = h.s.loop.Yield(h.wake)
		h.mu.Unlock()
		return
	}

	deadline := h.next
	h.next = h.next.Add(h.interval)
	// A negative delay (slow callback) fires on the next loop turn.
	h.timer = h.s.loop.After(h.next.Sub(now)-h.s.margin, h.wake)
	h.mu.Unlock()

	h.ticks.Add(1)
	if h.s.onTick != nil {
		h.s.onTick(deadline, now)
	}
	h.callback()
}
