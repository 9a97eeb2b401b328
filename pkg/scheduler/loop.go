// Package scheduler provides a cooperative, single-goroutine event loop and a
// drift-corrected periodic scheduler built on top of it.
//
// The [Loop] is the stand-in for a host event loop: every callback scheduled
// through it runs on the goroutine that called [Loop.Run], one at a time. Two
// independent wakeup primitives are exposed:
//
//   - [Loop.After]: a coarse delayed callback backed by [time.AfterFunc].
//   - [Loop.Yield]: a cooperative "check again soon" that runs after all work
//     already posted to the loop, without sleeping.
//
// [Scheduler] composes both to deliver periodic ticks whose deadlines advance
// by a fixed step, so timing error never accumulates.
package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// taskBuffer is the capacity of the posted-task queue.
const taskBuffer = 1024

// ErrLoopRunning is returned by [Loop.Run] when the loop is already running or
// has already finished.
var ErrLoopRunning = errors.New("scheduler: loop already started")

// Loop is a single-goroutine cooperative event loop.
//
// [Loop.Post], [Loop.After] and [Loop.Yield] are safe for concurrent use; the
// callbacks they schedule always run on the goroutine executing [Loop.Run].
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu        sync.Mutex
	immediate []*Immediate

	started atomic.Bool
}

// NewLoop returns an idle loop. Call [Loop.Run] to start processing.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), taskBuffer),
		done:  make(chan struct{}),
	}
}

// Run processes posted tasks and cooperative yields until ctx is cancelled.
// A Loop can only be run once; it returns ctx.Err() on exit.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.immediate
		l.immediate = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case fn := <-l.tasks:
				fn()
			}
			continue
		}

		// Posted work interleaves ahead of the pending yields.
		l.drainPosted()
		for _, im := range batch {
			if !im.cancelled.Load() {
				im.fn()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}

// drainPosted runs every task that was queued when it was called.
func (l *Loop) drainPosted() {
	for n := len(l.tasks); n > 0; n-- {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}

// Done is closed once [Loop.Run] has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn to run on the loop goroutine. It reports false when the loop
// has already stopped and fn will never run.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop goroutine and waits for it to complete. It must not
// be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return errors.New("scheduler: loop stopped")
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return errors.New("scheduler: loop stopped")
	}
}

// Timer is a pending coarse wakeup created by [Loop.After].
type Timer struct {
	t         *time.Timer
	cancelled atomic.Bool
}

// After schedules fn to run on the loop once d has elapsed. A zero or negative
// d fires on the next loop turn.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		if tm.cancelled.Load() {
			return
		}
		l.Post(func() {
			if !tm.cancelled.Load() {
				fn()
			}
		})
	})
	return tm
}

// Cancel prevents the timer from firing. It is idempotent and nil-safe.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.t.Stop()
}

// Immediate is a pending cooperative recheck created by [Loop.Yield].
type Immediate struct {
	fn        func()
	cancelled atomic.Bool
}

// Yield queues fn to run on the loop after all work already posted. It never
// sleeps, which makes it suitable for spinning on a deadline while still
// letting other loop work through.
func (l *Loop) Yield(fn func()) *Immediate {
	im := &Immediate{fn: fn}
	l.mu.Lock()
	l.immediate = append(l.immediate, im)
	l.mu.Unlock()

	// Wake a loop blocked on the task queue.
	select {
	case l.tasks <- func() {}:
	default:
	}
	return im
}

// Cancel prevents the yield from running. It is idempotent and nil-safe.
func (im *Immediate) Cancel() {
	if im == nil {
		return
	}
	im.cancelled.Store(true)
}
