// Package resilience guards calls to unreliable dependencies with a circuit
// breaker.
//
// A [Breaker] is closed while calls succeed. After MaxFailures consecutive
// failures it opens and rejects calls with [ErrOpen] until Cooldown has
// passed; then a single probe call is let through. A successful probe closes
// the breaker, a failed one reopens it for another Cooldown.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns "closed", "open" or "half-open".
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a [Breaker]. Zero fields take the defaults.
type Config struct {
	// Name labels log messages.
	Name string

	// MaxFailures opens the breaker. Default 3.
	MaxFailures int

	// Cooldown is how long an open breaker rejects calls. Default 30s.
	Cooldown time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New returns a closed breaker.
func New(cfg Config) *Breaker {
	b := &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         cfg.Now,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = 3
	}
	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [HalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Do calls fn unless the breaker is open. Context cancellation is not
// counted as a failure of the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	b.record(err == nil || errors.Is(err, context.Canceled))
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		slog.Info("circuit breaker probing", "name", b.name)
		return true
	default:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probing = false
		if ok {
			b.state, b.failures = Closed, 0
			slog.Info("circuit breaker closed", "name", b.name)
			return
		}
		b.state, b.openedAt = Open, b.now()
		slog.Warn("circuit breaker reopened", "name", b.name)
		return
	}

	if ok {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == Closed && b.failures >= b.maxFailures {
		b.state, b.openedAt = Open, b.now()
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}
