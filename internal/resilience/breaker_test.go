package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("down")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestBreaker_Lifecycle(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := New(Config{Name: "store", MaxFailures: 2, Cooldown: time.Minute, Now: clock.now})
	ctx := context.Background()

	steps := []struct {
		name    string
		advance time.Duration
		fn      func(context.Context) error
		wantErr error
		want    State
	}{
		{"first failure stays closed", 0, fail, errDown, Closed},
		{"second failure opens", 0, fail, errDown, Open},
		{"open rejects", 30 * time.Second, succeed, ErrOpen, Open},
		{"failed probe reopens", 30 * time.Second, fail, errDown, Open},
		{"cooldown restarts after reopen", 30 * time.Second, succeed, ErrOpen, Open},
		{"successful probe closes", 30 * time.Second, succeed, nil, Closed},
		{"closed passes", 0, succeed, nil, Closed},
	}
	for _, st := range steps {
		clock.advance(st.advance)
		if err := b.Do(ctx, st.fn); !errors.Is(err, st.wantErr) {
			t.Fatalf("%s: err = %v, want %v", st.name, err, st.wantErr)
		}
		if got := b.State(); got != st.want {
			t.Fatalf("%s: state = %v, want %v", st.name, got, st.want)
		}
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxFailures: 2})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)
	if got := b.State(); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if got := b.State(); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := New(Config{MaxFailures: 1, Cooldown: time.Second, Now: clock.now})
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	clock.advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("concurrent call during probe: err = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
