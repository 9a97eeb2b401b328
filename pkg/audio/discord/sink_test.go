package discord

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/opus"
)

// newTestSink creates a Sink wired to fake voice connection callbacks.
func newTestSink(t *testing.T, sendBuf int) (*Sink, chan []byte, *speakingLog) {
	t.Helper()
	send := make(chan []byte, sendBuf)
	spk := &speakingLog{}
	s := newSink(send, spk.set, func() error { return nil })
	t.Cleanup(func() { _ = s.Close() })
	return s, send, spk
}

type speakingLog struct {
	mu     sync.Mutex
	values []bool
}

func (l *speakingLog) set(b bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, b)
	return nil
}

func (l *speakingLog) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.values...)
}

func TestSink_SendEncodes(t *testing.T) {
	t.Parallel()

	s, send, spk := newTestSink(t, 16)

	// Two 10 ms mono 8 kHz frames make one 20 ms packet.
	for range 2 {
		if err := s.WriteFrame(audio.NewFrame(8000, 1, 80)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	select {
	case pkt := <-send:
		if len(pkt) == 0 {
			t.Error("OpusSend: received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet on OpusSend")
	}
	if got := spk.get(); len(got) == 0 || !got[0] {
		t.Errorf("speaking = %v, want first true", got)
	}
}

func TestSink_CopiesFrame(t *testing.T) {
	t.Parallel()

	s, send, _ := newTestSink(t, 16)

	f := audio.NewFrame(opus.SampleRate, opus.Channels, opus.FrameSize)
	for i := range f.Samples {
		f.Samples[i] = 1000
	}
	if err := s.WriteFrame(f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	// The producer reuses its buffer; the sink must not observe this.
	clear(f.Samples)

	select {
	case pkt := <-send:
		if len(pkt) == 0 {
			t.Error("empty packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	// Unbuffered OpusSend with no reader stalls the send loop.
	s, _, _ := newTestSink(t, 0)

	f := audio.NewFrame(opus.SampleRate, opus.Channels, opus.FrameSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range frameQueue * 4 {
			_ = s.WriteFrame(f)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WriteFrame blocked")
	}
	if s.Dropped() == 0 {
		t.Error("expected dropped frames")
	}
}

func TestSink_CloseIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	s := newSink(make(chan []byte, 1), nil, func() error {
		calls++
		return errors.New("already gone")
	})
	if err := s.Close(); err == nil {
		t.Error("first Close should return the disconnect error")
	}
	for i := range 3 {
		if err := s.Close(); err != nil {
			t.Fatalf("Close[%d]: unexpected error: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("disconnect called %d times, want 1", calls)
	}
	if err := s.WriteFrame(audio.NewFrame(8000, 1, 80)); err != nil {
		t.Errorf("WriteFrame after Close: %v", err)
	}
}

func TestSink_ConcurrentClose(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSink(t, 1)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = s.Close()
		})
	}
	wg.Wait()
}

func TestDial_RequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := Dial(t.Context(), "", "g", "c"); err == nil {
		t.Fatal("Dial with empty token should fail")
	}
}
