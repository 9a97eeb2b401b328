// Package audio defines the PCM frame type that flows from frame producers to
// real-time transports, and the [Sink] interface those transports implement.
//
// Concrete sinks live in sub-packages:
//
//   - audio/webrtc: a pion sample track (Opus) plus its statistics.
//   - audio/discord: a Discord voice connection (Opus).
//   - audio/speaker: the local sound card, for listening to a bot.
//   - audio/mock: a recording sink for tests.
//
// Sinks receive frames on the scheduler's loop goroutine, inside the timing
// critical path, so WriteFrame must return quickly and never block.
package audio

import "sync"

// Sink consumes frames produced on every scheduler tick.
type Sink interface {
	// WriteFrame delivers one frame. Implementations must not block and must
	// copy f.Samples if they keep the data after returning.
	WriteFrame(f Frame) error
}

// SinkFunc adapts an ordinary function to the [Sink] interface.
type SinkFunc func(Frame) error

// WriteFrame calls fn(f).
func (fn SinkFunc) WriteFrame(f Frame) error { return fn(f) }

// Discard is a [Sink] that drops every frame.
var Discard Sink = SinkFunc(func(Frame) error { return nil })

// Tee returns a [Sink] that writes every frame to each of sinks in order and
// stops at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(f Frame) error {
		for _, s := range sinks {
			if err := s.WriteFrame(f); err != nil {
				return err
			}
		}
		return nil
	})
}

// Switch is a [Sink] whose target can be replaced while frames are flowing.
// A Switch with no target discards frames.
type Switch struct {
	mu     sync.RWMutex
	target Sink
}

// Set replaces the current target. A nil target discards frames.
func (s *Switch) Set(target Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

// WriteFrame forwards f to the current target.
func (s *Switch) WriteFrame(f Frame) error {
	s.mu.RLock()
	target := s.target
	s.mu.RUnlock()
	if target == nil {
		return nil
	}
	return target.WriteFrame(f)
}
