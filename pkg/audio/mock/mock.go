// Package mock provides in-memory mock implementations of [audio.Sink] for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and they expose exported fields that
// the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	p := producer.New(sched, &source.Sine{}, sink)
//	// ... drive the loop ...
//	frames := sink.Frames()
package mock

import (
	"sync"

	"github.com/MrWong99/cadence/pkg/audio"
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Every written frame is cloned
// and recorded, so producers may reuse their buffers freely.
type Sink struct {
	mu sync.Mutex

	// WriteError is returned by [Sink.WriteFrame]. When set, the frame is
	// still recorded.
	WriteError error

	// OnWrite, if non-nil, is called after a frame has been recorded. It runs
	// without the mock's lock held.
	OnWrite func(audio.Frame)

	// CallCountWriteFrame records how many times WriteFrame was called.
	CallCountWriteFrame int

	frames []audio.Frame
}

// WriteFrame implements [audio.Sink].
func (s *Sink) WriteFrame(f audio.Frame) error {
	c := f.Clone()
	s.mu.Lock()
	s.CallCountWriteFrame++
	s.frames = append(s.frames, c)
	err := s.WriteError
	cb := s.OnWrite
	s.mu.Unlock()
	if cb != nil {
		cb(c)
	}
	return err
}

// Frames returns a copy of all recorded frames in write order.
func (s *Sink) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Samples returns the recorded samples of all frames concatenated.
func (s *Sink) Samples() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int16
	for _, f := range s.frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Len returns the number of recorded frames.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Reset clears all recorded frames and call counts.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.CallCountWriteFrame = 0
}
