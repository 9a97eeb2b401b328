package discord

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/opus"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// frameQueue buffers frames between the producer tick and the encoder. At
// 10 ms per frame this is 640 ms of audio.
const frameQueue = 64

// Sink sends producer frames to a Discord voice channel. WriteFrame only
// copies the frame onto a queue; a background goroutine converts to 48 kHz
// stereo, encodes 20 ms Opus packets and hands them to the voice connection.
//
// Sink is safe for concurrent use.
type Sink struct {
	opusSend chan<- []byte
	speaking func(bool) error

	frames chan audio.Frame

	dropped atomic.Int64
	sent    atomic.Int64

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// disconnect tears down the voice connection. Overridden in tests.
	disconnect func() error
}

func newSink(opusSend chan<- []byte, speaking func(bool) error, disconnect func() error) *Sink {
	s := &Sink{
		opusSend:   opusSend,
		speaking:   speaking,
		frames:     make(chan audio.Frame, frameQueue),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		disconnect: disconnect,
	}
	go s.sendLoop()
	return s
}

// WriteFrame queues a copy of f. When the queue is full the frame is dropped
// and counted rather than blocking the tick.
func (s *Sink) WriteFrame(f audio.Frame) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.frames <- f.Clone():
	default:
		if s.dropped.Add(1) == 1 {
			slog.Warn("discord: send queue full, dropping frames")
		}
	}
	return nil
}

// Dropped returns the number of frames dropped because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Sent returns the number of Opus packets handed to the voice connection.
func (s *Sink) Sent() int64 { return s.sent.Load() }

// Close stops the send loop and disconnects from the voice channel. It is
// safe to call more than once; subsequent calls return nil.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.loopDone
		if s.disconnect != nil {
			err = s.disconnect()
		}
	})
	return err
}

func (s *Sink) sendLoop() {
	defer close(s.loopDone)

	enc, err := opus.NewEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	speakingSet := false
	defer func() {
		if speakingSet {
			s.setSpeaking(false)
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			if !speakingSet {
				s.setSpeaking(true)
				speakingSet = true
			}

			packets, err := enc.Push(f)
			if err != nil {
				slog.Warn("discord: opus encode error", "error", err)
			}
			for _, pkt := range packets {
				select {
				case s.opusSend <- pkt:
					s.sent.Add(1)
				case <-s.done:
					return
				}
			}
		}
	}
}

func (s *Sink) setSpeaking(b bool) {
	if s.speaking == nil {
		return
	}
	if err := s.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
