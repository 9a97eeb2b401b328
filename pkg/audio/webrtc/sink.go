package webrtc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Compile-time interface assertion.
var _ audio.Sink = (*TrackSink)(nil)

const frameQueue = 64

// sampleWriter is satisfied by *webrtc.TrackLocalStaticSample.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// TrackSink writes producer frames to an Opus sample track. Like every sink
// it never blocks the tick: frames are copied onto a queue and encoded on a
// background goroutine.
type TrackSink struct {
	w      sampleWriter
	frames chan audio.Frame

	dropped   atomic.Int64
	sent      atomic.Int64
	writeErrs atomic.Int64

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

func newTrackSink(w sampleWriter) *TrackSink {
	s := &TrackSink{
		w:        w,
		frames:   make(chan audio.Frame, frameQueue),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// WriteFrame queues a copy of f, dropping it when the queue is full.
func (s *TrackSink) WriteFrame(f audio.Frame) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.frames <- f.Clone():
	default:
		if s.dropped.Add(1) == 1 {
			slog.Warn("webrtc: track queue full, dropping frames")
		}
	}
	return nil
}

// Dropped returns the number of frames dropped because the queue was full.
func (s *TrackSink) Dropped() int64 { return s.dropped.Load() }

// Sent returns the number of Opus samples written to the track.
func (s *TrackSink) Sent() int64 { return s.sent.Load() }

// Close stops the write loop. Safe to call more than once.
func (s *TrackSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.loopDone
	})
}

func (s *TrackSink) writeLoop() {
	defer close(s.loopDone)

	enc, err := opus.NewEncoder()
	if err != nil {
		slog.Error("webrtc: failed to create opus encoder", "error", err)
		return
	}

	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			packets, err := enc.Push(f)
			if err != nil {
				slog.Warn("webrtc: opus encode error", "error", err)
			}
			for _, pkt := range packets {
				if err := s.w.WriteSample(media.Sample{Data: pkt, Duration: opus.FrameDuration}); err != nil {
					if s.writeErrs.Add(1) == 1 {
						slog.Warn("webrtc: write sample failed", "error", err)
					}
					continue
				}
				s.sent.Add(1)
			}
		}
	}
}
