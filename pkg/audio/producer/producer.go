// Package producer turns a [source.Source] into a steady stream of 10 ms
// audio frames delivered to an [audio.Sink] by a drift-corrected scheduler.
//
// A [Producer] moves through four states:
//
//	Unloaded → Loaded ⇄ Playing → Finished
//
// A finite source finishes when its cursor reaches the end; a duration-only
// source finishes when its duration has been played. With looping enabled a
// finished producer immediately restarts from position 0.
//
// The per-tick work lives in the pure function [Step] so it can be tested
// without a scheduler. Volume is read on every tick, so [Producer.SetVolume]
// takes effect on the next frame.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/source"
	"github.com/MrWong99/cadence/pkg/scheduler"
)

// TickInterval is the frame cadence expected by real-time voice transports.
const TickInterval = 10 * time.Millisecond

// ErrNotLoaded is returned when an operation needs a loaded source.
var ErrNotLoaded = errors.New("producer: source not loaded")

// State is the playback state of a [Producer].
type State int32

const (
	// Unloaded means the source has not been loaded yet.
	Unloaded State = iota
	// Loaded means the source is ready and playback is stopped or paused.
	Loaded
	// Playing means frames are being produced.
	Playing
	// Finished means a non-looping source reached its end.
	Finished
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrorHandler receives errors raised inside the tick path. The producer has
// already paused itself when it is called.
type ErrorHandler func(error)

// Option configures a [Producer].
type Option func(*Producer)

// WithLoop sets whether the producer restarts after finishing. Default true.
func WithLoop(loop bool) Option {
	return func(p *Producer) { p.loop.Store(loop) }
}

// WithVolume sets the initial volume. Default 1.
func WithVolume(v float64) Option {
	return func(p *Producer) { p.SetVolume(v) }
}

// WithErrorHandler sets the handler for sink errors.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(p *Producer) { p.onError = fn }
}

// WithFinishHook registers fn to be called each time the source finishes.
// looped reports whether playback restarted.
func WithFinishHook(fn func(looped bool)) Option {
	return func(p *Producer) { p.onFinish = fn }
}

// Producer feeds frames from a source into a sink at [TickInterval].
//
// All methods are safe for concurrent use. Pause, Play and SetLoop may also
// be called from inside the sink or hooks on the loop goroutine.
type Producer struct {
	sched *scheduler.Scheduler
	src   source.Source
	sink  audio.Sink

	volume atomic.Uint64 // math.Float64bits
	loop   atomic.Bool

	onError  ErrorHandler
	onFinish func(looped bool)

	loadMu sync.Mutex // serialises Load

	mu       sync.Mutex
	state    State
	info     source.Info
	tick     *TickState
	pump     *scheduler.Handle
	deadline *scheduler.Timer // duration-only finish
	gen      uint64
}

// New returns an unloaded producer that plays src into sink on sched.
func New(sched *scheduler.Scheduler, src source.Source, sink audio.Sink, opts ...Option) *Producer {
	p := &Producer{
		sched: sched,
		src:   src,
		sink:  sink,
	}
	p.volume.Store(math.Float64bits(1))
	p.loop.Store(true)
	for _, o := range opts {
		o(p)
	}
	return p
}

// Load loads the source. Loading an already loaded producer reloads the
// source and stops playback.
func (p *Producer) Load(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	p.Pause()

	info, err := p.src.Load(ctx)
	if err != nil {
		return fmt.Errorf("producer: load: %w", err)
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return fmt.Errorf("producer: load: invalid format %dHz/%dch", info.SampleRate, info.Channels)
	}
	if SamplesPerTick(info.SampleRate, TickInterval) == 0 {
		return fmt.Errorf("producer: load: sample rate %dHz too low for %v ticks", info.SampleRate, TickInterval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseLocked()
	p.info = info
	p.tick = nil
	p.state = Loaded
	return nil
}

// Play starts or resumes playback, loading the source first if needed. Load
// errors are returned to the caller. A finished producer restarts from the
// beginning.
func (p *Producer) Play(ctx context.Context) error {
	p.mu.Lock()
	unloaded := p.state == Unloaded
	p.mu.Unlock()
	if unloaded {
		if err := p.Load(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Unloaded {
		return ErrNotLoaded
	}
	p.playLocked()
	return nil
}

// Pause stops producing frames, keeping the cursor. It is a no-op when not
// playing.
func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseLocked()
}

// SetVolume changes the gain applied to every sample from the next tick on.
// Negative and NaN values are treated as 0.
func (p *Producer) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	p.volume.Store(math.Float64bits(v))
}

// Volume returns the current gain.
func (p *Producer) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// SetLoop sets whether the producer restarts after finishing. Enabling it on
// a finished producer does not restart playback; call Play.
func (p *Producer) SetLoop(loop bool) { p.loop.Store(loop) }

// Looping reports whether the producer restarts after finishing.
func (p *Producer) Looping() bool { return p.loop.Load() }

// State returns the current playback state.
func (p *Producer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns the loaded source description.
func (p *Producer) Info() source.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Cursor returns the next sample position that will be produced.
func (p *Producer) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tick == nil {
		return 0
	}
	return p.tick.SampleNumber
}

func (p *Producer) playLocked() {
	if p.state == Playing {
		return
	}
	if p.tick == nil || p.state == Finished {
		p.tick = NewTickState(p.info, TickInterval)
	}
	p.gen++
	gen := p.gen
	p.state = Playing
	p.pump = p.sched.Start(func() { p.onTick(gen) }, TickInterval)

	if p.info.Length < 0 && p.info.Duration > 0 {
		played := time.Duration(float64(time.Second) * p.tick.Elapsed)
		p.deadline = p.sched.Loop().After(p.info.Duration-played, func() { p.onDeadline(gen) })
	}
}

func (p *Producer) pauseLocked() {
	p.pump.Clear()
	p.deadline.Cancel()
	p.pump, p.deadline = nil, nil
	if p.state == Playing {
		p.state = Loaded
	}
}

// onTick runs on the loop goroutine. The sink is called without the lock
// held so it may pause or restart the producer.
func (p *Producer) onTick(gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.state != Playing {
		p.mu.Unlock()
		return
	}
	ended := Step(p.tick, p.src, p.Volume())
	frame := p.tick.Frame
	p.mu.Unlock()

	if err := p.sink.WriteFrame(frame); err != nil {
		p.mu.Lock()
		if p.gen == gen {
			p.pauseLocked()
		}
		p.mu.Unlock()
		err = fmt.Errorf("producer: write frame: %w", err)
		if p.onError != nil {
			p.onError(err)
		} else {
			slog.Error("producer paused after sink error", "err", err)
		}
		return
	}
	if !ended {
		return
	}

	p.mu.Lock()
	if p.gen != gen || p.state != Playing {
		p.mu.Unlock()
		return
	}
	looped := p.finishLocked()
	p.mu.Unlock()

	if p.onFinish != nil {
		p.onFinish(looped)
	}
}

// onDeadline ends a duration-only source.
func (p *Producer) onDeadline(gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.state != Playing {
		p.mu.Unlock()
		return
	}
	looped := p.finishLocked()
	p.mu.Unlock()

	if p.onFinish != nil {
		p.onFinish(looped)
	}
}

func (p *Producer) finishLocked() (looped bool) {
	p.pauseLocked()
	p.state = Finished
	if !p.loop.Load() {
		return false
	}
	p.playLocked()
	return true
}
