// Package speaker plays producer frames on the local sound card through
// ebitengine/oto, so a bot's output can be listened to while it runs.
package speaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Speaker)(nil)

// Config configures the output device.
type Config struct {
	SampleRate int // 44100 or 48000 Hz
	Channels   int // 1 = mono, 2 = stereo

	// Buffer is how much audio may queue between the producer and the
	// device. Default 200ms.
	Buffer time.Duration
}

// DefaultConfig returns 48 kHz stereo with a 200 ms buffer.
func DefaultConfig() Config {
	return Config{SampleRate: 48000, Channels: 2, Buffer: 200 * time.Millisecond}
}

func (c Config) validate() error {
	var errs []error
	if c.SampleRate != 44100 && c.SampleRate != 48000 {
		errs = append(errs, fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", c.SampleRate))
	}
	if c.Channels != 1 && c.Channels != 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels))
	}
	if c.Buffer <= 0 {
		errs = append(errs, errors.New("buffer must be positive"))
	}
	return errors.Join(errs...)
}

// oto permits a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoCfg  Config
	otoErr  error
)

func openContext(cfg Config) (*oto.Context, error) {
	otoOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("speaker: create oto context: %w", err)
			return
		}
		<-ready
		otoCtx, otoCfg = c, cfg
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoCfg.SampleRate != cfg.SampleRate || otoCfg.Channels != cfg.Channels {
		return nil, fmt.Errorf("speaker: device already opened as %d Hz/%d ch", otoCfg.SampleRate, otoCfg.Channels)
	}
	return otoCtx, nil
}

// Speaker is an [audio.Sink] playing on the default output device.
type Speaker struct {
	player *oto.Player
	ring   *ring
	conv   audio.FormatConverter

	closeOnce sync.Once
}

// New opens the output device and starts playback of the (initially silent)
// stream.
func New(cfg Config) (*Speaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("speaker: invalid config: %w", err)
	}
	ctx, err := openContext(cfg)
	if err != nil {
		return nil, err
	}
	size := int(cfg.Buffer * time.Duration(cfg.SampleRate) / time.Second * time.Duration(cfg.Channels*2))
	s := &Speaker{
		ring: newRing(size),
		conv: audio.FormatConverter{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}},
	}
	s.player = ctx.NewPlayer(s.ring)
	s.player.Play()
	return s, nil
}

// WriteFrame converts f to the device format and queues it for playback.
func (s *Speaker) WriteFrame(f audio.Frame) error {
	f = s.conv.Convert(f)
	_, err := s.ring.Write(f.Bytes())
	return err
}

// Stats returns the number of bytes dropped on overflow and the number of
// device reads that ran dry.
func (s *Speaker) Stats() (dropped, underruns int64) { return s.ring.stats() }

// Close stops playback.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}
