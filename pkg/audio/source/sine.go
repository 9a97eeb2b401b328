package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Default sine parameters.
const (
	DefaultFrequency  = 440
	DefaultSampleRate = 8000
)

// Sine is an infinite sine wave at full scale. With Duration set it becomes
// a duration-only source that the producer finishes after Duration.
type Sine struct {
	// Frequency in Hz. Zero means [DefaultFrequency].
	Frequency float64

	// SampleRate in Hz. Zero means [DefaultSampleRate].
	SampleRate int

	// Channels, zero means mono. Every channel carries the same wave.
	Channels int

	// Duration, if > 0, ends the source after that much playback.
	Duration time.Duration
}

var _ Source = (*Sine)(nil)

// Load applies defaults and reports the source format.
func (s *Sine) Load(ctx context.Context) (Info, error) {
	if s.Frequency == 0 {
		s.Frequency = DefaultFrequency
	}
	if s.SampleRate == 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.Channels == 0 {
		s.Channels = 1
	}
	if s.Frequency < 0 || s.SampleRate < 0 || s.Channels < 0 {
		return Info{}, fmt.Errorf("source: invalid sine %gHz %dHz/%dch", s.Frequency, s.SampleRate, s.Channels)
	}
	slog.InfoContext(ctx, "sine source loaded", "frequency", s.Frequency, "max_value", MaxValue)
	return Info{
		Channels:   s.Channels,
		SampleRate: s.SampleRate,
		Length:     Infinite,
		Duration:   s.Duration,
	}, nil
}

// Sample evaluates the wave at the elapsed time.
func (s *Sine) Sample(_, _ int, _ int64, elapsed float64) float64 {
	return math.Sin(2*math.Pi*s.Frequency*elapsed) * MaxValue
}
