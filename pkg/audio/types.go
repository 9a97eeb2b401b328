package audio

import (
	"fmt"
	"time"
)

// BitsPerSample is the only sample width carried by a [Frame].
const BitsPerSample = 16

// Frame is one tick's worth of interleaved signed 16-bit PCM handed to a
// [Sink]. len(Samples) == SampleCount * Channels.
//
// Producers may reuse the Samples buffer on the next tick; a sink that keeps
// samples beyond WriteFrame must copy them (see [Frame.Clone]).
type Frame struct {
	// Samples holds interleaved PCM: sample i of channel c is at
	// Samples[i*Channels+c].
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// BitsPerSample is always 16.
	BitsPerSample int

	// Channels is the interleaved channel count (1 mono, 2 stereo).
	Channels int

	// SampleCount is the number of sample positions per channel.
	SampleCount int

	// Timestamp is the position of the first sample relative to the start of
	// the stream.
	Timestamp time.Duration
}

// NewFrame allocates a zeroed frame for sampleCount positions per channel.
func NewFrame(sampleRate, channels, sampleCount int) Frame {
	return Frame{
		Samples:       make([]int16, sampleCount*channels),
		SampleRate:    sampleRate,
		BitsPerSample: BitsPerSample,
		Channels:      channels,
		SampleCount:   sampleCount,
	}
}

// Duration returns how much audio the frame represents.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports whether the frame's fields are consistent.
func (f Frame) Validate() error {
	if f.BitsPerSample != BitsPerSample {
		return fmt.Errorf("audio: frame has %d bits per sample, want %d", f.BitsPerSample, BitsPerSample)
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return fmt.Errorf("audio: frame has invalid format %s", formatString(f.SampleRate, f.Channels))
	}
	if want := f.SampleCount * f.Channels; len(f.Samples) != want {
		return fmt.Errorf("audio: frame holds %d samples, want %d (%d x %d)", len(f.Samples), want, f.SampleCount, f.Channels)
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	c := f
	c.Samples = make([]int16, len(f.Samples))
	copy(c.Samples, f.Samples)
	return c
}

// Bytes returns the samples as little-endian PCM.
func (f Frame) Bytes() []byte {
	return Int16sToBytes(f.Samples)
}

// String returns a short description of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{%d samples, %s, ts=%v}", f.SampleCount, formatString(f.SampleRate, f.Channels), f.Timestamp)
}
