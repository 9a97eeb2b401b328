package producer

import (
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/source"
)

// Sampler computes one raw sample. [source.Source] satisfies it.
type Sampler interface {
	Sample(frameIdx, channel int, sampleNumber int64, elapsed float64) float64
}

// TickState is the playback cursor and frame buffer of one play-through. It
// is owned by a single producer and advanced by [Step].
type TickState struct {
	// Frame is reused on every tick.
	Frame audio.Frame

	// SampleNumber is the next sample position to compute.
	SampleNumber int64

	// Elapsed is the playback time of SampleNumber in seconds.
	Elapsed float64

	// TotalLength is the source length in sample positions, or
	// [source.Infinite].
	TotalLength int64

	secondsPerSample float64

	// Frame sizes alternate between perTick and perTick+1 so that the
	// average matches the rate exactly. carry accumulates the fractional
	// part in units of 1/carryDiv samples.
	perTick  int
	rem      int64
	carry    int64
	carryDiv int64
	buf      []int16
}

// NewTickState prepares a cursor at position 0 for a source described by
// info, producing one frame per interval.
func NewTickState(info source.Info, interval time.Duration) *TickState {
	perTick := SamplesPerTick(info.SampleRate, interval)
	// One spare position for ticks that carry an extra sample.
	frame := audio.NewFrame(info.SampleRate, info.Channels, perTick+1)
	buf := frame.Samples
	frame.Samples, frame.SampleCount = buf[:perTick*info.Channels], perTick
	return &TickState{
		Frame:            frame,
		TotalLength:      info.Length,
		secondsPerSample: 1 / float64(info.SampleRate),
		perTick:          perTick,
		rem:              int64(info.SampleRate) * int64(interval) % int64(time.Second),
		carryDiv:         int64(time.Second),
		buf:              buf,
	}
}

// SamplesPerTick returns how many whole sample positions per channel cover
// one interval at sampleRate. When the division is not exact, [Step] inserts
// one extra position on some ticks.
func SamplesPerTick(sampleRate int, interval time.Duration) int {
	return int(int64(sampleRate) * int64(interval) / int64(time.Second))
}

// Step fills st.Frame with the next positions from src scaled by volume, and
// advances the cursor. The frame holds [SamplesPerTick] positions, or one more
// whenever the accumulated fraction reaches a whole sample. Scaled values are
// rounded and saturated to the 16-bit range. Step reports whether the cursor
// has reached the end of a finite source.
func Step(st *TickState, src Sampler, volume float64) bool {
	f := &st.Frame
	count := st.perTick
	if st.rem > 0 {
		st.carry += st.rem
		if st.carry >= st.carryDiv {
			st.carry -= st.carryDiv
			count++
		}
	}
	f.SampleCount = count
	f.Samples = st.buf[:count*f.Channels]
	f.Timestamp = time.Duration(st.SampleNumber) * time.Second / time.Duration(f.SampleRate)
	channels := f.Channels
	for i := range f.SampleCount {
		for c := range channels {
			raw := src.Sample(i, c, st.SampleNumber, st.Elapsed)
			f.Samples[i*channels+c] = audio.Clamp16(raw * volume)
		}
		st.SampleNumber++
		st.Elapsed += st.secondsPerSample
	}
	return st.TotalLength >= 0 && st.SampleNumber >= st.TotalLength
}
