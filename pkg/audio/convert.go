package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// FormatConverter converts frames to a target format. It logs a warning on
// the first format mismatch. Create one per stream; it is not designed for
// shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Samples
	channels := frame.Channels

	// Resampling first avoids resampling stereo when the target is mono.
	if frame.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	}

	if channels != c.Target.Channels {
		switch {
		case channels == 1 && c.Target.Channels == 2:
			pcm = MonoToStereo(pcm)
		case channels == 2 && c.Target.Channels == 1:
			pcm = StereoToMono(pcm)
		default:
			pcm = Remix(pcm, channels, c.Target.Channels)
		}
		channels = c.Target.Channels
	}

	return Frame{
		Samples:       pcm,
		SampleRate:    c.Target.SampleRate,
		BitsPerSample: BitsPerSample,
		Channels:      channels,
		SampleCount:   len(pcm) / channels,
		Timestamp:     frame.Timestamp,
	}
}

// Clamp16 rounds v to the nearest integer and saturates it to the signed
// 16-bit range. NaN maps to 0.
func Clamp16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []int16) []int16 {
	out := make([]int16, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each L+R pair. Uses int32 arithmetic so the sum
// cannot overflow.
func StereoToMono(pcm []int16) []int16 {
	frames := len(pcm) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(pcm[i*2]) + int32(pcm[i*2+1])) / 2)
	}
	return out
}

// Remix converts between arbitrary channel counts: each output channel takes
// the matching input channel, and missing channels repeat the last input one.
func Remix(pcm []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 {
		return nil
	}
	frames := len(pcm) / from
	out := make([]int16, frames*to)
	for i := range frames {
		for c := range to {
			out[i*to+c] = pcm[i*from+min(c, from-1)]
		}
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. If the rates match or
// are invalid, pcm is returned unchanged.
func Resample16(pcm []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / channels
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := range channels {
			s0 := float64(pcm[srcIdx*channels+c])
			s1 := float64(pcm[next*channels+c])
			out[i*channels+c] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

// Int16sToBytes converts PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to PCM samples. A trailing odd
// byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
