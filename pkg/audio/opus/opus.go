// Package opus turns the producer's 10 ms PCM frames into fixed-size Opus
// packets for transports that carry Opus: Discord voice and WebRTC audio
// tracks both use 48 kHz stereo at 20 ms per packet.
package opus

import (
	"fmt"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"layeh.com/gopus"
)

const (
	SampleRate = 48000
	Channels   = 2

	// FrameDuration is the audio carried by one packet.
	FrameDuration = 20 * time.Millisecond

	// FrameSize is the number of samples per channel in one packet.
	FrameSize = SampleRate * int(FrameDuration/time.Millisecond) / 1000 // 960

	// maxPacketBytes bounds one encoded packet. 4000 is the size libopus
	// recommends for a single frame.
	maxPacketBytes = 4000
)

// Format is the PCM format fed into the encoder.
var Format = audio.Format{SampleRate: SampleRate, Channels: Channels}

// Encoder converts frames of any format to 48 kHz stereo, buffers them and
// emits one Opus packet per complete 20 ms of audio. It is not safe for
// concurrent use; each output stream owns one.
type Encoder struct {
	enc     *gopus.Encoder
	conv    audio.FormatConverter
	pending []int16
}

// NewEncoder creates an encoder tuned for general audio.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, conv: audio.FormatConverter{Target: Format}}, nil
}

// Push adds f to the pending audio and returns every packet that became
// complete, oldest first. Leftover samples stay buffered for the next call.
func (e *Encoder) Push(f audio.Frame) ([][]byte, error) {
	f = e.conv.Convert(f)
	e.pending = append(e.pending, f.Samples...)

	const chunk = FrameSize * Channels
	var packets [][]byte
	for len(e.pending) >= chunk {
		pkt, err := e.enc.Encode(e.pending[:chunk], FrameSize, maxPacketBytes)
		e.pending = e.pending[chunk:]
		if err != nil {
			return packets, fmt.Errorf("opus: encode: %w", err)
		}
		packets = append(packets, pkt)
	}
	// Compact so the backing array does not grow without bound.
	if cap(e.pending) > 4*chunk {
		e.pending = append([]int16(nil), e.pending...)
	}
	return packets, nil
}

// Buffered returns the number of samples per channel waiting for a full
// packet.
func (e *Encoder) Buffered() int { return len(e.pending) / Channels }

// Reset drops any buffered samples, e.g. after playback was paused.
func (e *Encoder) Reset() { e.pending = e.pending[:0] }
