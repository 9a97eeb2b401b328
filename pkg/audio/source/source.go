// Package source provides the sample sources a producer turns into frames: a
// closed-form sine generator and decoded media files.
//
// A [Source] is loaded once and then sampled position by position. Sample
// values are returned in 16-bit scale (roughly [-32768, 32767]) before volume
// is applied; the producer takes care of scaling and saturation.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MaxValue is the peak amplitude of a full-scale 16-bit sample.
const MaxValue = 1<<15 - 1

// Infinite is the [Info.Length] of sources with no natural end.
const Infinite int64 = -1

// ErrUnsupportedFormat is returned by [Media.Load] when the file extension
// does not name a known container.
var ErrUnsupportedFormat = errors.New("source: unsupported audio format")

// Info describes a loaded source.
type Info struct {
	// Channels is the interleaved channel count.
	Channels int

	// SampleRate in Hz.
	SampleRate int

	// Length is the number of sample positions per channel, or [Infinite].
	Length int64

	// Duration is set for sources whose end is defined by elapsed time. When
	// Length is [Infinite] and Duration > 0, the producer finishes the source
	// after Duration.
	Duration time.Duration
}

// Source is a loadable audio source.
type Source interface {
	// Load prepares the source for sampling. It may perform I/O and decoding.
	Load(ctx context.Context) (Info, error)

	// Sample returns the raw value of one channel at one sample position.
	// frameIdx is the position inside the current frame, sampleNumber the
	// absolute position in the source, and elapsed the playback time in
	// seconds. Positions outside the source return 0.
	Sample(frameIdx, channel int, sampleNumber int64, elapsed float64) float64
}

// Parse builds a source from a short textual description. A string that
// starts with an integer is a sine frequency in Hz. Anything else names media:
// a URL when it contains a colon, otherwise a file path. Relative paths are
// resolved against dir.
func Parse(desc, dir string) (Source, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil, errors.New("source: empty source")
	}
	if freq, ok := leadingInt(desc); ok {
		if freq <= 0 {
			return nil, fmt.Errorf("source: sine frequency must be > 0, got %d", freq)
		}
		return &Sine{Frequency: float64(freq)}, nil
	}
	if strings.Contains(desc, ":") {
		if _, err := url.Parse(desc); err != nil {
			return nil, fmt.Errorf("source: parse %q: %w", desc, err)
		}
		return &Media{URL: desc}, nil
	}
	if filepath.IsAbs(desc) {
		return &Media{URL: desc}, nil
	}
	return &Media{URL: filepath.Join(dir, desc)}, nil
}

// leadingInt parses the longest leading run of digits (with optional sign).
func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
