package audio_test

import (
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/cadence/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	got := audio.MonoToStereo([]int16{100, 200, 300})
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Fatalf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	got := audio.StereoToMono([]int16{100, 200, -100, -200})
	want := []int16{150, -150}
	if !slices.Equal(got, want) {
		t.Fatalf("StereoToMono = %v, want %v", got, want)
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	got := audio.StereoToMono([]int16{math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16})
	want := []int16{math.MaxInt16, math.MinInt16}
	if !slices.Equal(got, want) {
		t.Fatalf("StereoToMono = %v, want %v", got, want)
	}
}

func TestRemix(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		from, to int
		want     []int16
	}{
		{"stereo to quad", []int16{1, 2, 3, 4}, 2, 4, []int16{1, 2, 2, 2, 3, 4, 4, 4}},
		{"quad to stereo", []int16{1, 2, 3, 4}, 4, 2, []int16{1, 2}},
		{"invalid", []int16{1, 2}, 0, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.Remix(tt.in, tt.from, tt.to); !slices.Equal(got, tt.want) {
				t.Errorf("Remix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResample16_SameRate(t *testing.T) {
	in := []int16{1, 2, 3}
	got := audio.Resample16(in, 1, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("same-rate resample should return the input slice")
	}
}

func TestResample16_Upsample(t *testing.T) {
	got := audio.Resample16([]int16{0, 100}, 1, 8000, 16000)
	want := []int16{0, 50, 100, 100}
	if !slices.Equal(got, want) {
		t.Fatalf("Resample16 = %v, want %v", got, want)
	}
}

func TestResample16_DownsampleStereo(t *testing.T) {
	// Four stereo frames at 16 kHz -> two at 8 kHz, channels kept apart.
	in := []int16{10, -10, 20, -20, 30, -30, 40, -40}
	got := audio.Resample16(in, 2, 16000, 8000)
	want := []int16{10, -10, 30, -30}
	if !slices.Equal(got, want) {
		t.Fatalf("Resample16 = %v, want %v", got, want)
	}
}

func TestResample16_InvalidRate(t *testing.T) {
	in := []int16{1, 2}
	if got := audio.Resample16(in, 1, 0, 48000); !slices.Equal(got, in) {
		t.Errorf("zero source rate should return input unchanged, got %v", got)
	}
}

func TestClamp16(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1.4, 1},
		{1.5, 2},
		{-1.5, -2},
		{40000, math.MaxInt16},
		{-40000, math.MinInt16},
		{math.Inf(1), math.MaxInt16},
		{math.Inf(-1), math.MinInt16},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := audio.Clamp16(tt.in); got != tt.want {
			t.Errorf("Clamp16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	b := audio.Int16sToBytes(in)
	if len(b) != 10 {
		t.Fatalf("len = %d, want 10", len(b))
	}
	if b[2] != 0x01 || b[3] != 0x00 {
		t.Errorf("not little-endian: % x", b[2:4])
	}
	if got := audio.BytesToInt16s(b); !slices.Equal(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	f := audio.NewFrame(48000, 2, 480)
	got := conv.Convert(f)
	if &got.Samples[0] != &f.Samples[0] {
		t.Error("matching format should not allocate")
	}
}

func TestFormatConverter_FullConversion(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	f := audio.NewFrame(8000, 1, 80)
	for i := range f.Samples {
		f.Samples[i] = 1000
	}

	got := conv.Convert(f)
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.SampleRate != 48000 || got.Channels != 2 {
		t.Fatalf("format = %dHz/%dch, want 48000Hz/2ch", got.SampleRate, got.Channels)
	}
	if got.SampleCount != 480 {
		t.Errorf("SampleCount = %d, want 480", got.SampleCount)
	}
	if got.Duration() != f.Duration() {
		t.Errorf("Duration = %v, want %v", got.Duration(), f.Duration())
	}
}
