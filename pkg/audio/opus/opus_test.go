package opus

import (
	"testing"

	"github.com/MrWong99/cadence/pkg/audio"
)

func TestEncoder_PacketsPer20ms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		rate        int
		channels    int
		frames      int
		wantPackets int
		wantPending int
	}{
		{name: "native 10ms frames", rate: SampleRate, channels: Channels, frames: 4, wantPackets: 2},
		{name: "8kHz mono upsampled", rate: 8000, channels: 1, frames: 2, wantPackets: 1},
		{name: "half packet stays buffered", rate: SampleRate, channels: Channels, frames: 3, wantPackets: 1, wantPending: 480},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			enc, err := NewEncoder()
			if err != nil {
				t.Fatalf("NewEncoder: %v", err)
			}
			var got int
			for range tt.frames {
				f := audio.NewFrame(tt.rate, tt.channels, tt.rate/100)
				pkts, err := enc.Push(f)
				if err != nil {
					t.Fatalf("Push: %v", err)
				}
				for _, p := range pkts {
					if len(p) == 0 {
						t.Error("empty packet")
					}
				}
				got += len(pkts)
			}
			if got != tt.wantPackets {
				t.Errorf("packets = %d, want %d", got, tt.wantPackets)
			}
			if enc.Buffered() != tt.wantPending {
				t.Errorf("Buffered = %d, want %d", enc.Buffered(), tt.wantPending)
			}
		})
	}
}

func TestEncoder_Reset(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if _, err := enc.Push(audio.NewFrame(SampleRate, Channels, 480)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	enc.Reset()
	if enc.Buffered() != 0 {
		t.Errorf("Buffered after Reset = %d", enc.Buffered())
	}
}

func TestFrameSize(t *testing.T) {
	t.Parallel()
	if FrameSize != 960 {
		t.Errorf("FrameSize = %d, want 960", FrameSize)
	}
}
