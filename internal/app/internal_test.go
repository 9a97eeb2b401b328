package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	audiomock "github.com/MrWong99/cadence/pkg/audio/mock"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	var level slog.LevelVar
	old := config.Default()
	a, err := New(context.Background(), old, WithSink(&audiomock.Sink{}, nil), WithMetrics(m), WithLogLevel(&level))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated := config.Default()
	updated.Playback.Volume = 0.25
	updated.Playback.Loop = false
	updated.Server.LogLevel = config.LogDebug
	updated.Sink.Kind = config.SinkSpeaker // restart only, must not be applied

	a.applyConfig(old, updated)

	if got := a.producer.Volume(); got != 0.25 {
		t.Errorf("volume = %v, want 0.25", got)
	}
	if a.producer.Looping() {
		t.Error("loop still enabled")
	}
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDumpPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path        string
		run, repeat int
		want        string
	}{
		{"out.pcap", 0, 1, "out.pcap"},
		{"out.pcap", 1, 3, "out-2.pcap"},
		{"/tmp/cap", 0, 2, "/tmp/cap-1"},
	}
	for _, tt := range tests {
		if got := dumpPath(tt.path, tt.run, tt.repeat); got != tt.want {
			t.Errorf("dumpPath(%q, %d, %d) = %q, want %q", tt.path, tt.run, tt.repeat, got, tt.want)
		}
	}
}
