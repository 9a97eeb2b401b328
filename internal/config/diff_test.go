package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/cadence/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if d := config.Diff(cfg, config.Default()); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LiveFields(t *testing.T) {
	t.Parallel()

	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug
	new.Playback.Volume = 0.25
	new.Playback.Loop = false

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.VolumeChanged || d.NewVolume != 0.25 {
		t.Errorf("volume diff = %+v", d)
	}
	if !d.LoopChanged || d.NewLoop {
		t.Errorf("loop diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old := config.Default()
	new := config.Default()
	new.Playback.Source = "880"
	new.Sink.WebRTC.DataChannels = []string{"chat"}
	new.Measurement.Enabled = true

	d := config.Diff(old, new)
	for _, want := range []string{"playback", "sink", "measurement"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.VolumeChanged || d.LoopChanged || d.LogLevelChanged {
		t.Errorf("unexpected live change: %+v", d)
	}
}
