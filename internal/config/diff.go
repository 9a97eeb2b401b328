package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; other changes are
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     float64

	LoopChanged bool
	NewLoop     bool

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VolumeChanged && !d.LoopChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.Volume != new.Playback.Volume {
		d.VolumeChanged = true
		d.NewVolume = new.Playback.Volume
	}
	if old.Playback.Loop != new.Playback.Loop {
		d.LoopChanged = true
		d.NewLoop = new.Playback.Loop
	}

	// Compare the rest with the live fields masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldPlay, newPlay := old.Playback, new.Playback
	oldPlay.Volume, newPlay.Volume = 0, 0
	oldPlay.Loop, newPlay.Loop = false, false

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"scheduler", old.Scheduler, new.Scheduler},
		{"playback", oldPlay, newPlay},
		{"sink", old.Sink, new.Sink},
		{"measurement", old.Measurement, new.Measurement},
		{"storage", old.Storage, new.Storage},
		{"runtime", old.Runtime, new.Runtime},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
