package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
playback:
  volume: 1
`

const watcherUpdatedYAML = `
server:
  log_level: debug
playback:
  volume: 0.5
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and bumps the mtime so the change is visible
// regardless of filesystem timestamp granularity.
func writeFile(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", got, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML, time.Hour)

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	changed := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changed <- config.Diff(old, new)
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// An invalid edit is ignored.
	writeFile(t, path, watcherInvalidYAML, 30*time.Minute)
	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("invalid config was applied: log_level %q", got)
	}

	writeFile(t, path, watcherUpdatedYAML, 0)
	select {
	case d := <-changed:
		if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
			t.Errorf("diff = %+v", d)
		}
		if !d.VolumeChanged || d.NewVolume != 0.5 {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}
	if got := w.Current().Playback.Volume; got != 0.5 {
		t.Errorf("Current volume = %v, want 0.5", got)
	}
}
