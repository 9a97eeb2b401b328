package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":8081"
  log_level: debug
  log_format: json
scheduler:
  margin: 3ms
playback:
  source: tone.wav
  audio_dir: /srv/audio
  volume: 0.5
  loop: false
sink:
  kind: loopback
  webrtc:
    data_channels: [chat, telemetry]
    channel_interval: 50ms
    channel_message: 512
measurement:
  enabled: true
  label: bot-1
  delay: 2s
  duration: 30s
  repeat: 3
  capture: true
  device: eth0
  dump: /tmp/out.pcap
storage:
  postgres_dsn: postgres://localhost/cadence
runtime: 5m
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8081" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Scheduler.Margin != 3*time.Millisecond {
		t.Errorf("margin = %v", cfg.Scheduler.Margin)
	}
	if cfg.Playback.Source != "tone.wav" || cfg.Playback.Volume != 0.5 || cfg.Playback.Loop {
		t.Errorf("playback = %+v", cfg.Playback)
	}
	if cfg.Sink.Kind != config.SinkLoopback || len(cfg.Sink.WebRTC.DataChannels) != 2 {
		t.Errorf("sink = %+v", cfg.Sink)
	}
	m := cfg.Measurement
	if !m.Enabled || m.Label != "bot-1" || m.Duration != 30*time.Second || m.Repeat != 3 || !m.Capture || m.Dump != "/tmp/out.pcap" {
		t.Errorf("measurement = %+v", m)
	}
	if cfg.Runtime != 5*time.Minute {
		t.Errorf("runtime = %v", cfg.Runtime)
	}
	// Unset sections keep their defaults.
	if cfg.Sink.Speaker.SampleRate != 48000 {
		t.Errorf("speaker default lost: %+v", cfg.Sink.Speaker)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Playback != def.Playback || cfg.Scheduler != def.Scheduler || cfg.Server != def.Server {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("playback:\n  sauce: 440\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "bad sink kind",
			yaml:    "sink:\n  kind: carrier-pigeon\n",
			wantErr: []string{"sink.kind"},
		},
		{
			name:    "discord needs credentials",
			yaml:    "sink:\n  kind: discord\n",
			wantErr: []string{"sink.discord.token", "sink.discord.guild_id", "sink.discord.channel_id"},
		},
		{
			name:    "measurement needs stats",
			yaml:    "measurement:\n  enabled: true\n",
			wantErr: []string{"measurement requires sink.kind"},
		},
		{
			name:    "dump needs capture",
			yaml:    "sink:\n  kind: loopback\nmeasurement:\n  enabled: true\n  dump: x.pcap\n",
			wantErr: []string{"measurement.dump"},
		},
		{
			name:    "negative volume",
			yaml:    "playback:\n  volume: -1\n",
			wantErr: []string{"playback.volume"},
		},
		{
			name:    "duplicate data channel",
			yaml:    "sink:\n  webrtc:\n    data_channels: [a, a]\n",
			wantErr: []string{"duplicate"},
		},
		{
			name:    "webrtc needs listener",
			yaml:    "server:\n  listen_addr: \"\"\nsink:\n  kind: webrtc\n",
			wantErr: []string{"server.listen_addr"},
		},
		{
			name:    "speaker rate",
			yaml:    "sink:\n  kind: speaker\n  speaker:\n    sample_rate: 8000\n",
			wantErr: []string{"sink.speaker.sample_rate"},
		},
		{
			name: "all errors are joined",
			yaml: "server:\n  log_level: loud\nplayback:\n  volume: -1\nruntime: -1s\n",
			wantErr: []string{
				"server.log_level", "playback.volume", "runtime",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cadence.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}
