package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Scheduler
	if cfg.Scheduler.Margin < 0 {
		errs = append(errs, fmt.Errorf("scheduler.margin %s must not be negative", cfg.Scheduler.Margin))
	}

	// Playback
	if cfg.Playback.Source == "" {
		errs = append(errs, errors.New("playback.source is required"))
	}
	if cfg.Playback.Volume < 0 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f must not be negative", cfg.Playback.Volume))
	}
	if cfg.Playback.SineDuration < 0 {
		errs = append(errs, fmt.Errorf("playback.sine_duration %s must not be negative", cfg.Playback.SineDuration))
	}

	// Sink
	if !cfg.Sink.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("sink.kind %q is invalid; valid values: discard, webrtc, loopback, discord, speaker", cfg.Sink.Kind))
	}
	switch cfg.Sink.Kind {
	case SinkDiscord:
		d := cfg.Sink.Discord
		if d.Token == "" {
			errs = append(errs, errors.New("sink.discord.token is required"))
		}
		if d.GuildID == "" {
			errs = append(errs, errors.New("sink.discord.guild_id is required"))
		}
		if d.ChannelID == "" {
			errs = append(errs, errors.New("sink.discord.channel_id is required"))
		}
	case SinkWebRTC:
		if cfg.Server.ListenAddr == "" {
			errs = append(errs, errors.New("sink.kind webrtc requires server.listen_addr for signaling"))
		}
	case SinkSpeaker:
		s := cfg.Sink.Speaker
		if s.SampleRate != 44100 && s.SampleRate != 48000 {
			errs = append(errs, fmt.Errorf("sink.speaker.sample_rate %d is invalid; valid values: 44100, 48000", s.SampleRate))
		}
		if s.Channels != 1 && s.Channels != 2 {
			errs = append(errs, fmt.Errorf("sink.speaker.channels %d is invalid; valid values: 1, 2", s.Channels))
		}
		if s.Buffer <= 0 {
			errs = append(errs, fmt.Errorf("sink.speaker.buffer %s must be positive", s.Buffer))
		}
	}
	seen := make(map[string]int, len(cfg.Sink.WebRTC.DataChannels))
	for i, label := range cfg.Sink.WebRTC.DataChannels {
		prefix := fmt.Sprintf("sink.webrtc.data_channels[%d]", i)
		if label == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", prefix))
			continue
		}
		if prev, ok := seen[label]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of data_channels[%d]", prefix, label, prev))
		}
		seen[label] = i
	}
	if cfg.Sink.WebRTC.ChannelInterval < 0 {
		errs = append(errs, fmt.Errorf("sink.webrtc.channel_interval %s must not be negative", cfg.Sink.WebRTC.ChannelInterval))
	}
	if cfg.Sink.WebRTC.ChannelMessage <= 0 {
		errs = append(errs, fmt.Errorf("sink.webrtc.channel_message %d must be positive", cfg.Sink.WebRTC.ChannelMessage))
	}

	// Measurement
	m := cfg.Measurement
	if m.Enabled {
		if !cfg.Sink.Kind.HasStats() {
			errs = append(errs, fmt.Errorf("measurement requires sink.kind webrtc or loopback, got %q", cfg.Sink.Kind))
		}
		if m.Duration <= 0 {
			errs = append(errs, fmt.Errorf("measurement.duration %s must be positive", m.Duration))
		}
		if m.Delay < 0 {
			errs = append(errs, fmt.Errorf("measurement.delay %s must not be negative", m.Delay))
		}
		if m.Repeat < 0 {
			errs = append(errs, fmt.Errorf("measurement.repeat %d must not be negative", m.Repeat))
		}
		if m.Dump != "" && !m.Capture {
			errs = append(errs, errors.New("measurement.dump requires measurement.capture"))
		}
	}

	if cfg.Runtime < 0 {
		errs = append(errs, fmt.Errorf("runtime %s must not be negative", cfg.Runtime))
	}

	return errors.Join(errs...)
}
