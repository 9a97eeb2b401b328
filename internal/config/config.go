// Package config provides the configuration schema and loader for cadence.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// SinkKind selects where produced frames go.
type SinkKind string

const (
	// SinkDiscard drops frames; useful for scheduler soak tests.
	SinkDiscard SinkKind = "discard"

	// SinkWebRTC serves HTTP signaling and streams to the connected peer.
	SinkWebRTC SinkKind = "webrtc"

	// SinkLoopback streams to an in-process WebRTC peer.
	SinkLoopback SinkKind = "loopback"

	// SinkDiscord streams to a Discord voice channel.
	SinkDiscord SinkKind = "discord"

	// SinkSpeaker plays on the local sound card.
	SinkSpeaker SinkKind = "speaker"
)

// IsValid reports whether k is a recognised sink kind.
func (k SinkKind) IsValid() bool {
	switch k {
	case SinkDiscard, SinkWebRTC, SinkLoopback, SinkDiscord, SinkSpeaker:
		return true
	}
	return false
}

// HasStats reports whether the sink exposes transport statistics that can be
// measured.
func (k SinkKind) HasStats() bool {
	return k == SinkWebRTC || k == SinkLoopback
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Sink        SinkConfig        `yaml:"sink"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Storage     StorageConfig     `yaml:"storage"`

	// Runtime stops the bot after this long. Zero runs until interrupted.
	Runtime time.Duration `yaml:"runtime"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz, /readyz and WebRTC signaling.
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON logs.
	LogFormat LogFormat `yaml:"log_format"`
}

// SchedulerConfig tunes the frame pump.
type SchedulerConfig struct {
	// Margin is how early the coarse timer wakes before a deadline.
	Margin time.Duration `yaml:"margin"`

	// DisableCorrection uses the coarse timer only, for comparison runs.
	DisableCorrection bool `yaml:"disable_correction"`
}

// PlaybackConfig describes what is played.
type PlaybackConfig struct {
	// Source is a sine frequency in Hz ("440"), a file name resolved against
	// AudioDir, a path, or a file/http(s) URL.
	Source string `yaml:"source"`

	// AudioDir resolves bare file names in Source.
	AudioDir string `yaml:"audio_dir"`

	// Volume scales every sample. Hot-reloadable.
	Volume float64 `yaml:"volume"`

	// Loop restarts the source when it ends. Hot-reloadable.
	Loop bool `yaml:"loop"`

	// SineDuration makes a sine source finite.
	SineDuration time.Duration `yaml:"sine_duration"`
}

// SinkConfig selects and configures the frame destination.
type SinkConfig struct {
	Kind    SinkKind      `yaml:"kind"`
	WebRTC  WebRTCConfig  `yaml:"webrtc"`
	Discord DiscordConfig `yaml:"discord"`
	Speaker SpeakerConfig `yaml:"speaker"`
}

// WebRTCConfig configures the webrtc and loopback sinks.
type WebRTCConfig struct {
	STUNServers  []string `yaml:"stun_servers"`
	DataChannels []string `yaml:"data_channels"`

	// ChannelInterval is how often the loopback sink sends a message on
	// each data channel. Zero disables the traffic.
	ChannelInterval time.Duration `yaml:"channel_interval"`

	// ChannelMessage is the message size in bytes.
	ChannelMessage int `yaml:"channel_message"`
}

// DiscordConfig configures the discord sink.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// SpeakerConfig configures the speaker sink.
type SpeakerConfig struct {
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	Buffer     time.Duration `yaml:"buffer"`
}

// MeasurementConfig controls bandwidth measurement.
type MeasurementConfig struct {
	Enabled bool   `yaml:"enabled"`
	Label   string `yaml:"label"`

	// Delay waits before the first measurement so the connection settles.
	Delay time.Duration `yaml:"delay"`

	// Duration is the length of one measurement.
	Duration time.Duration `yaml:"duration"`

	// Repeat runs this many measurements back to back and logs their
	// average. Zero or one means a single measurement.
	Repeat int `yaml:"repeat"`

	// Capture counts bytes on the wire with pcap next to the transport's own
	// counters.
	Capture bool `yaml:"capture"`

	// Device is the capture interface. Empty picks the first non-loopback
	// device with an address.
	Device string `yaml:"device"`

	// Dump writes captured packets to this pcap file.
	Dump string `yaml:"dump"`
}

// StorageConfig configures result persistence.
type StorageConfig struct {
	// PostgresDSN enables storing measurement results. Empty disables it.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
			LogFormat:  LogFormatText,
		},
		Scheduler: SchedulerConfig{Margin: 2 * time.Millisecond},
		Playback: PlaybackConfig{
			Source: "440",
			Volume: 1,
			Loop:   true,
		},
		Sink: SinkConfig{
			Kind: SinkDiscard,
			WebRTC: WebRTCConfig{
				ChannelMessage: 1024,
			},
			Speaker: SpeakerConfig{
				SampleRate: 48000,
				Channels:   2,
				Buffer:     200 * time.Millisecond,
			},
		},
		Measurement: MeasurementConfig{
			Label:    "cadence",
			Duration: 10 * time.Second,
		},
	}
}
