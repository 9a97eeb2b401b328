package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/discord"
	"github.com/MrWong99/cadence/pkg/audio/speaker"
	"github.com/MrWong99/cadence/pkg/audio/webrtc"
	"github.com/MrWong99/cadence/pkg/rate"
)

// errNoPeer is returned by the webrtc sink's statistics while no remote peer
// is connected.
var errNoPeer = errors.New("app: no webrtc peer connected")

// openSink creates the sink selected by sink.kind.
func (a *App) openSink(ctx context.Context) error {
	sc := a.cfg.Sink
	peerCfg := webrtc.Config{
		STUNServers:  sc.WebRTC.STUNServers,
		Audio:        true,
		DataChannels: sc.WebRTC.DataChannels,
	}

	switch sc.Kind {
	case config.SinkDiscard, "":
		a.sink = audio.Discard

	case config.SinkWebRTC:
		sw := &audio.Switch{}
		a.signaling = webrtc.NewSignalingServer(peerCfg, func(p *webrtc.Peer) {
			if p == nil {
				sw.Set(nil)
				slog.Info("webrtc peer left")
				return
			}
			sw.Set(p.Sink())
			slog.Info("webrtc peer negotiated")
		})
		a.sink = sw
		a.stats = rate.StatsFunc(a.peerStats)
		a.closers = append(a.closers, a.signaling.Close)

	case config.SinkLoopback:
		pair, err := webrtc.Loopback(ctx, peerCfg)
		if err != nil {
			return err
		}
		a.pair = pair
		a.sink = pair.Local.Sink()
		a.stats = pair.Local.Stats()
		a.closers = append(a.closers, pair.Close)
		slog.Info("webrtc loopback connected", "data_channels", sc.WebRTC.DataChannels)

	case config.SinkDiscord:
		s, err := discord.Dial(ctx, sc.Discord.Token, sc.Discord.GuildID, sc.Discord.ChannelID)
		if err != nil {
			return err
		}
		a.sink = s
		a.closers = append(a.closers, s.Close)
		slog.Info("discord voice connected", "guild_id", sc.Discord.GuildID, "channel_id", sc.Discord.ChannelID)

	case config.SinkSpeaker:
		sp, err := speaker.New(speaker.Config{
			SampleRate: sc.Speaker.SampleRate,
			Channels:   sc.Speaker.Channels,
			Buffer:     sc.Speaker.Buffer,
		})
		if err != nil {
			return err
		}
		a.sink = sp
		a.closers = append(a.closers, sp.Close)

	default:
		return errors.New("unknown sink kind " + string(sc.Kind))
	}
	return nil
}

// peerStats reads the statistics of whichever peer is currently connected
// through signaling.
func (a *App) peerStats(ctx context.Context) (rate.Reports, error) {
	p := a.signaling.Current()
	if p == nil {
		return nil, errNoPeer
	}
	return p.Stats().Stats(ctx)
}

// channelTraffic sends one message per interval on every data channel of the
// loopback pair so the data-channel kinds carry traffic.
func (a *App) channelTraffic(ctx context.Context) error {
	wc := a.cfg.Sink.WebRTC
	msg := make([]byte, max(wc.ChannelMessage, 1))
	ticker := time.NewTicker(wc.ChannelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, label := range a.pair.Local.Channels() {
				if err := a.pair.Local.Send(label, msg); err != nil {
					slog.Debug("data channel send failed", "label", label, "err", err)
				}
			}
		}
	}
}

// sinkCounters reports the sent and dropped frame counts of sinks that queue
// frames for a background encoder.
func (a *App) sinkCounters() (sent, dropped int64, ok bool) {
	type counted interface {
		Sent() int64
		Dropped() int64
	}
	target := a.sink
	if a.signaling != nil {
		p := a.signaling.Current()
		if p == nil || p.Sink() == nil {
			return 0, 0, false
		}
		target = p.Sink()
	}
	if c, isCounted := target.(counted); isCounted {
		return c.Sent(), c.Dropped(), true
	}
	return 0, 0, false
}
