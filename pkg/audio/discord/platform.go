// Package discord provides an [audio.Sink] backed by a Discord voice channel
// via the bwmarrin/discordgo library. Frames are encoded to 48 kHz stereo
// Opus and sent on the voice connection.
//
// [Join] uses an existing *discordgo.Session; [Dial] opens a bot session from
// a token and closes it together with the sink.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Join joins the voice channel identified by channelID in guildID and returns
// a [Sink] sending to it. ctx bounds the join only.
func Join(ctx context.Context, session *discordgo.Session, guildID, channelID string) (*Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mute=false (we send audio), deaf=true (we never read audio).
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newSink(vc.OpusSend, vc.Speaking, vc.Disconnect), nil
}

// Dial opens a bot session with token, joins the voice channel and returns
// a [Sink]. Closing the sink also closes the session.
func Dial(ctx context.Context, token, guildID, channelID string) (*Sink, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	s, err := Join(ctx, session, guildID, channelID)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	vcDisconnect := s.disconnect
	s.disconnect = func() error {
		return errors.Join(vcDisconnect(), session.Close())
	}
	return s, nil
}
