package webrtc

import (
	"context"
	"errors"
	"fmt"
)

// Pair is two peers connected to each other in-process. Local sends audio and
// owns the data channels; Remote drains everything it receives.
type Pair struct {
	Local  *Peer
	Remote *Peer
}

// Loopback negotiates a [Pair] without external signaling and waits until
// both sides are connected.
func Loopback(ctx context.Context, cfg Config) (*Pair, error) {
	local, err := NewPeer(cfg)
	if err != nil {
		return nil, err
	}
	remote, err := NewPeer(Config{STUNServers: cfg.STUNServers})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	pair := &Pair{Local: local, Remote: remote}

	if err := pair.negotiate(ctx); err != nil {
		_ = pair.Close()
		return nil, fmt.Errorf("webrtc: loopback: %w", err)
	}
	return pair, nil
}

func (pr *Pair) negotiate(ctx context.Context) error {
	offer, err := pr.Local.Offer(ctx)
	if err != nil {
		return err
	}
	answer, err := pr.Remote.Answer(ctx, offer)
	if err != nil {
		return err
	}
	if err := pr.Local.Accept(answer); err != nil {
		return err
	}
	if err := pr.Local.WaitConnected(ctx); err != nil {
		return err
	}
	return pr.Remote.WaitConnected(ctx)
}

// Close closes both peers.
func (pr *Pair) Close() error {
	return errors.Join(pr.Local.Close(), pr.Remote.Close())
}
