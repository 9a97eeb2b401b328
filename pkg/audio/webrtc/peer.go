// Package webrtc connects the frame producer to a WebRTC peer through
// pion/webrtc. A [Peer] owns one peer connection with an Opus audio track fed
// by a [TrackSink], optional labelled data channels, and exposes the
// connection's statistics as a [rate.StatsSource] so its bandwidth can be
// measured.
//
// Peers are reached either through the HTTP [SignalingServer] or, for
// self-contained measurements, through an in-process [Loopback] pair.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/cadence/pkg/rate"
	"github.com/pion/webrtc/v3"
)

// ErrNoChannel is returned by [Peer.Send] for an unknown data channel label.
var ErrNoChannel = errors.New("webrtc: no such data channel")

// Config describes a peer connection.
type Config struct {
	// STUNServers are used during ICE negotiation. Empty means host
	// candidates only.
	STUNServers []string

	// Audio adds an Opus send track fed by [Peer.Sink].
	Audio bool

	// DataChannels lists labels of data channels to open. Only the offering
	// side creates them; the answering side learns them from the offer.
	DataChannels []string
}

// Peer is one WebRTC peer connection.
//
// Peer is safe for concurrent use.
type Peer struct {
	pc   *webrtc.PeerConnection
	sink *TrackSink
	log  *slog.Logger

	mu       sync.RWMutex
	channels map[string]*webrtc.DataChannel
	received map[string]int64

	connected chan struct{}
	failed    chan struct{}
	stateOnce sync.Once
	closeOnce sync.Once
}

// NewPeer creates a peer connection per cfg.
func NewPeer(cfg Config) (*Peer, error) {
	var ice []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, fmt.Errorf("webrtc: new peer connection: %w", err)
	}

	p := &Peer{
		pc:        pc,
		log:       slog.Default().With("component", "webrtc"),
		channels:  make(map[string]*webrtc.DataChannel),
		received:  make(map[string]int64),
		connected: make(chan struct{}),
		failed:    make(chan struct{}),
	}

	pc.OnConnectionStateChange(p.onState)
	pc.OnTrack(p.drainTrack)
	pc.OnDataChannel(p.addChannel)

	if cfg.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "cadence",
		)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("webrtc: new audio track: %w", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("webrtc: add audio track: %w", err)
		}
		// RTCP must be read for interceptors such as NACK to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
		p.sink = newTrackSink(track)
	}

	for _, label := range cfg.DataChannels {
		dc, err := pc.CreateDataChannel(label, nil)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("webrtc: create data channel %q: %w", label, err)
		}
		p.addChannel(dc)
	}
	return p, nil
}

// Sink returns the audio sink, or nil if the peer was created without audio.
func (p *Peer) Sink() *TrackSink { return p.sink }

// Stats returns the connection's statistics source.
func (p *Peer) Stats() rate.StatsSource { return StatsSource(p.pc) }

// Offer creates an offer and returns it once ICE gathering has completed, so
// the description carries every candidate.
func (p *Peer) Offer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

// Answer applies a remote offer and returns the complete answer.
func (p *Peer) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

// Accept applies the remote answer to a previous [Peer.Offer].
func (p *Peer) Accept(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("webrtc: set remote answer: %w", err)
	}
	return nil
}

func (p *Peer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *p.pc.LocalDescription(), nil
}

// WaitConnected blocks until the connection is established, fails or ctx is
// done.
func (p *Peer) WaitConnected(ctx context.Context) error {
	select {
	case <-p.connected:
		return nil
	case <-p.failed:
		return errors.New("webrtc: connection failed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes data on the channel labelled label.
func (p *Peer) Send(label string, data []byte) error {
	p.mu.RLock()
	dc, ok := p.channels[label]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoChannel, label)
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("webrtc: send on %q: %w", label, err)
	}
	return nil
}

// Channels returns the labels of the known data channels.
func (p *Peer) Channels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.channels))
	for l := range p.channels {
		out = append(out, l)
	}
	return out
}

// Received returns the bytes received on the data channel labelled label.
func (p *Peer) Received(label string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.received[label]
}

// Close stops the sink and closes the peer connection. Safe to call more
// than once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.sink != nil {
			p.sink.Close()
		}
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) onState(s webrtc.PeerConnectionState) {
	p.log.Info("webrtc: connection state changed", "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateConnected:
		p.stateOnce.Do(func() { close(p.connected) })
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		p.stateOnce.Do(func() { close(p.failed) })
	}
}

func (p *Peer) addChannel(dc *webrtc.DataChannel) {
	label := dc.Label()
	p.mu.Lock()
	p.channels[label] = dc
	p.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		p.received[label] += int64(len(msg.Data))
		p.mu.Unlock()
	})
}

// drainTrack reads and discards inbound media so the receive statistics
// advance.
func (p *Peer) drainTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	p.log.Info("webrtc: remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
