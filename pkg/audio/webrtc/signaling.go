package webrtc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v3"
)

// SignalingServer lets one remote peer at a time connect over HTTP. A new
// offer replaces and closes the previous peer.
type SignalingServer struct {
	cfg    Config
	onPeer func(*Peer)

	mu      sync.Mutex
	current *Peer
}

// NewSignalingServer creates a server creating peers from cfg. onPeer is
// called with every newly negotiated peer, and with nil when the peer leaves.
func NewSignalingServer(cfg Config, onPeer func(*Peer)) *SignalingServer {
	return &SignalingServer{cfg: cfg, onPeer: onPeer}
}

// Handler returns an http.Handler that serves the signaling endpoints:
//
//	POST   /webrtc/offer: peer sends an SDP offer, gets the complete SDP answer
//	DELETE /webrtc/peer:  disconnect the current peer
func (s *SignalingServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webrtc/offer", s.handleOffer)
	mux.HandleFunc("DELETE /webrtc/peer", s.handleLeave)
	return mux
}

// Current returns the connected peer, or nil.
func (s *SignalingServer) Current() *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close closes the current peer.
func (s *SignalingServer) Close() error {
	return s.replace(nil)
}

func (s *SignalingServer) handleOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		http.Error(w, "an SDP offer is required", http.StatusBadRequest)
		return
	}

	cfg := s.cfg
	// The remote side offers; its data channels arrive with the offer.
	cfg.DataChannels = nil
	p, err := NewPeer(cfg)
	if err != nil {
		http.Error(w, "failed to create peer: "+err.Error(), http.StatusInternalServerError)
		return
	}
	answer, err := p.Answer(r.Context(), offer)
	if err != nil {
		_ = p.Close()
		http.Error(w, "failed to answer: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.replace(p); err != nil {
		slog.Warn("webrtc: close previous peer", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(answer)
}

func (s *SignalingServer) handleLeave(w http.ResponseWriter, _ *http.Request) {
	if s.Current() == nil {
		http.Error(w, "no peer connected", http.StatusNotFound)
		return
	}
	if err := s.replace(nil); err != nil {
		http.Error(w, "failed to close peer: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *SignalingServer) replace(p *Peer) error {
	s.mu.Lock()
	prev := s.current
	s.current = p
	s.mu.Unlock()

	if s.onPeer != nil && (p != nil || prev != nil) {
		s.onPeer(p)
	}
	if prev == nil {
		return nil
	}
	return prev.Close()
}
