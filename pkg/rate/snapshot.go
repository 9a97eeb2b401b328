package rate

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Kinds of traffic tracked in a [Snapshot]. Data channels are tracked under
// their label, see [ChannelKind].
const (
	KindSelectedCandidate = "selectedCandidate"
	KindAudio             = "audio"
	KindMeasured          = "measured"
)

// reservedChannelPrefix namespaces data channels whose label matches a
// built-in kind.
const reservedChannelPrefix = "channel:"

// ChannelKind returns the kind a data channel labelled label is tracked
// under: the label itself, or "channel:<label>" when the label collides with
// a built-in kind.
func ChannelKind(label string) string {
	switch label {
	case KindSelectedCandidate, KindAudio, KindMeasured:
		return reservedChannelPrefix + label
	}
	return label
}

// Counters is a pair of byte counters.
type Counters struct {
	BytesSent     int64 `json:"bytesSent"`
	BytesReceived int64 `json:"bytesReceived"`
}

// Sub returns c - o per key. Results may be negative if a counter was reset.
func (c Counters) Sub(o Counters) Counters {
	return Counters{BytesSent: c.BytesSent - o.BytesSent, BytesReceived: c.BytesReceived - o.BytesReceived}
}

// Add returns c + o per key.
func (c Counters) Add(o Counters) Counters {
	return Counters{BytesSent: c.BytesSent + o.BytesSent, BytesReceived: c.BytesReceived + o.BytesReceived}
}

// Endpoint is the remote side of the selected candidate pair.
type Endpoint struct {
	IP       string
	Port     int
	Protocol string
}

// String returns e.g. "192.0.2.1:3478/udp".
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port)) + "/" + e.Protocol
}

// Snapshot is a point-in-time read of transport counters.
type Snapshot struct {
	Taken time.Time

	// Kinds holds counters per kind: [KindSelectedCandidate] when a pair is
	// selected, [KindAudio], and one entry per data-channel label.
	Kinds map[string]Counters

	// Remote is the selected pair's remote endpoint, nil if unresolved.
	Remote *Endpoint

	// Reports is the raw statistics the snapshot was built from.
	Reports Reports
}

// Selected returns the selected candidate counters.
func (s *Snapshot) Selected() (Counters, bool) {
	c, ok := s.Kinds[KindSelectedCandidate]
	return c, ok
}

// TakeSnapshot reads src and reduces it to per-kind counters.
func TakeSnapshot(ctx context.Context, src StatsSource) (*Snapshot, error) {
	reports, err := src.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate: get stats: %w", err)
	}
	return NewSnapshot(reports, time.Now()), nil
}

// NewSnapshot reduces reports to per-kind counters.
func NewSnapshot(reports Reports, taken time.Time) *Snapshot {
	s := &Snapshot{
		Taken:   taken,
		Kinds:   make(map[string]Counters),
		Reports: reports,
	}

	if pair, ok := reports.SelectedCandidate(); ok {
		s.Kinds[KindSelectedCandidate] = Counters{BytesSent: pair.BytesSent, BytesReceived: pair.BytesReceived}
		if remote, ok := reports[pair.RemoteCandidateID]; ok && remote.IP != "" {
			s.Remote = &Endpoint{IP: remote.IP, Port: remote.Port, Protocol: remote.Protocol}
		}
	}

	var audio Counters
	for _, r := range reports.ByType(TypeInboundRTP, TypeOutboundRTP, TypeDataChannel) {
		c := Counters{BytesSent: r.BytesSent, BytesReceived: r.BytesReceived}
		switch {
		case r.Type == TypeDataChannel && r.Label != "":
			kind := ChannelKind(r.Label)
			if kind != r.Label {
				slog.Warn("rate: data channel label collides with a built-in kind", "label", r.Label, "kind", kind)
			}
			s.Kinds[kind] = s.Kinds[kind].Add(c)
		case r.Kind == KindAudio:
			audio = audio.Add(c)
		}
	}
	s.Kinds[KindAudio] = audio
	return s
}

// logDiagnostics dumps the reports that decide candidate selection.
func logDiagnostics(log *slog.Logger, label string, reports Reports) {
	for _, r := range reports.ByType(TypeCandidatePair, TypeRemoteCandidate, TypePeerConnection) {
		log.Warn("rate: candidate diagnostics",
			"label", label,
			"id", r.ID,
			"type", r.Type,
			"nominated", r.Nominated,
			"writable", r.Writable,
			"state", r.State,
			"remote_candidate_id", r.RemoteCandidateID,
			"ip", r.IP,
			"port", r.Port,
			"protocol", r.Protocol,
		)
	}
}
