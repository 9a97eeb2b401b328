// Package rate measures the bandwidth of one peer connection in two ways at
// once: the byte counters the transport reports about itself, and the bytes
// actually seen on the wire by a packet capture.
//
// Transport counters report payload only. Wire capture is the ground truth,
// and the per-kind payload diffs explain how the traffic is composed:
//
//	s, _ := rate.Start(ctx, stats, rate.WithCapture(capture.PcapBackend{}, pool, ""))
//	// ... traffic flows ...
//	res, err := s.Stop(ctx)
//	fmt.Println(res.Summary())
package rate

import (
	"cmp"
	"context"
	"slices"
)

// Report types understood by this package.
const (
	TypeCandidatePair   = "candidate-pair"
	TypeLocalCandidate  = "local-candidate"
	TypeRemoteCandidate = "remote-candidate"
	TypePeerConnection  = "peer-connection"
	TypeInboundRTP      = "inbound-rtp"
	TypeOutboundRTP     = "outbound-rtp"
	TypeDataChannel     = "data-channel"
)

// StatsReport is one entry of a transport statistics snapshot. Only the
// fields relevant to its Type are set.
type StatsReport struct {
	ID   string
	Type string

	// Candidate pair.
	Nominated         bool
	Writable          bool
	State             string
	RemoteCandidateID string

	// RTP streams ("audio", "video") and data channels.
	Kind  string
	Label string

	BytesSent     int64
	BytesReceived int64

	// Candidates.
	IP       string
	Port     int
	Protocol string
}

// Reports maps report IDs to reports.
type Reports map[string]StatsReport

// StatsSource is the statistics interface of a connected transport.
type StatsSource interface {
	Stats(ctx context.Context) (Reports, error)
}

// StatsFunc adapts a function to [StatsSource].
type StatsFunc func(ctx context.Context) (Reports, error)

// Stats calls fn(ctx).
func (fn StatsFunc) Stats(ctx context.Context) (Reports, error) { return fn(ctx) }

// IsSelected reports whether r is the candidate pair carrying traffic: it is
// nominated and either writable or succeeded.
func (r StatsReport) IsSelected() bool {
	return r.Nominated && (r.Writable || r.State == "succeeded")
}

// SelectedCandidate returns the selected candidate pair. When several
// qualify, the one with the smallest ID wins so the choice is stable.
func (rs Reports) SelectedCandidate() (StatsReport, bool) {
	for _, r := range rs.sorted() {
		if r.IsSelected() {
			return r, true
		}
	}
	return StatsReport{}, false
}

// ByType returns the reports of any of the given types, ordered by ID.
func (rs Reports) ByType(types ...string) []StatsReport {
	var out []StatsReport
	for _, r := range rs.sorted() {
		if slices.Contains(types, r.Type) {
			out = append(out, r)
		}
	}
	return out
}

func (rs Reports) sorted() []StatsReport {
	out := make([]StatsReport, 0, len(rs))
	for id, r := range rs {
		if r.ID == "" {
			r.ID = id
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b StatsReport) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
