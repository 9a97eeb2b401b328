package webrtc

import (
	"context"

	"github.com/MrWong99/cadence/pkg/rate"
	"github.com/pion/webrtc/v3"
)

// statsGetter is the part of *webrtc.PeerConnection read by [StatsSource].
type statsGetter interface {
	GetStats() webrtc.StatsReport
}

// StatsSource adapts a peer connection's GetStats to [rate.StatsSource].
func StatsSource(pc statsGetter) rate.StatsSource {
	return rate.StatsFunc(func(ctx context.Context) (rate.Reports, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return convertStats(pc.GetStats()), nil
	})
}

// convertStats keeps the report types the rate package understands. pion
// does not report candidate pair writability, so selection relies on the
// pair state.
func convertStats(report webrtc.StatsReport) rate.Reports {
	out := make(rate.Reports, len(report))
	for id, s := range report {
		var r rate.StatsReport
		switch s := s.(type) {
		case webrtc.ICECandidatePairStats:
			r = rate.StatsReport{
				Type:              string(s.Type),
				Nominated:         s.Nominated,
				State:             string(s.State),
				RemoteCandidateID: s.RemoteCandidateID,
				BytesSent:         int64(s.BytesSent),
				BytesReceived:     int64(s.BytesReceived),
			}
		case webrtc.ICECandidateStats:
			r = rate.StatsReport{
				Type:     string(s.Type),
				IP:       s.IP,
				Port:     int(s.Port),
				Protocol: s.Protocol,
			}
		case webrtc.InboundRTPStreamStats:
			r = rate.StatsReport{
				Type:          string(s.Type),
				Kind:          s.Kind,
				BytesReceived: int64(s.BytesReceived),
			}
		case webrtc.OutboundRTPStreamStats:
			r = rate.StatsReport{
				Type:      string(s.Type),
				Kind:      s.Kind,
				BytesSent: int64(s.BytesSent),
			}
		case webrtc.DataChannelStats:
			r = rate.StatsReport{
				Type:          string(s.Type),
				Label:         s.Label,
				BytesSent:     int64(s.BytesSent),
				BytesReceived: int64(s.BytesReceived),
			}
		case webrtc.PeerConnectionStats:
			r = rate.StatsReport{Type: string(s.Type)}
		default:
			continue
		}
		r.ID = id
		out[id] = r
	}
	return out
}
