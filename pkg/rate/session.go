package rate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadence/pkg/rate/capture"
	"github.com/dustin/go-humanize"
)

// ErrStopped is returned by [Session.Stop] after the first call.
var ErrStopped = errors.New("rate: measurement already stopped")

// ErrNoCandidate is recorded on a [Session] that could not find a selected
// candidate pair and therefore runs without wire capture.
var ErrNoCandidate = errors.New("rate: no selected candidate")

// ErrNoRemote is recorded on a [Session] whose selected candidate pair points
// at a remote candidate that is missing from the reports or has no address.
// It runs without wire capture.
var ErrNoRemote = errors.New("rate: selected candidate has no remote endpoint")

// Option configures [Start].
type Option func(*config)

type config struct {
	label   string
	log     *slog.Logger
	now     func() time.Time
	backend capture.Backend
	pool    *capture.BufferPool
	device  string
	dump    io.Writer
}

// WithLabel names the measurement in logs and results.
func WithLabel(label string) Option {
	return func(c *config) { c.label = label }
}

// WithLogger sets the logger. Default [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithClock overrides the time source used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithCapture enables wire-level capture through backend with buffers from
// pool. An empty device selects the backend's default device.
func WithCapture(backend capture.Backend, pool *capture.BufferPool, device string) Option {
	return func(c *config) {
		c.backend = backend
		c.pool = pool
		c.device = device
	}
}

// WithDump writes every captured packet to w in pcap format.
func WithDump(w io.Writer) Option {
	return func(c *config) { c.dump = w }
}

// Session is a running measurement. Stop must be called exactly once to
// release the capture.
type Session struct {
	cfg     config
	src     StatsSource
	initial *Snapshot
	capture *capture.Capture
	started time.Time
	degrade error

	mu      sync.Mutex
	stopped bool
}

// Start takes the initial snapshot and, if a capture backend is configured,
// opens the wire capture towards the selected candidate's remote endpoint.
//
// A missing selected candidate is not an error: the reports are logged and
// the session continues without wire capture ([Session.Degraded] returns
// [ErrNoCandidate], or [ErrNoRemote] when a pair is selected but its remote
// candidate cannot be resolved). Failing to open the capture is returned as an error;
// it affects only this session.
func Start(ctx context.Context, src StatsSource, opts ...Option) (*Session, error) {
	cfg := config{log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.backend != nil && cfg.pool == nil {
		cfg.pool = capture.NewBufferPool()
	}
	log := cfg.log.With("label", cfg.label)

	initial, err := TakeSnapshot(ctx, src)
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, src: src, initial: initial}

	_, selected := initial.Selected()
	switch {
	case !selected:
		log.Error("rate: no usable selected candidate, measuring without capture")
		logDiagnostics(log, cfg.label, initial.Reports)
		s.degrade = ErrNoCandidate
	case initial.Remote == nil:
		pair, _ := initial.Reports.SelectedCandidate()
		log.Error("rate: selected candidate has no remote endpoint, measuring without capture",
			"pair", pair.ID, "remote_candidate_id", pair.RemoteCandidateID)
		logDiagnostics(log, cfg.label, initial.Reports)
		s.degrade = ErrNoRemote
	case cfg.backend != nil:
		ep := initial.Remote
		c, err := capture.Start(cfg.backend, cfg.pool, ep.IP, ep.Port, ep.Protocol, capture.Options{
			Device: cfg.device,
			Dump:   cfg.dump,
			Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("rate: start capture for %s: %w", ep, err)
		}
		s.capture = c
	}

	s.started = cfg.now()
	attrs := []any{}
	if initial.Remote != nil {
		attrs = append(attrs, "remote", initial.Remote.String())
	}
	if s.capture != nil {
		attrs = append(attrs, "device", s.capture.Device(), "filter", s.capture.Filter())
	}
	log.Info("rate: measurement started", attrs...)
	return s, nil
}

// Label returns the measurement label.
func (s *Session) Label() string { return s.cfg.label }

// Initial returns the snapshot taken at start.
func (s *Session) Initial() *Snapshot { return s.initial }

// Degraded returns [ErrNoCandidate] or [ErrNoRemote] when the session runs
// without wire capture, and nil otherwise.
func (s *Session) Degraded() error { return s.degrade }

// Stop takes the final snapshot, closes the capture and returns the diff.
// The capture is closed even when the final snapshot fails. Only the first
// call does any work; later calls return [ErrStopped].
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.stopped = true
	s.mu.Unlock()

	log := s.cfg.log.With("label", s.cfg.label)

	final, snapErr := TakeSnapshot(ctx, s.src)

	var (
		measured *Counters
		capErr   error
		filter   string
	)
	if s.capture != nil {
		totals, err := s.capture.Close()
		capErr = err
		measured = &Counters{BytesSent: totals.BytesSent, BytesReceived: totals.BytesReceived}
		filter = totals.Filter
	}
	end := s.cfg.now()

	if err := errors.Join(snapErr, capErr); err != nil {
		return nil, err
	}

	res := &Result{
		Label:    s.cfg.label,
		Start:    s.started,
		End:      end,
		Measured: measured,
		Kinds:    make(map[string]Counters),
		Filter:   filter,
	}
	if s.initial.Remote != nil {
		res.Remote = *s.initial.Remote
	}
	for kind, first := range s.initial.Kinds {
		last, ok := final.Kinds[kind]
		if !ok {
			log.Warn("rate: kind missing from final snapshot", "kind", kind)
			continue
		}
		res.Kinds[kind] = last.Sub(first)
	}
	for kind := range final.Kinds {
		if _, ok := s.initial.Kinds[kind]; !ok {
			log.Warn("rate: kind missing from initial snapshot", "kind", kind)
		}
	}

	if measured != nil {
		elapsed := res.Elapsed()
		log.Info(fmt.Sprintf("rate: measurement stopped: %.0f => %.0f kbps over %s ms",
			Kbps(measured.BytesSent, elapsed),
			Kbps(measured.BytesReceived, elapsed),
			humanize.Comma(elapsed.Milliseconds())),
			"bytes_sent", humanize.Bytes(uint64(max(measured.BytesSent, 0))),
			"bytes_received", humanize.Bytes(uint64(max(measured.BytesReceived, 0))),
		)
	} else {
		log.Info("rate: measurement stopped without capture", "elapsed", res.Elapsed())
	}
	return res, nil
}
