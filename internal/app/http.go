package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/MrWong99/cadence/internal/health"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/resilience"
	"github.com/MrWong99/cadence/pkg/audio/producer"
	"github.com/MrWong99/cadence/pkg/rate"
)

// tickStaleAfter fails readiness when a playing producer has not ticked for
// this long.
const tickStaleAfter = time.Second

// Handler returns the application's HTTP handler: health probes, /statusz,
// /metrics when a metrics handler was supplied, and WebRTC signaling for the
// webrtc sink. Every route goes through [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	checkers := []health.Checker{{Name: "producer", Check: a.checkProducer}}
	if a.backend != nil && a.cfg.Measurement.Device == "" {
		checkers = append(checkers, health.Checker{Name: "capture", Check: func(context.Context) error {
			_, err := a.backend.DefaultDevice()
			return err
		}})
	}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "storage", Check: func(context.Context) error {
			if a.guard.State() == resilience.Open {
				return errors.New("result store failing, writes suspended")
			}
			return nil
		}})
	}
	health.New(checkers...).WithStatus(a.status).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	if a.signaling != nil {
		mux.Handle("/webrtc/", a.signaling.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("http server listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http server: %w", err)
	}
	return nil
}

// checkProducer fails while a playing producer's ticks have stalled.
func (a *App) checkProducer(ctx context.Context) error {
	switch st := a.producer.State(); st {
	case producer.Playing:
		return health.Recent("tick", tickStaleAfter, a.LastTick)(ctx)
	case producer.Unloaded:
		return errors.New("source not loaded")
	default:
		return nil
	}
}

// Status is the JSON body of GET /statusz.
type Status struct {
	Source string  `json:"source"`
	Sink   string  `json:"sink"`
	State  string  `json:"state"`
	Volume float64 `json:"volume"`
	Loop   bool    `json:"loop"`
	Cursor int64   `json:"cursor"`

	LastTick     *time.Time `json:"last_tick,omitempty"`
	FramesSent   *int64     `json:"frames_sent,omitempty"`
	FramesDropped *int64     `json:"frames_dropped,omitempty"`

	Measurements []MeasurementStatus `json:"measurements,omitempty"`
}

// MeasurementStatus summarises one completed measurement.
type MeasurementStatus struct {
	Label   string        `json:"label"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Summary string        `json:"summary"`

	// Factors are omitted when wire capture did not run.
	FactorSent     *float64 `json:"factor_sent,omitempty"`
	FactorReceived *float64 `json:"factor_received,omitempty"`
}

func (a *App) status(context.Context) any {
	st := Status{
		Source: a.cfg.Playback.Source,
		Sink:   string(a.cfg.Sink.Kind),
		State:  a.producer.State().String(),
		Volume: a.producer.Volume(),
		Loop:   a.producer.Looping(),
		Cursor: a.producer.Cursor(),
	}
	if t := a.LastTick(); !t.IsZero() {
		st.LastTick = &t
	}
	if sent, dropped, ok := a.sinkCounters(); ok {
		st.FramesSent, st.FramesDropped = &sent, &dropped
	}
	for _, res := range a.Results() {
		st.Measurements = append(st.Measurements, MeasurementStatus{
			Label:          res.Label,
			Elapsed:        res.Elapsed(),
			Summary:        res.Summary(),
			FactorSent:     finite(res.Factor(rate.BytesSent)),
			FactorReceived: finite(res.Factor(rate.BytesReceived)),
		})
	}
	return st
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
