package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/rate"
)

// measure waits for measurement.delay, then runs measurement.repeat
// measurements back to back and logs their average. A failed measurement is
// logged and counted; it never stops the application.
func (a *App) measure(ctx context.Context) error {
	mc := a.cfg.Measurement
	repeat := max(mc.Repeat, 1)

	if !sleep(ctx, mc.Delay) {
		return nil
	}

	var results []*rate.Result
	for i := range repeat {
		res, err := a.measureOnce(ctx, i, repeat)
		if err != nil {
			slog.Error("measurement failed", "label", mc.Label, "run", i+1, "err", err)
			a.metrics.RecordMeasurement(ctx, nil, "error")
		} else {
			results = append(results, res)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if len(results) > 1 {
		avg := rate.Aggregate(results)
		slog.Info("measurement average",
			"label", mc.Label,
			"results", len(results),
			"summary", avg.Summary(),
		)
	}
	return nil
}

// measureOnce runs one measurement. When ctx ends early the measurement is
// stopped and its partial result returned.
func (a *App) measureOnce(ctx context.Context, run, repeat int) (*rate.Result, error) {
	mc := a.cfg.Measurement
	ctx, span := observe.StartSpan(ctx, "rate.measure")
	defer span.End()
	log := observe.Logger(ctx)

	label := mc.Label
	if repeat > 1 {
		label = fmt.Sprintf("%s#%d", label, run+1)
	}
	opts := []rate.Option{rate.WithLabel(label), rate.WithLogger(log)}
	if a.backend != nil {
		opts = append(opts, rate.WithCapture(a.backend, a.pool, mc.Device))
	}
	if mc.Dump != "" && a.backend != nil {
		f, err := os.Create(dumpPath(mc.Dump, run, repeat))
		if err != nil {
			return nil, fmt.Errorf("app: create capture dump: %w", err)
		}
		defer f.Close()
		opts = append(opts, rate.WithDump(f))
	}

	s, err := rate.Start(ctx, a.stats, opts...)
	if err != nil {
		return nil, err
	}
	sleep(ctx, mc.Duration)

	// The session must be stopped even when ctx is already done, or the
	// capture stays open.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	res, err := s.Stop(stopCtx)
	if err != nil {
		return nil, err
	}

	status := "ok"
	if s.Degraded() != nil {
		status = "degraded"
	}
	a.metrics.RecordMeasurement(stopCtx, res, status)
	log.Info("measurement result", "label", res.Label, "status", status, "summary", res.Summary())

	a.mu.Lock()
	a.results = append(a.results, res)
	a.mu.Unlock()

	if a.store != nil {
		id, err := a.saveResult(stopCtx, res)
		if err != nil {
			log.Warn("failed to store measurement result", "label", res.Label, "err", err)
		} else {
			log.Debug("measurement result stored", "label", res.Label, "id", id)
		}
	}
	return res, nil
}

// dumpPath numbers the dump file per run when several runs are configured:
// "out.pcap" becomes "out-2.pcap" for the second run.
func dumpPath(path string, run, repeat int) string {
	if repeat <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), run+1, ext)
}
