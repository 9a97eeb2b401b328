package scheduler

import (
	"context"
	"errors"
	"time"
)

// DriftStats summarises how closely tick spacing tracked the requested
// interval during [MeasureDrift].
type DriftStats struct {
	Ticks int

	// MeanAbsDeviation is the mean of |actual spacing - interval| between
	// consecutive ticks.
	MeanAbsDeviation time.Duration

	// MaxDeviation is the largest single |actual spacing - interval|.
	MaxDeviation time.Duration

	// MeanLateness is the mean of (dispatch time - nominal deadline).
	MeanLateness time.Duration
}

// MeasureDrift runs a job with the given interval on a private loop for n
// ticks and reports the spacing error. opts are passed to [New], so
// [WithoutCorrection] measures the uncorrected baseline.
func MeasureDrift(ctx context.Context, interval time.Duration, n int, opts ...Option) (DriftStats, error) {
	if n < 2 {
		return DriftStats{}, errors.New("scheduler: drift measurement needs at least 2 ticks")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := NewLoop()
	go loop.Run(ctx)

	actual := make([]time.Time, 0, n)
	var lateness time.Duration
	done := make(chan struct{})

	observe := WithTickObserver(func(deadline, at time.Time) {
		lateness += at.Sub(deadline)
	})
	s := New(loop, append(opts, observe)...)

	var h *Handle
	start := func() {
		h = s.Start(func() {
			actual = append(actual, s.now())
			if len(actual) == n {
				h.Clear()
				close(done)
			}
		}, interval)
	}
	if err := loop.Do(ctx, start); err != nil {
		return DriftStats{}, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return DriftStats{}, ctx.Err()
	}

	stats := DriftStats{Ticks: len(actual), MeanLateness: lateness / time.Duration(len(actual))}
	var total time.Duration
	for i := 1; i < len(actual); i++ {
		dev := actual[i].Sub(actual[i-1]) - interval
		if dev < 0 {
			dev = -dev
		}
		total += dev
		stats.MaxDeviation = max(stats.MaxDeviation, dev)
	}
	stats.MeanAbsDeviation = total / time.Duration(len(actual)-1)
	return stats, nil
}
