// Package observe provides application-wide observability primitives for
// cadence: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cadence/pkg/rate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all cadence metrics.
const meterName = "github.com/MrWong99/cadence"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Scheduler ---

	// Ticks counts scheduler ticks.
	Ticks metric.Int64Counter

	// TickLateness tracks how far after its deadline each tick ran.
	TickLateness metric.Float64Histogram

	// --- Producer ---

	// Frames counts frames handed to the sink.
	Frames metric.Int64Counter

	// Finishes counts sources reaching their end. Use with attribute:
	//   attribute.Bool("looped", ...)
	Finishes metric.Int64Counter

	// SinkErrors counts sink failures that paused the producer.
	SinkErrors metric.Int64Counter

	// --- Measurement ---

	// Measurements counts completed measurements. Use with attribute:
	//   attribute.String("status", "ok"|"degraded"|"error")
	Measurements metric.Int64Counter

	// Throughput records kbps per kind and direction. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("direction", ...)
	Throughput metric.Float64Histogram

	// WireBytes counts bytes seen by packet capture. Use with attribute:
	//   attribute.String("direction", ...)
	WireBytes metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latenessBuckets (seconds) resolve sub-millisecond deviations around the
// 10 ms tick.
var latenessBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// throughputBuckets (kbps) span a voice stream up to a busy data channel.
var throughputBuckets = []float64{
	8, 16, 32, 48, 64, 96, 128, 256, 512, 1024, 4096,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("cadence.scheduler.ticks",
		metric.WithDescription("Scheduler ticks executed."),
	); err != nil {
		return nil, err
	}
	if met.TickLateness, err = m.Float64Histogram("cadence.scheduler.tick_lateness",
		metric.WithDescription("Delay between a tick's deadline and its execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latenessBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Frames, err = m.Int64Counter("cadence.producer.frames",
		metric.WithDescription("Frames handed to the sink."),
	); err != nil {
		return nil, err
	}
	if met.Finishes, err = m.Int64Counter("cadence.producer.finishes",
		metric.WithDescription("Sources played to their end, by whether they looped."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("cadence.producer.sink_errors",
		metric.WithDescription("Sink failures that paused the producer."),
	); err != nil {
		return nil, err
	}

	if met.Measurements, err = m.Int64Counter("cadence.rate.measurements",
		metric.WithDescription("Completed bandwidth measurements by status."),
	); err != nil {
		return nil, err
	}
	if met.Throughput, err = m.Float64Histogram("cadence.rate.throughput",
		metric.WithDescription("Measured throughput by kind and direction."),
		metric.WithUnit("kbit/s"),
		metric.WithExplicitBucketBoundaries(throughputBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WireBytes, err = m.Int64Counter("cadence.rate.wire_bytes",
		metric.WithDescription("Bytes counted by packet capture by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cadence.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTick records one scheduler tick. It matches scheduler.TickFunc.
func (m *Metrics) RecordTick(deadline, actual time.Time) {
	ctx := context.Background()
	m.Ticks.Add(ctx, 1)
	m.TickLateness.Record(ctx, max(actual.Sub(deadline), 0).Seconds())
}

// RecordFinish records a source reaching its end.
func (m *Metrics) RecordFinish(ctx context.Context, looped bool) {
	m.Finishes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("looped", looped)))
}

// RecordMeasurement records the outcome of a measurement. res may be nil when
// status is "error".
func (m *Metrics) RecordMeasurement(ctx context.Context, res *rate.Result, status string) {
	m.Measurements.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if res == nil {
		return
	}

	kinds := append([]string{rate.KindMeasured, rate.KindSelectedCandidate, rate.KindAudio}, res.Channels()...)
	for _, kind := range kinds {
		if _, ok := res.Counters(kind); !ok {
			continue
		}
		for _, k := range []rate.Key{rate.BytesSent, rate.BytesReceived} {
			m.Throughput.Record(ctx, res.Kbps(kind, k),
				metric.WithAttributes(Attr("kind", kind), Attr("direction", k.String())),
			)
		}
	}
	if res.Measured != nil {
		m.WireBytes.Add(ctx, max(res.Measured.BytesSent, 0), metric.WithAttributes(Attr("direction", rate.BytesSent.String())))
		m.WireBytes.Add(ctx, max(res.Measured.BytesReceived, 0), metric.WithAttributes(Attr("direction", rate.BytesReceived.String())))
	}
}
