package observe

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/cadence/pkg/rate"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWith(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is not an int64 sum", m.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordTick(t *testing.T) {
	m, reader := newTestMetrics(t)

	deadline := time.Now()
	m.RecordTick(deadline, deadline.Add(500*time.Microsecond))
	m.RecordTick(deadline, deadline.Add(-time.Millisecond)) // early ticks count as 0

	rm := collect(t, reader)
	ticks := findMetric(rm, "cadence.scheduler.ticks")
	if ticks == nil {
		t.Fatal("ticks metric not found")
	}
	if got := sumWith(t, ticks, "", ""); got != 2 {
		t.Errorf("ticks = %d, want 2", got)
	}

	lat := findMetric(rm, "cadence.scheduler.tick_lateness")
	if lat == nil {
		t.Fatal("lateness metric not found")
	}
	hist := lat.Data.(metricdata.Histogram[float64])
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("lateness count = %d, want 2", dp.Count)
	}
	if dp.Sum < 0.00049 || dp.Sum > 0.00051 {
		t.Errorf("lateness sum = %v, want 0.0005", dp.Sum)
	}
}

func TestRecordFinish(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFinish(ctx, true)
	m.RecordFinish(ctx, true)
	m.RecordFinish(ctx, false)

	met := findMetric(collect(t, reader), "cadence.producer.finishes")
	if met == nil {
		t.Fatal("finishes metric not found")
	}
	if got := sumWith(t, met, "looped", "true"); got != 2 {
		t.Errorf("looped finishes = %d, want 2", got)
	}
	if got := sumWith(t, met, "looped", "false"); got != 1 {
		t.Errorf("final finishes = %d, want 1", got)
	}
}

func TestRecordMeasurement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	start := time.Now()
	res := &rate.Result{
		Start:    start,
		End:      start.Add(time.Second),
		Measured: &rate.Counters{BytesSent: 7000, BytesReceived: 12000},
		Kinds: map[string]rate.Counters{
			rate.KindSelectedCandidate: {BytesSent: 4000, BytesReceived: 7000},
			rate.KindAudio:             {BytesSent: 3000, BytesReceived: 5000},
			"chat":                     {BytesSent: 100, BytesReceived: 100},
		},
	}
	m.RecordMeasurement(ctx, res, "ok")
	m.RecordMeasurement(ctx, nil, "error")

	rm := collect(t, reader)
	count := findMetric(rm, "cadence.rate.measurements")
	if count == nil {
		t.Fatal("measurements metric not found")
	}
	if got := sumWith(t, count, "status", "ok"); got != 1 {
		t.Errorf("ok measurements = %d, want 1", got)
	}
	if got := sumWith(t, count, "status", "error"); got != 1 {
		t.Errorf("error measurements = %d, want 1", got)
	}

	wire := findMetric(rm, "cadence.rate.wire_bytes")
	if wire == nil {
		t.Fatal("wire bytes metric not found")
	}
	if got := sumWith(t, wire, "direction", "bytesReceived"); got != 12000 {
		t.Errorf("wire received = %d, want 12000", got)
	}

	tp := findMetric(rm, "cadence.rate.throughput")
	if tp == nil {
		t.Fatal("throughput metric not found")
	}
	// Four kinds times two directions.
	if got := len(tp.Data.(metricdata.Histogram[float64]).DataPoints); got != 8 {
		t.Errorf("throughput series = %d, want 8", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
