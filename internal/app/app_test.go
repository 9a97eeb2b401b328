package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	audiomock "github.com/MrWong99/cadence/pkg/audio/mock"
	"github.com/MrWong99/cadence/pkg/audio/producer"
	"github.com/MrWong99/cadence/pkg/rate"
	"go.opentelemetry.io/otel/metric/noop"
)

// testConfig returns a config that plays the default sine without an HTTP
// server.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// growingStats reports a selected candidate pair and an audio stream whose
// counters grow by a fixed amount on every call.
type growingStats struct {
	mu    sync.Mutex
	calls int64
}

func (s *growingStats) Stats(context.Context) (rate.Reports, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	n := s.calls * 1000
	return rate.Reports{
		"pair": {
			ID: "pair", Type: rate.TypeCandidatePair, Nominated: true, State: "succeeded",
			RemoteCandidateID: "remote", BytesSent: n, BytesReceived: n / 2,
		},
		"remote": {ID: "remote", Type: rate.TypeRemoteCandidate, IP: "192.0.2.1", Port: 3478, Protocol: "udp"},
		"out":    {ID: "out", Type: rate.TypeOutboundRTP, Kind: rate.KindAudio, BytesSent: n / 2},
	}, nil
}

type memStore struct {
	mu    sync.Mutex
	saved []*rate.Result
}

func (s *memStore) Save(_ context.Context, res *rate.Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, res)
	return int64(len(s.saved)), nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestNew_InvalidSource(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Playback.Source = "  "

	_, err := app.New(context.Background(), cfg, app.WithSink(&audiomock.Sink{}, nil), app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestRun_PlaysUntilRuntime(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Runtime = 250 * time.Millisecond
	sink := &audiomock.Sink{}

	a, err := app.New(context.Background(), cfg, app.WithSink(sink, nil), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	frames := sink.Frames()
	if len(frames) < 5 {
		t.Fatalf("got %d frames after 250ms, want at least 5", len(frames))
	}
	// The default source is an 8 kHz mono sine: 80 samples per 10 ms frame.
	if f := frames[0]; f.SampleRate != 8000 || f.Channels != 1 || f.SampleCount != 80 {
		t.Errorf("frame = %v, want 8000Hz mono with 80 samples", f)
	}
	if a.LastTick().IsZero() {
		t.Error("LastTick not recorded")
	}
	if st := a.Producer().State(); st == producer.Playing {
		t.Errorf("producer state after Run = %v, want paused", st)
	}
}

func TestRun_SinkErrorIsFatal(t *testing.T) {
	t.Parallel()
	errBroken := errors.New("broken pipe")
	cfg := testConfig()
	cfg.Runtime = 5 * time.Second

	a, err := app.New(context.Background(), cfg,
		app.WithSink(&audiomock.Sink{WriteError: errBroken}, nil),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	err = a.Run(context.Background())
	if !errors.Is(err, errBroken) {
		t.Fatalf("Run error = %v, want %v", err, errBroken)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Run did not stop promptly after the sink failed")
	}
}

func TestRun_MeasuresAndStores(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Runtime = 600 * time.Millisecond
	cfg.Measurement.Enabled = true
	cfg.Measurement.Label = "bot"
	cfg.Measurement.Duration = 50 * time.Millisecond
	cfg.Measurement.Repeat = 2
	store := &memStore{}

	a, err := app.New(context.Background(), cfg,
		app.WithSink(&audiomock.Sink{}, &growingStats{}),
		app.WithStore(store),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := a.Results()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, want := range []string{"bot#1", "bot#2"} {
		res := results[i]
		if res.Label != want {
			t.Errorf("result %d label = %q, want %q", i, res.Label, want)
		}
		// Each measurement reads the stats twice, one call apart.
		if got := res.Kinds[rate.KindSelectedCandidate].BytesSent; got != 1000 {
			t.Errorf("result %d selected bytes sent = %d, want 1000", i, got)
		}
		if res.Measured != nil {
			t.Errorf("result %d has wire counters without capture", i)
		}
	}
	if store.len() != 2 {
		t.Errorf("stored %d results, want 2", store.len())
	}
}

func TestHandler_StatusAndReadiness(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	a, err := app.New(context.Background(), cfg, app.WithSink(&audiomock.Sink{}, nil), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before play = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/statusz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("statusz = %d, want 200", rec.Code)
	}
	var st app.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Source != "440" || st.State != "unloaded" || st.Volume != 1 || !st.Loop {
		t.Errorf("status = %+v", st)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}

	// No metrics handler configured.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics = %d, want 404", rec.Code)
	}
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) Save(context.Context, *rate.Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 0, errors.New("connection refused")
}

func TestRun_FailingStoreIsBypassed(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Runtime = 800 * time.Millisecond
	cfg.Measurement.Enabled = true
	cfg.Measurement.Duration = 10 * time.Millisecond
	cfg.Measurement.Repeat = 5
	store := &failingStore{}

	a, err := app.New(context.Background(), cfg,
		app.WithSink(&audiomock.Sink{}, &growingStats{}),
		app.WithStore(store),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(a.Results()); got != 5 {
		t.Errorf("got %d results, want 5", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 3 {
		t.Errorf("store called %d times, want 3 before the breaker opened", store.calls)
	}
}
