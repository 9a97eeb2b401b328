// Package app wires the cadence subsystems into a running application.
//
// [New] builds the scheduler, the source, the sink and the measurement
// dependencies from the config. [App.Run] plays the source, serves HTTP,
// runs the configured measurements and applies hot config reloads until the
// context is done or the configured runtime has elapsed. [App.Shutdown]
// releases everything in reverse order of acquisition.
//
// For testing, inject doubles via functional options ([WithSink],
// [WithStore], [WithCaptureBackend], ...). When an option is not provided,
// New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/resilience"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/producer"
	"github.com/MrWong99/cadence/pkg/audio/source"
	"github.com/MrWong99/cadence/pkg/audio/webrtc"
	"github.com/MrWong99/cadence/pkg/rate"
	"github.com/MrWong99/cadence/pkg/rate/capture"
	"github.com/MrWong99/cadence/pkg/rate/postgres"
	"github.com/MrWong99/cadence/pkg/scheduler"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the HTTP server drain and the final measurement
// stop once the run context is done.
const shutdownTimeout = 5 * time.Second

// ResultStore persists measurement results.
type ResultStore interface {
	Save(ctx context.Context, res *rate.Result) (int64, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg            *config.Config
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	configPath     string
	watchInterval  time.Duration

	loop     *scheduler.Loop
	sched    *scheduler.Scheduler
	src      source.Source
	producer *producer.Producer

	sink      audio.Sink
	stats     rate.StatsSource
	signaling *webrtc.SignalingServer
	pair      *webrtc.Pair

	store   ResultStore
	guard   *resilience.Breaker // around store
	backend capture.Backend
	pool    *capture.BufferPool

	lastTick atomic.Int64 // unix nanoseconds of the latest tick
	fatal    chan error

	mu      sync.Mutex
	results []*rate.Result

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSink injects the frame sink and, optionally, the statistics of the
// transport behind it. The configured sink kind is then ignored.
func WithSink(sink audio.Sink, stats rate.StatsSource) Option {
	return func(a *App) {
		a.sink = sink
		a.stats = stats
	}
}

// WithStore injects the result store instead of connecting to PostgreSQL.
func WithStore(s ResultStore) Option {
	return func(a *App) { a.store = s }
}

// WithCaptureBackend injects the packet capture backend used when
// measurement.capture is enabled. Default [capture.PcapBackend].
func WithCaptureBackend(b capture.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics sets the metric instruments. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets hot reloads change the level of the process logger.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(a *App) { a.level = level }
}

// WithConfigWatch polls path every interval during Run and applies the
// hot-reloadable fields. A zero interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// New creates an App from cfg. It connects the sink and the result store
// synchronously, so errors from either are returned here.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		fatal: make(chan error, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	src, err := newSource(cfg.Playback)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.src = src

	a.loop = scheduler.NewLoop()
	a.sched = scheduler.New(a.loop, schedulerOptions(cfg.Scheduler, a.onTick)...)

	if a.sink == nil {
		if err := a.openSink(ctx); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: open %s sink: %w", cfg.Sink.Kind, err)
		}
	}

	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	a.guard = resilience.New(resilience.Config{Name: "result-store"})

	if cfg.Measurement.Enabled && cfg.Measurement.Capture {
		if a.backend == nil {
			a.backend = capture.PcapBackend{}
		}
		a.pool = capture.NewBufferPool()
	}

	a.producer = producer.New(a.sched, src, a.countFrames(a.sink),
		producer.WithLoop(cfg.Playback.Loop),
		producer.WithVolume(cfg.Playback.Volume),
		producer.WithErrorHandler(a.onSinkError),
		producer.WithFinishHook(a.onFinish),
	)
	return a, nil
}

func newSource(pc config.PlaybackConfig) (source.Source, error) {
	src, err := source.Parse(pc.Source, pc.AudioDir)
	if err != nil {
		return nil, err
	}
	if sine, ok := src.(*source.Sine); ok && pc.SineDuration > 0 {
		sine.Duration = pc.SineDuration
	}
	return src, nil
}

func schedulerOptions(sc config.SchedulerConfig, observer scheduler.TickFunc) []scheduler.Option {
	opts := []scheduler.Option{scheduler.WithTickObserver(observer)}
	if sc.DisableCorrection {
		return append(opts, scheduler.WithoutCorrection())
	}
	if sc.Margin > 0 {
		opts = append(opts, scheduler.WithMargin(sc.Margin))
	}
	return opts
}

// initStore connects to PostgreSQL unless a store was injected or no DSN is
// configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil || a.cfg.Storage.PostgresDSN == "" {
		return nil
	}
	store, closeDB, err := postgres.Connect(ctx, a.cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return closeDB(ctx)
	})
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.store = store
	slog.Info("result storage connected")
	return nil
}

// saveResult stores res unless the store has failed repeatedly.
func (a *App) saveResult(ctx context.Context, res *rate.Result) (int64, error) {
	var id int64
	err := a.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = a.store.Save(ctx, res)
		return err
	})
	return id, err
}

// Run plays the source and blocks until ctx is done, the runtime elapses or a
// subsystem fails. A sink error in the tick path is fatal and returned.
// Reaching the end of ctx or the runtime returns nil.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Runtime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Runtime)
		defer cancel()
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreDone(a.loop.Run(ctx)) })

	g.Go(func() error {
		return observe.Traced(ctx, "producer.play", func(ctx context.Context) error {
			if err := a.producer.Play(ctx); err != nil {
				return fmt.Errorf("app: play: %w", err)
			}
			info := a.producer.Info()
			observe.Logger(ctx).Info("playback started",
				"source", a.cfg.Playback.Source,
				"sample_rate", info.SampleRate,
				"channels", info.Channels,
				"sink", a.cfg.Sink.Kind,
			)
			return nil
		})
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-a.fatal:
			return err
		}
	})

	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serve(ctx) })
	}

	if a.cfg.Measurement.Enabled {
		if a.stats == nil {
			slog.Warn("measurement enabled but the sink has no transport statistics", "sink", a.cfg.Sink.Kind)
		} else {
			g.Go(func() error { return a.measure(ctx) })
		}
	}

	if a.pair != nil && a.cfg.Sink.WebRTC.ChannelInterval > 0 {
		g.Go(func() error { return a.channelTraffic(ctx) })
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithInterval(a.watchInterval))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	slog.Info("cadence running", "runtime", a.cfg.Runtime, "listen_addr", a.cfg.Server.ListenAddr)
	err := g.Wait()
	a.producer.Pause()
	return err
}

// Shutdown stops playback and closes all subsystems in reverse order of
// acquisition. Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.producer.Pause()
		done := make(chan struct{})
		go func() {
			defer close(done)
			err = a.closeAll()
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Producer returns the frame producer.
func (a *App) Producer() *producer.Producer { return a.producer }

// Results returns the completed measurements, oldest first.
func (a *App) Results() []*rate.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*rate.Result(nil), a.results...)
}

func (a *App) onTick(deadline, actual time.Time) {
	a.lastTick.Store(actual.UnixNano())
	a.metrics.RecordTick(deadline, actual)
}

// LastTick returns when the scheduler last ran the frame pump.
func (a *App) LastTick() time.Time {
	ns := a.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (a *App) countFrames(sink audio.Sink) audio.Sink {
	return audio.SinkFunc(func(f audio.Frame) error {
		if err := sink.WriteFrame(f); err != nil {
			return err
		}
		a.metrics.Frames.Add(context.Background(), 1)
		return nil
	})
}

// onSinkError runs on the loop goroutine; the producer is already paused.
func (a *App) onSinkError(err error) {
	a.metrics.SinkErrors.Add(context.Background(), 1)
	slog.Error("sink failed, stopping", "err", err)
	select {
	case a.fatal <- err:
	default:
	}
}

func (a *App) onFinish(looped bool) {
	a.metrics.RecordFinish(context.Background(), looped)
	slog.Info("source finished", "looped", looped)
}

// applyConfig is the config watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.VolumeChanged {
		a.producer.SetVolume(d.NewVolume)
		slog.Info("volume changed", "volume", d.NewVolume)
	}
	if d.LoopChanged {
		a.producer.SetLoop(d.NewLoop)
		slog.Info("loop changed", "loop", d.NewLoop)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config level to a slog level. Unknown values are info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ignoreDone(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// sleep waits for d or until ctx is done and reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
