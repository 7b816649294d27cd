package progressengine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Swind/go-progress-engine/api"
	"github.com/Swind/go-progress-engine/config"
	"github.com/Swind/go-progress-engine/coord"
	"github.com/Swind/go-progress-engine/core"
	promexp "github.com/Swind/go-progress-engine/observability/prometheus"
	"github.com/Swind/go-progress-engine/persist"
	"github.com/Swind/go-progress-engine/snapshot"
	"github.com/Swind/go-progress-engine/trend"
)

// PrimaryValueID is the coordinator id of the engine's own value.
const PrimaryValueID = "progress"

// Options overrides wiring that does not come from the configuration.
type Options struct {
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Source defaults to a TickerFrameSource at the configured FPS.
	Source core.FrameSource
	// Logger defaults to a DefaultLogger built from the logging section.
	Logger core.Logger
	// Registry receives the collectors when metrics are enabled.
	// Defaults to a fresh registry.
	Registry *prom.Registry
	// Store replaces the configured persistence driver.
	Store persist.Store
}

// Engine wires one progress value to a scheduler, predictor, recorder and
// coordinator according to a config.Config.
type Engine struct {
	cfg    config.Config
	clock  clockwork.Clock
	logger core.Logger

	scheduler   *core.FrameScheduler
	value       *core.AnimatedValue
	predictor   *trend.Predictor
	recorder    *snapshot.Recorder
	coordinator *coord.Coordinator

	store     persist.Store
	autosaver *persist.AutoSaver

	registry *prom.Registry
	poller   *promexp.StatsPoller

	mu       sync.Mutex
	values   map[string]*core.AnimatedValue
	unsubs   []func()
	started  bool
	closed   bool
	closeErr error
}

// New builds an engine from cfg. The engine is idle until Start.
func New(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		clock:  opts.Clock,
		logger: opts.Logger,
		values: make(map[string]*core.AnimatedValue),
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = core.NewLogger(cfg.Logging.LoggerConfig())
	}

	var metrics core.Metrics = &core.NilMetrics{}
	if cfg.Metrics.Enabled {
		e.registry = opts.Registry
		if e.registry == nil {
			e.registry = prom.NewRegistry()
		}
		exporter, err := promexp.NewMetricsExporter(cfg.Metrics.Namespace, e.registry, promexp.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
		metrics = exporter
		e.poller, err = promexp.NewStatsPoller(e.registry, promexp.PollerOptions{
			Namespace: cfg.Metrics.Namespace,
			Interval:  cfg.Metrics.PollInterval,
			Clock:     e.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("stats poller: %w", err)
		}
	}

	source := opts.Source
	if source == nil {
		source = core.NewTickerFrameSource(e.clock, cfg.Scheduler.FrameInterval())
	}
	e.scheduler = core.NewFrameScheduler(&core.SchedulerConfig{
		Clock:        e.clock,
		Source:       source,
		Logger:       e.logger,
		Metrics:      metrics,
		ErrorHistory: cfg.Scheduler.ErrorHistory,
	})

	mode, err := coord.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return nil, err
	}
	e.coordinator = coord.NewCoordinator(coord.Config{
		Mode:    mode,
		Delay:   cfg.Sync.Delay,
		Animate: cfg.Sync.Animate,
		Clock:   e.clock,
		Logger:  e.logger,
	})

	e.value, err = e.NewValue(PrimaryValueID, cfg.Progress.Min, cfg.Progress.Max, cfg.Progress.Initial)
	if err != nil {
		e.scheduler.Shutdown()
		return nil, err
	}
	state := e.value.State()

	e.predictor = trend.NewPredictor(trend.Config{
		MaxSamples:    cfg.Predictor.MaxSamples,
		MinDataPoints: cfg.Predictor.MinDataPoints,
		RecentWindow:  cfg.Predictor.RecentWindow,
		Clock:         e.clock,
		Logger:        e.logger,
	})
	e.unsubs = append(e.unsubs, e.predictor.Observe(state))

	codec, err := snapshot.CodecByName(cfg.Recorder.Format)
	if err != nil {
		e.scheduler.Shutdown()
		return nil, core.NewConfigurationError("engine.New", err)
	}
	e.recorder = snapshot.NewRecorder(snapshot.Config{
		Capacity:         cfg.Recorder.Capacity,
		MinPlaybackDelay: cfg.Recorder.MinPlaybackDelay,
		Clock:            e.clock,
		Logger:           e.logger,
		Codec:            codec,
	})

	if cfg.Persistence.Enabled || opts.Store != nil {
		e.store = opts.Store
		if e.store == nil {
			if e.store, err = openStore(ctx, cfg.Persistence); err != nil {
				e.scheduler.Shutdown()
				return nil, err
			}
		}
		e.autosaver = persist.NewAutoSaver(persist.AutoSaverConfig{
			Store:    e.store,
			Debounce: cfg.Persistence.Debounce,
			Clock:    e.clock,
			Logger:   e.logger,
		})
		e.unsubs = append(e.unsubs, e.autosaver.Watch(state))
	}

	if e.poller != nil {
		e.poller.AddScheduler("main", e.scheduler)
		e.poller.AddValue(PrimaryValueID, state)
	}
	return e, nil
}

func openStore(ctx context.Context, cfg config.PersistenceConfig) (persist.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := persist.OpenSQLiteStore(ctx, persist.SQLiteConfig{Path: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return persist.NewMemoryStore(), nil
	}
}

// Start restores persisted state and starts background collectors.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return core.NewStateError("engine.Start", errors.New("engine closed"))
	}
	if e.started {
		return core.NewStateError("engine.Start", core.ErrAlreadyRunning)
	}

	if e.autosaver != nil {
		if _, err := e.autosaver.RestoreInto(ctx, e.value.State()); err != nil {
			e.logger.Warn("restore value failed", core.F("error", err))
		}
		if ok, err := e.autosaver.RestoreRecording(ctx, e.recorder); err != nil {
			e.logger.Warn("restore recording failed", core.F("error", err))
		} else if ok {
			e.logger.Info("recording restored", core.F("snapshots", e.recorder.Len()))
		}
	}
	if e.poller != nil {
		e.poller.Start(ctx)
	}
	e.started = true
	e.logger.Info("engine started",
		core.F("fps", e.cfg.Scheduler.FPS),
		core.F("sync_mode", string(e.coordinator.Mode())),
		core.F("persistence", e.store != nil),
		core.F("metrics", e.registry != nil))
	return nil
}

// Close stops every component, saving the value and recording when
// persistence is enabled. Repeated calls return the first result.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.closeErr
	}
	e.closed = true

	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	e.recorder.StopPlayback()
	if e.poller != nil {
		e.poller.Stop()
	}

	var errs []error
	if e.autosaver != nil {
		if err := e.autosaver.SaveRecording(ctx, e.recorder); err != nil {
			errs = append(errs, fmt.Errorf("save recording: %w", err))
		}
		if err := e.autosaver.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush value: %w", err))
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	for _, v := range e.values {
		v.Destroy()
	}
	e.scheduler.Shutdown()

	e.closeErr = errors.Join(errs...)
	e.logger.Info("engine closed")
	return e.closeErr
}

// NewValue creates an animated value on the engine scheduler and registers
// it with the coordinator under id. An existing id is replaced.
func (e *Engine) NewValue(id string, min, max, initial float64) (*core.AnimatedValue, error) {
	state, err := core.NewValueState(min, max, initial)
	if err != nil {
		return nil, err
	}
	interp := core.NewInterpolator(e.scheduler, id)
	interp.SetLogger(e.logger)
	value := core.NewAnimatedValue(state, interp, e.cfg.Progress.Duration, e.cfg.Progress.Easing)

	e.mu.Lock()
	if old, ok := e.values[id]; ok {
		old.Destroy()
	}
	e.values[id] = value
	e.mu.Unlock()

	e.coordinator.Register(id, value)
	if e.poller != nil {
		e.poller.AddValue(id, state)
	}
	return value, nil
}

// SetValue moves the primary value.
func (e *Engine) SetValue(v float64, animated bool) {
	e.value.SetValue(v, animated)
}

// Snapshot records the current primary value.
func (e *Engine) Snapshot(options map[string]any) snapshot.Snapshot {
	return e.recorder.Create(e.value.Value(), options, nil)
}

// Replay plays the recording back into the primary value.
func (e *Engine) Replay(opts snapshot.PlaybackOptions) error {
	value := e.value
	return e.recorder.Playback(func(s snapshot.Snapshot) {
		value.SetValue(s.Value, false)
	}, opts)
}

// Predict estimates the time for the primary value to reach target.
func (e *Engine) Predict(target float64) (*trend.Prediction, bool) {
	return e.predictor.Predict(target)
}

// Sync propagates values between registered values using the configured mode.
func (e *Engine) Sync(sourceID string) bool {
	return e.coordinator.Sync(sourceID)
}

// Reload applies the parts of cfg that can change at runtime.
func (e *Engine) Reload(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := coord.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}
	e.coordinator.SetMode(mode)
	if err := e.value.State().SetBounds(cfg.Progress.Min, cfg.Progress.Max); err != nil {
		return err
	}

	e.mu.Lock()
	e.cfg.Sync.Mode = cfg.Sync.Mode
	e.cfg.Progress.Min, e.cfg.Progress.Max = cfg.Progress.Min, cfg.Progress.Max
	e.mu.Unlock()
	e.logger.Info("configuration reloaded",
		core.F("sync_mode", cfg.Sync.Mode),
		core.F("min", cfg.Progress.Min),
		core.F("max", cfg.Progress.Max))
	return nil
}

// APIServer returns an HTTP server over the engine components.
func (e *Engine) APIServer(version string) *api.Server {
	return api.NewServer(api.Options{
		Scheduler:      e.scheduler,
		Value:          e.value,
		Predictor:      e.predictor,
		Recorder:       e.recorder,
		AllowedOrigins: e.cfg.HTTP.AllowedOrigins,
		MetricsHandler: e.MetricsHandler(),
		MetricsPath:    e.cfg.Metrics.Path,
		Version:        version,
		Clock:          e.clock,
		Logger:         e.logger,
	})
}

// MetricsHandler serves the engine registry, or nil when metrics are off.
func (e *Engine) MetricsHandler() http.Handler {
	if e.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) Clock() clockwork.Clock { return e.clock }
func (e *Engine) Logger() core.Logger { return e.logger }
func (e *Engine) Scheduler() *core.FrameScheduler { return e.scheduler }
func (e *Engine) Value() *core.AnimatedValue { return e.value }
func (e *Engine) State() *core.ValueState { return e.value.State() }
func (e *Engine) Predictor() *trend.Predictor { return e.predictor }
func (e *Engine) Recorder() *snapshot.Recorder { return e.recorder }
func (e *Engine) Coordinator() *coord.Coordinator { return e.coordinator }
func (e *Engine) Store() persist.Store { return e.store }
func (e *Engine) Registry() *prom.Registry { return e.registry }

// Values returns every value created by NewValue, keyed by id.
func (e *Engine) Values() map[string]*core.AnimatedValue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.values)
}
