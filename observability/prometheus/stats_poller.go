package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-progress-engine/core"
)

// SchedulerStatsProvider provides frame scheduler stats snapshots.
type SchedulerStatsProvider interface {
	Stats() core.SchedulerStats
}

// ValueProvider provides a progress value, e.g. a *core.ValueState.
type ValueProvider interface {
	Value() float64
	Percentage() float64
}

// PollerOptions configures a StatsPoller.
type PollerOptions struct {
	Namespace string
	Interval  time.Duration
	Clock     clockwork.Clock
}

// StatsPoller periodically exports scheduler Stats() snapshots and progress
// values into Prometheus gauges.
type StatsPoller struct {
	interval time.Duration
	clock    clockwork.Clock

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerStatsProvider

	valuesMu sync.RWMutex
	values   map[string]ValueProvider

	schedulerRunning *prom.GaugeVec
	schedulerTasks   *prom.GaugeVec
	schedulerFPS     *prom.GaugeVec
	schedulerFrames  *prom.GaugeVec
	schedulerErrors  *prom.GaugeVec

	progressValue      *prom.GaugeVec
	progressPercentage *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStatsPoller creates a poller and registers its collectors.
func NewStatsPoller(reg prom.Registerer, opts PollerOptions) (*StatsPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ns := normalizeLabel(opts.Namespace, defaultNamespace)

	schedulerRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "scheduler_running",
		Help:      "Frame loop state (1=running, 0=idle).",
	}, []string{"scheduler"})
	schedulerTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "scheduler_tasks",
		Help:      "Registered tasks per scheduler by state.",
	}, []string{"scheduler", "state"})
	schedulerFPS := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "scheduler_fps",
		Help:      "Measured frames per second per scheduler.",
	}, []string{"scheduler"})
	schedulerFrames := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "scheduler_frames",
		Help:      "Frames processed snapshot per scheduler.",
	}, []string{"scheduler"})
	schedulerErrors := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "scheduler_task_errors",
		Help:      "Recovered task errors snapshot per scheduler.",
	}, []string{"scheduler"})

	progressValue := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "value",
		Help:      "Current progress value.",
	}, []string{"name"})
	progressPercentage := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "percentage",
		Help:      "Current progress as a percentage of its range.",
	}, []string{"name"})

	var err error
	if schedulerRunning, err = registerCollector(reg, schedulerRunning); err != nil {
		return nil, err
	}
	if schedulerTasks, err = registerCollector(reg, schedulerTasks); err != nil {
		return nil, err
	}
	if schedulerFPS, err = registerCollector(reg, schedulerFPS); err != nil {
		return nil, err
	}
	if schedulerFrames, err = registerCollector(reg, schedulerFrames); err != nil {
		return nil, err
	}
	if schedulerErrors, err = registerCollector(reg, schedulerErrors); err != nil {
		return nil, err
	}
	if progressValue, err = registerCollector(reg, progressValue); err != nil {
		return nil, err
	}
	if progressPercentage, err = registerCollector(reg, progressPercentage); err != nil {
		return nil, err
	}

	return &StatsPoller{
		interval:           opts.Interval,
		clock:              opts.Clock,
		schedulers:         make(map[string]SchedulerStatsProvider),
		values:             make(map[string]ValueProvider),
		schedulerRunning:   schedulerRunning,
		schedulerTasks:     schedulerTasks,
		schedulerFPS:       schedulerFPS,
		schedulerFrames:    schedulerFrames,
		schedulerErrors:    schedulerErrors,
		progressValue:      progressValue,
		progressPercentage: progressPercentage,
	}, nil
}

// AddScheduler adds or replaces a scheduler stats provider by name.
func (p *StatsPoller) AddScheduler(name string, provider SchedulerStatsProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddValue adds or replaces a progress value provider by name.
func (p *StatsPoller) AddValue(name string, provider ValueProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "progress")
	p.valuesMu.Lock()
	p.values[name] = provider
	p.valuesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *StatsPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	ticker := p.clock.NewTicker(p.interval)
	p.stateMu.Unlock()

	go p.loop(pollCtx, ticker)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *StatsPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *StatsPoller) loop(ctx context.Context, ticker clockwork.Ticker) {
	defer close(p.done)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.CollectOnce()
		}
	}
}

// CollectOnce updates every gauge from the registered providers.
func (p *StatsPoller) CollectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.schedulerRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
		p.schedulerTasks.WithLabelValues(name, "active").Set(float64(stats.ActiveTasks))
		p.schedulerTasks.WithLabelValues(name, "paused").Set(float64(stats.PausedTasks))
		p.schedulerFPS.WithLabelValues(name).Set(stats.FPS)
		p.schedulerFrames.WithLabelValues(name).Set(float64(stats.Frames))
		p.schedulerErrors.WithLabelValues(name).Set(float64(stats.TaskErrors))
	}
	p.schedulersMu.RUnlock()

	p.valuesMu.RLock()
	for name, provider := range p.values {
		p.progressValue.WithLabelValues(name).Set(provider.Value())
		p.progressPercentage.WithLabelValues(name).Set(provider.Percentage())
	}
	p.valuesMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
