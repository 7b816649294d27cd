package prometheus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-progress-engine/core"
)

const defaultNamespace = "progress"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// FrameBuckets are histogram buckets in seconds for tick durations.
	FrameBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	frameDurationSeconds prom.Histogram
	taskPanicTotal       *prom.CounterVec
	tasks                *prom.GaugeVec
	fps                  prom.Gauge
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.FrameBuckets
	if len(buckets) == 0 {
		// 0.25ms .. 128ms
		buckets = prom.ExponentialBuckets(0.00025, 2, 10)
	}

	frameHist := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_duration_seconds",
		Help:      "Time spent running all frame tasks in one tick.",
		Buckets:   buckets,
	})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of recovered frame task panics.",
	}, []string{"task"})
	tasksVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks",
		Help:      "Registered frame tasks by state.",
	}, []string{"state"})
	fpsGauge := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "fps",
		Help:      "Measured frames per second.",
	})

	var err error
	if frameHist, err = registerCollector(reg, frameHist); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if tasksVec, err = registerCollector(reg, tasksVec); err != nil {
		return nil, err
	}
	if fpsGauge, err = registerCollector(reg, fpsGauge); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		frameDurationSeconds: frameHist,
		taskPanicTotal:       panicVec,
		tasks:                tasksVec,
		fps:                  fpsGauge,
	}, nil
}

// RecordFrameDuration records how long a tick took.
func (m *MetricsExporter) RecordFrameDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.frameDurationSeconds.Observe(duration.Seconds())
}

// RecordTaskPanic counts a recovered panic.
func (m *MetricsExporter) RecordTaskPanic(taskID string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(taskLabel(taskID)).Inc()
}

// RecordTaskCounts records active and paused task counts.
func (m *MetricsExporter) RecordTaskCounts(active, total int) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues("active").Set(float64(active))
	m.tasks.WithLabelValues("paused").Set(float64(total - active))
}

// RecordFPS records the measured frame rate.
func (m *MetricsExporter) RecordFPS(fps float64) {
	if m == nil {
		return
	}
	m.fps.Set(fps)
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// taskLabel drops the per-run suffix of interpolator task ids ("bar#12")
// to keep label cardinality bounded.
func taskLabel(taskID string) string {
	if i := strings.LastIndexByte(taskID, '#'); i > 0 {
		taskID = taskID[:i]
	}
	return normalizeLabel(taskID, "unknown")
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
