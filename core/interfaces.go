package core

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a frame callback panics during a tick.
// The scheduler has already recovered; the handler only reports.
//
// Implementations should be fast: they run on the frame loop.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - taskID: The id the callback was registered under
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(taskID string, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports task panics through a Logger.
// Stack traces are only attached at debug level.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic with the task id.
func (h *LoggingPanicHandler) HandlePanic(taskID string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		return
	}
	err := &TaskExecutionError{TaskID: taskID, PanicInfo: panicInfo}
	logger.Error("frame task panicked", F("task_id", taskID), F("error", err))
	logger.Debug("frame task stack", F("task_id", taskID), F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting frame loop metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting frame pacing.
type Metrics interface {
	// RecordFrameDuration records how long one tick took to run all tasks.
	RecordFrameDuration(duration time.Duration)

	// RecordTaskPanic records that a task panicked during a tick.
	RecordTaskPanic(taskID string, panicInfo any)

	// RecordTaskCounts records the number of active (non-paused) and total tasks.
	RecordTaskCounts(active, total int)

	// RecordFPS records the rolling frames-per-second estimate.
	RecordFPS(fps float64)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordFrameDuration is a no-op.
func (m *NilMetrics) RecordFrameDuration(duration time.Duration) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(taskID string, panicInfo any) {}

// RecordTaskCounts is a no-op.
func (m *NilMetrics) RecordTaskCounts(active, total int) {}

// RecordFPS is a no-op.
func (m *NilMetrics) RecordFPS(fps float64) {}

// =============================================================================
// SchedulerConfig: Configuration for FrameScheduler
// =============================================================================

// DefaultFrameInterval is one display refresh at 60 Hz.
const DefaultFrameInterval = time.Second / 60

// SchedulerConfig holds configuration options for FrameScheduler.
// All fields are optional; zero values are replaced with defaults.
type SchedulerConfig struct {
	// Clock is the monotonic time source. Defaults to the real clock.
	Clock clockwork.Clock

	// Source delivers frames. Defaults to a TickerFrameSource at FrameInterval.
	Source FrameSource

	// FrameInterval is used by the default Source. Defaults to DefaultFrameInterval.
	FrameInterval time.Duration

	// Logger defaults to NoOpLogger.
	Logger Logger

	// PanicHandler defaults to a LoggingPanicHandler on Logger.
	PanicHandler PanicHandler

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// ErrorHistory is the number of recent task errors kept. Defaults to 64.
	ErrorHistory int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Clock:         clockwork.NewRealClock(),
		FrameInterval: DefaultFrameInterval,
		Logger:        NewNoOpLogger(),
		Metrics:       &NilMetrics{},
		ErrorHistory:  defaultErrorHistory,
	}
}
