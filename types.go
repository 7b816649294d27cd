package progressengine

import "github.com/Swind/go-progress-engine/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the progressengine package for most use cases.

// FrameScheduler multiplexes per-frame callbacks onto one frame loop
type FrameScheduler = core.FrameScheduler

// SchedulerConfig configures a FrameScheduler
type SchedulerConfig = core.SchedulerConfig

// FrameCallback is the unit of per-frame work
type FrameCallback = core.FrameCallback

// FrameDriver is the scheduler capability consumed by animations
type FrameDriver = core.FrameDriver

// FrameSource delivers frames to a scheduler
type FrameSource = core.FrameSource

// Interpolator eases a value between two points over time
type Interpolator = core.Interpolator

// InterpolationOptions describes one interpolation run
type InterpolationOptions = core.InterpolationOptions

// ValueState is a bounded value with percentage helpers
type ValueState = core.ValueState

// AnimatedValue combines a ValueState with an Interpolator
type AnimatedValue = core.AnimatedValue

// Completion resolves once when an animation finishes or is cancelled
type Completion = core.Completion

// Logger is the structured logging interface used by every component
type Logger = core.Logger

// Priority constants
const (
	PriorityBackground  = core.PriorityBackground
	PriorityDefault     = core.PriorityDefault
	PriorityInteractive = core.PriorityInteractive
)

// NewFrameScheduler creates an idle scheduler. A nil config uses defaults.
func NewFrameScheduler(cfg *SchedulerConfig) *FrameScheduler {
	return core.NewFrameScheduler(cfg)
}

// NewValueState creates a bounded value. It fails when min >= max.
func NewValueState(min, max, current float64) (*ValueState, error) {
	return core.NewValueState(min, max, current)
}
