package core

import (
	"time"
)

// FrameCallback is the unit of per-frame work.
// now is the frame timestamp shared by every task of the tick, delta is the
// time elapsed since the previous tick (zero on the first tick after the loop
// starts).
type FrameCallback func(now time.Time, delta time.Duration)

// =============================================================================
// Priority: higher values run earlier within a tick
// =============================================================================

const (
	// PriorityBackground is for decorative work that may lag behind.
	PriorityBackground = -10

	// PriorityDefault is used by Register.
	PriorityDefault = 0

	// PriorityInteractive is for animations that track direct user input.
	PriorityInteractive = 10
)

// AnimationTask is a registered per-frame callback.
type AnimationTask struct {
	ID       string
	Callback FrameCallback
	Priority int
	Paused   bool

	sequence uint64 // insertion order, used to break priority ties
}

// =============================================================================
// FrameDriver: capability interface consumed by animations
// =============================================================================

// FrameDriver is the subset of the scheduler an animation needs.
// Renderers and interpolators receive it at construction instead of looking
// up a global scheduler.
type FrameDriver interface {
	RegisterWithPriority(id string, callback FrameCallback, priority int)
	Unregister(id string)
	Pause(id string)
	Resume(id string)
	Now() time.Time
}

// Animator is the control surface of a running value animation.
type Animator interface {
	Start(opts InterpolationOptions) *Completion
	Pause()
	Resume()
	Stop()
}

var _ FrameDriver = (*FrameScheduler)(nil)
var _ Animator = (*Interpolator)(nil)
