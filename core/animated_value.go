package core

import (
	"sync"
	"time"
)

// AnimatedValue couples a ValueState with an Interpolator so that value
// changes can be animated. It is the instance type synchronized by the coord
// package.
type AnimatedValue struct {
	state    *ValueState
	interp   *Interpolator
	duration time.Duration
	easing   string

	mu        sync.Mutex
	destroyed bool
}

// NewAnimatedValue creates an animated value. Animated changes take duration
// using the named easing.
func NewAnimatedValue(state *ValueState, interp *Interpolator, duration time.Duration, easing string) *AnimatedValue {
	return &AnimatedValue{
		state:    state,
		interp:   interp,
		duration: duration,
		easing:   easing,
	}
}

// SetValue moves to v, clamped to the state bounds. When animated is false
// any running animation is stopped and the value jumps. Non-finite values
// are ignored with a warning and leave a running animation alone.
func (a *AnimatedValue) SetValue(v float64, animated bool) {
	if a.isDestroyed() {
		return
	}
	if !isFinite(v) {
		a.interp.warn("ignoring non-finite value", F("value", v), F("error", ErrNonFiniteValue))
		return
	}
	if animated && a.duration > 0 {
		a.AnimateTo(v)
		return
	}
	a.interp.Stop()
	if err := a.state.Set(a.state.Normalize(v)); err != nil {
		a.interp.warn("failed to set value", F("value", v), F("error", err))
	}
}

// AnimateTo starts an animation from the current value to v.
func (a *AnimatedValue) AnimateTo(v float64) *Completion {
	if a.isDestroyed() {
		return ResolvedCompletion(false)
	}
	if !isFinite(v) {
		a.interp.warn("ignoring non-finite animation target", F("value", v), F("error", ErrNonFiniteValue))
		return ResolvedCompletion(false)
	}
	return a.interp.Start(InterpolationOptions{
		From:     a.state.Value(),
		To:       a.state.Normalize(v),
		Duration: a.duration,
		Easing:   a.easing,
		Target:   a.state,
	})
}

// Value returns the current value.
func (a *AnimatedValue) Value() float64 {
	return a.state.Value()
}

// Percentage returns the current percentage.
func (a *AnimatedValue) Percentage() float64 {
	return a.state.Percentage()
}

// State returns the underlying state.
func (a *AnimatedValue) State() *ValueState {
	return a.state
}

// Interpolator returns the underlying interpolator.
func (a *AnimatedValue) Interpolator() *Interpolator {
	return a.interp
}

// Destroy stops any animation. Later calls to SetValue and AnimateTo are
// ignored.
func (a *AnimatedValue) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	a.mu.Unlock()

	a.interp.Stop()
}

func (a *AnimatedValue) isDestroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}
