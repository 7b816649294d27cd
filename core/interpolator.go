package core

import (
	"fmt"
	"sync"
	"time"
)

// InterpolationOptions describes one value animation.
type InterpolationOptions struct {
	From     float64
	To       float64
	Duration time.Duration

	// Easing names a registered easing function. EasingFunc takes precedence.
	Easing     string
	EasingFunc EasingFunc

	// Priority of the frame task.
	Priority int

	// Target, when set, receives every interpolated value.
	Target *ValueState

	OnUpdate   func(value float64)
	OnComplete func()
}

// Interpolator turns a from/to/duration/easing request into per-frame value
// updates on a FrameDriver. One Interpolator runs at most one animation at a
// time; starting a new one cancels the previous run.
type Interpolator struct {
	driver FrameDriver
	name   string
	logger Logger

	mu             sync.Mutex
	run            uint64
	taskID         string
	opts           InterpolationOptions
	easing         EasingFunc
	startTime      time.Time
	pausedAt       time.Time
	pausedDuration time.Duration
	paused         bool
	animating      bool
	value          float64
	completion     *Completion
}

// NewInterpolator creates an interpolator whose tasks are named after name.
func NewInterpolator(driver FrameDriver, name string) *Interpolator {
	return &Interpolator{
		driver: driver,
		name:   name,
		logger: NewNoOpLogger(),
	}
}

// SetLogger sets the logger used for configuration warnings.
func (ip *Interpolator) SetLogger(logger Logger) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.logger = WithComponent(logger, "interpolator")
}

// Name returns the task name prefix.
func (ip *Interpolator) Name() string {
	return ip.name
}

// Start cancels any running animation and begins a new one. The returned
// completion resolves true after OnComplete, or false if the run is stopped
// or replaced first.
func (ip *Interpolator) Start(opts InterpolationOptions) *Completion {
	ip.mu.Lock()
	logger := ip.logger
	ip.mu.Unlock()

	if !isFinite(opts.From) || !isFinite(opts.To) {
		logger.Warn("ignoring animation with non-finite bounds",
			F("from", opts.From), F("to", opts.To))
		return ResolvedCompletion(false)
	}

	easing := opts.EasingFunc
	if easing == nil {
		fn, err := LookupEasing(opts.Easing)
		if err != nil {
			logger.Warn("falling back to linear easing", F("error", err))
			fn, _ = LookupEasing(EasingLinear)
		}
		easing = fn
	}

	completion := NewCompletion()

	ip.mu.Lock()
	prevTask, prevCompletion := ip.cancelLocked()
	ip.run++
	run := ip.run
	ip.taskID = fmt.Sprintf("%s#%d", ip.name, run)
	ip.opts = opts
	ip.easing = easing
	ip.startTime = ip.driver.Now()
	ip.pausedDuration = 0
	ip.paused = false
	ip.animating = true
	ip.value = opts.From
	ip.completion = completion
	taskID := ip.taskID
	ip.mu.Unlock()

	if prevTask != "" {
		ip.driver.Unregister(prevTask)
	}
	if prevCompletion != nil {
		prevCompletion.Resolve(false)
	}

	if opts.Duration <= 0 {
		ip.finish(run)
		return completion
	}

	ip.driver.RegisterWithPriority(taskID, func(now time.Time, _ time.Duration) {
		ip.step(run, now)
	}, opts.Priority)

	return completion
}

// Pause freezes the animation. Time spent paused does not count towards
// the duration.
func (ip *Interpolator) Pause() {
	ip.mu.Lock()
	if !ip.animating || ip.paused {
		ip.mu.Unlock()
		return
	}
	ip.paused = true
	ip.pausedAt = ip.driver.Now()
	taskID := ip.taskID
	ip.mu.Unlock()

	ip.driver.Pause(taskID)
}

// Resume continues a paused animation from where it stopped.
func (ip *Interpolator) Resume() {
	ip.mu.Lock()
	if !ip.animating || !ip.paused {
		ip.mu.Unlock()
		return
	}
	ip.paused = false
	ip.pausedDuration += max(ip.driver.Now().Sub(ip.pausedAt), 0)
	taskID := ip.taskID
	ip.mu.Unlock()

	ip.driver.Resume(taskID)
}

// Stop cancels the animation without calling OnComplete. Idempotent.
func (ip *Interpolator) Stop() {
	ip.mu.Lock()
	taskID, completion := ip.cancelLocked()
	ip.mu.Unlock()

	if taskID != "" {
		ip.driver.Unregister(taskID)
	}
	if completion != nil {
		completion.Resolve(false)
	}
}

// Reset stops the animation and rewinds the target to the start value.
func (ip *Interpolator) Reset() {
	ip.Stop()

	ip.mu.Lock()
	from := ip.opts.From
	target := ip.opts.Target
	ip.value = from
	ip.mu.Unlock()

	if target != nil {
		ip.setTarget(target, from)
	}
}

// IsAnimating reports whether a run is in progress, paused or not.
func (ip *Interpolator) IsAnimating() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.animating
}

// IsPaused reports whether the current run is paused.
func (ip *Interpolator) IsPaused() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.animating && ip.paused
}

// Value returns the most recent interpolated value.
func (ip *Interpolator) Value() float64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.value
}

// TaskID returns the frame task id of the current run, or "".
func (ip *Interpolator) TaskID() string {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.taskID
}

func (ip *Interpolator) step(run uint64, now time.Time) {
	ip.mu.Lock()
	if run != ip.run || !ip.animating || ip.paused {
		ip.mu.Unlock()
		return
	}

	elapsed := now.Sub(ip.startTime) - ip.pausedDuration
	progress := Clamp01(float64(elapsed) / float64(ip.opts.Duration))
	if progress >= 1 {
		ip.mu.Unlock()
		ip.finish(run)
		return
	}

	from, to := ip.opts.From, ip.opts.To
	value := from + (to-from)*ip.easing(progress)
	ip.value = value
	target, onUpdate := ip.opts.Target, ip.opts.OnUpdate
	ip.mu.Unlock()

	if target != nil {
		ip.setTarget(target, value)
	}
	if onUpdate != nil {
		onUpdate(value)
	}
}

// finish lands exactly on To and fires completion callbacks once.
func (ip *Interpolator) finish(run uint64) {
	ip.mu.Lock()
	if run != ip.run || !ip.animating {
		ip.mu.Unlock()
		return
	}
	ip.animating = false
	ip.paused = false
	ip.value = ip.opts.To
	taskID := ip.taskID
	ip.taskID = ""
	opts := ip.opts
	completion := ip.completion
	ip.completion = nil
	ip.mu.Unlock()

	ip.driver.Unregister(taskID)

	if opts.Target != nil {
		ip.setTarget(opts.Target, opts.To)
	}
	if opts.OnUpdate != nil {
		opts.OnUpdate(opts.To)
	}
	if opts.OnComplete != nil {
		opts.OnComplete()
	}
	completion.Resolve(true)
}

func (ip *Interpolator) cancelLocked() (string, *Completion) {
	if !ip.animating {
		return "", nil
	}
	taskID, completion := ip.taskID, ip.completion
	ip.animating = false
	ip.paused = false
	ip.taskID = ""
	ip.completion = nil
	return taskID, completion
}

func (ip *Interpolator) setTarget(target *ValueState, v float64) {
	if err := target.Set(v); err != nil {
		ip.warn("failed to update target", F("value", v), F("error", err))
	}
}

func (ip *Interpolator) warn(msg string, fields ...Field) {
	ip.mu.Lock()
	logger := ip.logger
	ip.mu.Unlock()
	logger.Warn(msg, fields...)
}
