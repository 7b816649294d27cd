// Package coord keeps multiple progress instances in step: a Coordinator
// propagates values between them, a Chain animates them one after another and
// a Group applies bulk operations and aggregates.
package coord

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

// Instance is anything whose value can be synchronized.
type Instance interface {
	SetValue(v float64, animated bool)
	Value() float64
}

// Mode selects how the coordinator derives the value it propagates.
type Mode string

const (
	// ModeMasterSlave copies the source instance to every other instance.
	ModeMasterSlave Mode = "master-slave"
	ModeAverage     Mode = "average"
	ModeMax         Mode = "max"
	ModeMin         Mode = "min"
)

// ParseMode converts a configuration string into a Mode. "" means master-slave.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeMasterSlave, nil
	case ModeMasterSlave, ModeAverage, ModeMax, ModeMin:
		return m, nil
	default:
		return "", core.NewConfigurationError("ParseMode", fmt.Errorf("unknown sync mode %q", s))
	}
}

// Transform maps the propagated value for a target instance.
type Transform func(value float64, id string) float64

// SyncListener observes values dispatched by Sync.
type SyncListener func(value float64, sourceID string)

// Config configures a Coordinator.
type Config struct {
	Mode Mode

	// Delay postpones each dispatch. The coordinator stays in flight until
	// the dispatch has run.
	Delay time.Duration

	Transform Transform

	// Animate is passed to Instance.SetValue.
	Animate bool

	Clock  clockwork.Clock
	Logger core.Logger
}

// Coordinator propagates values between registered instances.
type Coordinator struct {
	mu        sync.Mutex
	instances map[string]Instance
	order     []string
	mode      Mode
	listeners map[uint64]SyncListener
	nextID    uint64

	delay     time.Duration
	transform Transform
	animate   bool
	clock     clockwork.Clock
	logger    core.Logger

	inFlight atomic.Bool
}

// NewCoordinator creates a coordinator. An empty mode means master-slave.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Mode == "" {
		cfg.Mode = ModeMasterSlave
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		instances: make(map[string]Instance),
		listeners: make(map[uint64]SyncListener),
		mode:      cfg.Mode,
		delay:     cfg.Delay,
		transform: cfg.Transform,
		animate:   cfg.Animate,
		clock:     cfg.Clock,
		logger:    core.WithComponent(cfg.Logger, "sync_coordinator"),
	}
}

// Register adds or replaces an instance. Replacing keeps the original
// registration position.
func (c *Coordinator) Register(id string, inst Instance) {
	if inst == nil {
		c.logger.Warn("ignoring nil instance", core.F("id", id))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.instances[id]; !exists {
		c.order = append(c.order, id)
	}
	c.instances[id] = inst
}

// Unregister removes an instance. It is a no-op for unknown ids.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.instances[id]; !exists {
		return
	}
	delete(c.instances, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
}

// Has reports whether id is registered.
func (c *Coordinator) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.instances[id]
	return ok
}

// IDs returns the registered ids in registration order.
func (c *Coordinator) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}

// Len returns the number of registered instances.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// SetMode changes the sync mode.
func (c *Coordinator) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// Mode returns the current sync mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// InFlight reports whether a dispatch is pending or running.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Subscribe registers fn for values dispatched by Sync. SyncTo does not
// notify listeners.
func (c *Coordinator) Subscribe(fn SyncListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

type target struct {
	id   string
	inst Instance
}

// Sync derives a value according to the mode and propagates it. In
// master-slave mode the source is sourceID, or the first registered instance
// when sourceID is unknown, and it is never written to. It returns false when
// another dispatch is in flight or nothing is registered.
func (c *Coordinator) Sync(sourceID string) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("sync already in flight, ignoring", core.F("source", sourceID))
		return false
	}

	value, source, targets, ok := c.resolve(sourceID)
	if !ok {
		c.inFlight.Store(false)
		return false
	}

	c.dispatch(value, targets)
	c.notify(value, source)
	return true
}

// SyncTo propagates an explicit value to every instance except sourceID.
// It shares the in-flight guard with Sync.
func (c *Coordinator) SyncTo(value float64, sourceID string) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		c.logger.Warn("ignoring non-finite sync value", core.F("source", sourceID))
		return false
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return false
	}

	c.mu.Lock()
	targets := c.targetsLocked(sourceID)
	c.mu.Unlock()

	if len(targets) == 0 {
		c.inFlight.Store(false)
		return false
	}
	c.dispatch(value, targets)
	return true
}

func (c *Coordinator) resolve(sourceID string) (float64, string, []target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		c.logger.Warn("sync with no registered instances")
		return 0, "", nil, false
	}

	if c.mode == ModeMasterSlave {
		src, ok := c.instances[sourceID]
		if !ok {
			sourceID = c.order[0]
			src = c.instances[sourceID]
		}
		return src.Value(), sourceID, c.targetsLocked(sourceID), true
	}

	targets := c.targetsLocked("")
	var value float64
	switch c.mode {
	case ModeAverage:
		for _, t := range targets {
			value += t.inst.Value()
		}
		value /= float64(len(targets))
	case ModeMax:
		value = math.Inf(-1)
		for _, t := range targets {
			value = max(value, t.inst.Value())
		}
	case ModeMin:
		value = math.Inf(1)
		for _, t := range targets {
			value = min(value, t.inst.Value())
		}
	default:
		c.logger.Error("unknown sync mode", core.F("mode", c.mode))
		return 0, "", nil, false
	}
	return value, sourceID, targets, true
}

func (c *Coordinator) targetsLocked(exclude string) []target {
	targets := make([]target, 0, len(c.order))
	for _, id := range c.order {
		if id == exclude {
			continue
		}
		targets = append(targets, target{id: id, inst: c.instances[id]})
	}
	return targets
}

func (c *Coordinator) dispatch(value float64, targets []target) {
	apply := func() {
		defer c.inFlight.Store(false)
		for _, t := range targets {
			if err := c.applySafely(t, value); err != nil {
				c.logger.Error("sync target failed", core.F("instance", t.id), core.F("error", err))
			}
		}
	}

	if c.delay > 0 {
		c.clock.AfterFunc(c.delay, apply)
		return
	}
	apply()
}

// applySafely sets one target. A panic in Transform or SetValue is returned as
// an error so the remaining targets are still updated.
func (c *Coordinator) applySafely(t target, value float64) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if c.transform != nil {
		value = c.transform(value, t.id)
	}
	t.inst.SetValue(value, c.animate)
	return nil
}

func (c *Coordinator) notify(value float64, source string) {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]SyncListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(value, source)
	}
}
