package coord

import (
	"context"
	"errors"
	"sync"

	"github.com/Swind/go-progress-engine/core"
)

// ErrStepInterrupted is returned when a step's animation ends without
// completing.
var ErrStepInterrupted = errors.New("chain step did not complete")

// Animatable is an Instance that can report when an animation finishes.
type Animatable interface {
	Instance
	AnimateTo(v float64) *core.Completion
}

// ChainStep animates one instance to Target.
type ChainStep struct {
	ID       string
	Instance Animatable
	Target   float64
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	// OnStep runs after a step's animation completes.
	OnStep func(index int, step ChainStep)

	// OnComplete runs once the last step has completed.
	OnComplete func()

	Logger core.Logger
}

// Chain animates its steps strictly one after another. A step starts only
// after the previous step's animation has completed.
type Chain struct {
	mu      sync.Mutex
	steps   []ChainStep
	index   int
	running bool
	gen     uint64
	cancel  context.CancelFunc

	opts   ChainOptions
	logger core.Logger
}

// NewChain creates an empty chain.
func NewChain(opts ChainOptions) *Chain {
	return &Chain{
		opts:   opts,
		logger: core.WithComponent(opts.Logger, "progress_chain"),
	}
}

// Add appends a step.
func (c *Chain) Add(id string, inst Animatable, target float64) {
	if inst == nil {
		c.logger.Warn("ignoring step with nil instance", core.F("id", id))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, ChainStep{ID: id, Instance: inst, Target: target})
}

// Start runs the chain in the background from the current step. A finished
// chain starts over from the first step.
func (c *Chain) Start(ctx context.Context) error {
	_, err := c.launch(ctx)
	return err
}

// Run is like Start but blocks until the chain completes, fails or is
// stopped.
func (c *Chain) Run(ctx context.Context) error {
	result, err := c.launch(ctx)
	if err != nil {
		return err
	}
	return <-result
}

// Stop cancels the running step without advancing.
func (c *Chain) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Reset stops the chain, rewinds to the first step and sets every instance
// to 0 without animation.
func (c *Chain) Reset() {
	c.mu.Lock()
	c.stopLocked()
	c.index = 0
	steps := append([]ChainStep(nil), c.steps...)
	c.mu.Unlock()

	for _, s := range steps {
		s.Instance.SetValue(0, false)
	}
}

// CurrentIndex returns the index of the next step to run.
func (c *Chain) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// IsRunning reports whether a run is in progress.
func (c *Chain) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Len returns the number of steps.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

func (c *Chain) stopLocked() {
	if !c.running {
		return
	}
	c.gen++
	c.running = false
	c.cancel()
	c.cancel = nil
}

func (c *Chain) launch(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.steps) == 0 {
		return nil, core.NewStateError("Chain.Start", core.ErrEmptyChain)
	}
	if c.running {
		return nil, core.NewStateError("Chain.Start", core.ErrAlreadyRunning)
	}
	if c.index >= len(c.steps) {
		c.index = 0
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.gen++
	c.running = true
	c.cancel = cancel

	result := make(chan error, 1)
	go c.run(runCtx, c.gen, result)
	return result, nil
}

func (c *Chain) run(ctx context.Context, gen uint64, result chan<- error) {
	err := c.runSteps(ctx, gen)

	c.mu.Lock()
	current := gen == c.gen
	if current {
		c.running = false
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		c.logger.Debug("chain complete")
		if current && c.opts.OnComplete != nil {
			c.opts.OnComplete()
		}
	case errors.Is(err, context.Canceled):
		c.logger.Debug("chain stopped", core.F("index", c.CurrentIndex()))
	default:
		c.logger.Warn("chain stopped", core.F("index", c.CurrentIndex()), core.F("error", err))
	}
	result <- err
}

func (c *Chain) runSteps(ctx context.Context, gen uint64) error {
	for {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return context.Canceled
		}
		if c.index >= len(c.steps) {
			c.mu.Unlock()
			return nil
		}
		idx, step := c.index, c.steps[c.index]
		c.mu.Unlock()

		completed, err := step.Instance.AnimateTo(step.Target).Wait(ctx)
		if err != nil {
			return err
		}
		if !completed {
			return core.NewStateError("Chain.Run", ErrStepInterrupted)
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return context.Canceled
		}
		c.index++
		c.mu.Unlock()

		if c.opts.OnStep != nil {
			c.opts.OnStep(idx, step)
		}
	}
}
