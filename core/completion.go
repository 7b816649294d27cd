package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Completion is resolved once when an animation ends. Completed reports
// whether it ran to its natural end rather than being stopped or replaced.
type Completion struct {
	done      chan struct{}
	once      sync.Once
	completed atomic.Bool
}

// NewCompletion creates an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// ResolvedCompletion returns a completion that is already resolved.
func ResolvedCompletion(completed bool) *Completion {
	c := NewCompletion()
	c.Resolve(completed)
	return c
}

// Resolve marks the completion. Only the first call has an effect.
func (c *Completion) Resolve(completed bool) {
	c.once.Do(func() {
		c.completed.Store(completed)
		close(c.done)
	})
}

// Done is closed once the completion resolves.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Completed reports whether the animation finished naturally.
// It is false while unresolved.
func (c *Completion) Completed() bool {
	return c.completed.Load()
}

// Wait blocks until the completion resolves or ctx is done.
func (c *Completion) Wait(ctx context.Context) (bool, error) {
	select {
	case <-c.done:
		return c.completed.Load(), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
