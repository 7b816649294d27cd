package progressengine

import (
	"sync"

	"github.com/Swind/go-progress-engine/core"
)

// =============================================================================
// Global Frame Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *core.FrameScheduler
	globalMu        sync.Mutex
)

// InitGlobalScheduler initializes the process-wide scheduler. Repeated calls
// return the existing instance and ignore cfg.
func InitGlobalScheduler(cfg *core.SchedulerConfig) *core.FrameScheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		globalScheduler = core.NewFrameScheduler(cfg)
	}
	return globalScheduler
}

// GetGlobalScheduler returns the process-wide scheduler.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalScheduler() *core.FrameScheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("global scheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// ShutdownGlobalScheduler shuts the process-wide scheduler down. A later
// InitGlobalScheduler creates a fresh one.
func ShutdownGlobalScheduler() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		globalScheduler.Shutdown()
		globalScheduler = nil
	}
}

// NewInterpolator creates an interpolator driven by the global scheduler.
func NewInterpolator(name string) *core.Interpolator {
	return core.NewInterpolator(GetGlobalScheduler(), name)
}
