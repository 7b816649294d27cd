package core

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FrameSource delivers display frames to a scheduler.
//
// Start begins calling frame once per frame until Stop. Stop must not block:
// the scheduler calls it from inside a frame when the last task goes idle.
type FrameSource interface {
	Start(frame func(now time.Time))
	Stop()
}

// =============================================================================
// TickerFrameSource: clock driven frames
// =============================================================================

// TickerFrameSource fires frames from a clock ticker on a dedicated goroutine.
type TickerFrameSource struct {
	clock    clockwork.Clock
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewTickerFrameSource creates a source firing every interval.
// A nil clock uses the real clock; interval <= 0 uses DefaultFrameInterval.
func NewTickerFrameSource(clock clockwork.Clock, interval time.Duration) *TickerFrameSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &TickerFrameSource{clock: clock, interval: interval}
}

// Interval returns the frame interval.
func (s *TickerFrameSource) Interval() time.Duration {
	return s.interval
}

// Start spawns the frame goroutine. It is a no-op if already started.
func (s *TickerFrameSource) Start(frame func(now time.Time)) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ticker := s.clock.NewTicker(s.interval)
	s.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.Chan():
				if ctx.Err() != nil {
					return
				}
				frame(now)
			}
		}
	}()
}

// Stop cancels the frame goroutine without waiting for it.
func (s *TickerFrameSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// =============================================================================
// ManualFrameSource: host driven frames
// =============================================================================

// ManualFrameSource lets the host fire frames itself, e.g. from a render loop
// it already owns, or from tests.
type ManualFrameSource struct {
	mu    sync.Mutex
	frame func(now time.Time)
}

// NewManualFrameSource creates an idle manual source.
func NewManualFrameSource() *ManualFrameSource {
	return &ManualFrameSource{}
}

// Start records the frame callback.
func (s *ManualFrameSource) Start(frame func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

// Stop drops the frame callback.
func (s *ManualFrameSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
}

// Running reports whether a consumer is attached.
func (s *ManualFrameSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame != nil
}

// Fire delivers one frame. It returns false when the source is stopped.
func (s *ManualFrameSource) Fire(now time.Time) bool {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()

	if frame == nil {
		return false
	}
	frame(now)
	return true
}
