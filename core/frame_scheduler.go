package core

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultErrorHistory = 64
	fpsWindow           = time.Second
)

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Paused   bool   `json:"paused"`
	Errors   int64  `json:"errors"`
}

// FrameScheduler multiplexes every animation callback onto one frame loop.
//
// Each frame it runs all non-paused tasks in descending priority order, ties
// broken by registration order. Ticks are serialized, so callbacks never run
// concurrently with each other. The task map is only locked while the tick
// collects its task list; callbacks may freely call back into the scheduler.
//
// The loop runs only while at least one non-paused task exists. The first tick
// after the loop (re)starts reports a zero delta.
type FrameScheduler struct {
	mu      sync.Mutex
	tasks   map[string]*AnimationTask
	nextSeq uint64

	running   bool
	loopGen   uint64
	lastFrame time.Time
	frames    uint64

	fps            float64
	fpsWindowStart time.Time
	fpsFrames      int

	errorCounts map[string]int64
	taskErrors  int64

	// Serializes ticks
	tickMu sync.Mutex

	clock        clockwork.Clock
	source       FrameSource
	logger       Logger
	panicHandler PanicHandler
	metrics      Metrics
	errors       *RingBuffer[TaskErrorRecord]

	closed atomic.Bool
}

// NewFrameScheduler creates an idle scheduler. A nil config uses defaults.
func NewFrameScheduler(cfg *SchedulerConfig) *FrameScheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NewNoOpLogger()
	}
	logger = WithComponent(logger, "frame_scheduler")

	source := cfg.Source
	if source == nil {
		source = NewTickerFrameSource(clock, cfg.FrameInterval)
	}

	panicHandler := cfg.PanicHandler
	if panicHandler == nil {
		panicHandler = &LoggingPanicHandler{Logger: logger}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NilMetrics{}
	}

	history := cfg.ErrorHistory
	if history <= 0 {
		history = defaultErrorHistory
	}

	return &FrameScheduler{
		tasks:        make(map[string]*AnimationTask),
		errorCounts:  make(map[string]int64),
		clock:        clock,
		source:       source,
		logger:       logger,
		panicHandler: panicHandler,
		metrics:      metrics,
		errors:       NewRingBuffer[TaskErrorRecord](history),
	}
}

// =============================================================================
// Registration
// =============================================================================

// Register adds callback under id with PriorityDefault.
func (s *FrameScheduler) Register(id string, callback FrameCallback) {
	s.RegisterWithPriority(id, callback, PriorityDefault)
}

// RegisterWithPriority adds callback under id and starts the loop if needed.
//
// Registering an id that already exists replaces its callback and priority,
// keeps its position among equal priorities, clears its paused flag and logs
// a warning.
func (s *FrameScheduler) RegisterWithPriority(id string, callback FrameCallback, priority int) {
	if callback == nil {
		s.logger.Warn("ignoring registration without callback", F("task_id", id))
		return
	}
	if s.closed.Load() {
		s.logger.Warn("ignoring registration on shut down scheduler", F("task_id", id))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[id]; ok {
		s.logger.Warn("replacing registered task", F("task_id", id),
			F("old_priority", existing.Priority), F("new_priority", priority))
		existing.Callback = callback
		existing.Priority = priority
		existing.Paused = false
	} else {
		s.nextSeq++
		s.tasks[id] = &AnimationTask{
			ID:       id,
			Callback: callback,
			Priority: priority,
			sequence: s.nextSeq,
		}
	}

	s.ensureRunningLocked()
}

// Unregister removes the task. Unknown ids are ignored.
func (s *FrameScheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return
	}
	delete(s.tasks, id)
	s.maybeStopLocked()
}

// Pause keeps the task registered but skips it on every tick.
func (s *FrameScheduler) Pause(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[id]; ok {
		task.Paused = true
		s.maybeStopLocked()
	}
}

// Resume re-enables a paused task, restarting the loop if it had stopped.
func (s *FrameScheduler) Resume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[id]; ok {
		task.Paused = false
		s.ensureRunningLocked()
	}
}

// PauseAll pauses every task. The next tick sees all of them paused.
func (s *FrameScheduler) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		task.Paused = true
	}
	s.maybeStopLocked()
}

// ResumeAll resumes every task.
func (s *FrameScheduler) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		task.Paused = false
	}
	s.ensureRunningLocked()
}

// WatchVisibility pauses every task when visible receives false and resumes
// them when it receives true. It returns immediately; watching ends when ctx
// is done or visible is closed.
func (s *FrameScheduler) WatchVisibility(ctx context.Context, visible <-chan bool) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-visible:
				if !ok {
					return
				}
				if v {
					s.logger.Debug("host visible, resuming tasks")
					s.ResumeAll()
				} else {
					s.logger.Debug("host hidden, pausing tasks")
					s.PauseAll()
				}
			}
		}
	}()
}

// Shutdown stops the loop and drops every task. It is idempotent.
func (s *FrameScheduler) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.tasks)
	if s.running {
		s.stopLocked()
	}
	s.logger.Debug("scheduler shut down")
}

// =============================================================================
// Queries
// =============================================================================

// Has reports whether id is registered.
func (s *FrameScheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// IsPaused reports whether id is registered and paused.
func (s *FrameScheduler) IsPaused(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return ok && task.Paused
}

// Task returns a read-only view of id.
func (s *FrameScheduler) Task(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return s.infoLocked(task), true
}

// Tasks returns every registered task in execution order.
func (s *FrameScheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.orderedLocked(false)
	out := make([]TaskInfo, 0, len(ordered))
	for _, task := range ordered {
		out = append(out, s.infoLocked(task))
	}
	return out
}

// FPS returns the frame rate measured over the last full one second window.
func (s *FrameScheduler) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// ActiveTaskCount returns the number of non-paused tasks.
func (s *FrameScheduler) ActiveTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked()
}

// TotalTaskCount returns the number of registered tasks.
func (s *FrameScheduler) TotalTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// IsRunning reports whether the frame loop is active.
func (s *FrameScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of the scheduler state.
func (s *FrameScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeCountLocked()
	return SchedulerStats{
		Running:     s.running,
		ActiveTasks: active,
		TotalTasks:  len(s.tasks),
		PausedTasks: len(s.tasks) - active,
		FPS:         s.fps,
		Frames:      s.frames,
		TaskErrors:  s.taskErrors,
		LastFrameAt: s.lastFrame,
		Closed:      s.closed.Load(),
	}
}

// RecentErrors returns up to limit recovered task panics, newest first.
func (s *FrameScheduler) RecentErrors(limit int) []TaskErrorRecord {
	return s.errors.Recent(limit)
}

// ErrorCounts returns the number of panics recovered per task id.
func (s *FrameScheduler) ErrorCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.errorCounts))
	for id, n := range s.errorCounts {
		out[id] = n
	}
	return out
}

// Now returns the scheduler clock time.
func (s *FrameScheduler) Now() time.Time {
	return s.clock.Now()
}

// Clock returns the scheduler clock.
func (s *FrameScheduler) Clock() clockwork.Clock {
	return s.clock
}

// =============================================================================
// Frame loop
// =============================================================================

func (s *FrameScheduler) ensureRunningLocked() {
	if s.running || s.closed.Load() || s.activeCountLocked() == 0 {
		return
	}

	s.running = true
	s.loopGen++
	s.lastFrame = time.Time{}
	s.fpsWindowStart = time.Time{}
	s.fpsFrames = 0

	gen := s.loopGen
	s.source.Start(func(now time.Time) {
		s.tick(gen, now)
	})
	s.logger.Debug("frame loop started", F("generation", gen))
}

func (s *FrameScheduler) maybeStopLocked() {
	if s.running && s.activeCountLocked() == 0 {
		s.stopLocked()
	}
}

func (s *FrameScheduler) stopLocked() {
	s.running = false
	s.fps = 0
	s.source.Stop()
	s.logger.Debug("frame loop stopped", F("generation", s.loopGen))
}

func (s *FrameScheduler) tick(gen uint64, now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	// Frames from a previous loop generation can still be in flight
	if !s.running || gen != s.loopGen {
		s.mu.Unlock()
		return
	}

	var delta time.Duration
	if !s.lastFrame.IsZero() {
		delta = max(now.Sub(s.lastFrame), 0)
	}
	s.lastFrame = now
	s.frames++
	s.updateFPSLocked(now)

	ordered := s.orderedLocked(true)
	if len(ordered) == 0 {
		s.stopLocked()
		s.mu.Unlock()
		return
	}

	// Copy so Register/Unregister during the tick cannot affect this frame
	batch := make([]AnimationTask, len(ordered))
	for i, task := range ordered {
		batch[i] = *task
	}
	total := len(s.tasks)
	fps := s.fps
	s.mu.Unlock()

	started := s.clock.Now()
	for _, task := range batch {
		s.runTask(task, now, delta)
	}
	s.metrics.RecordFrameDuration(s.clock.Since(started))
	s.metrics.RecordFPS(fps)
	s.metrics.RecordTaskCounts(len(batch), total)
}

func (s *FrameScheduler) runTask(task AnimationTask, now time.Time, delta time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.recordPanic(task, r, debug.Stack(), now)
		}
	}()
	task.Callback(now, delta)
}

func (s *FrameScheduler) recordPanic(task AnimationTask, panicInfo any, stack []byte, now time.Time) {
	s.mu.Lock()
	s.errorCounts[task.ID]++
	s.taskErrors++
	s.mu.Unlock()

	s.errors.Add(TaskErrorRecord{
		TaskID:     task.ID,
		Priority:   task.Priority,
		OccurredAt: now,
		Err:        &TaskExecutionError{TaskID: task.ID, PanicInfo: panicInfo},
		Stack:      string(stack),
	})
	s.metrics.RecordTaskPanic(task.ID, panicInfo)
	s.panicHandler.HandlePanic(task.ID, panicInfo, stack)
}

func (s *FrameScheduler) updateFPSLocked(now time.Time) {
	if s.fpsWindowStart.IsZero() {
		s.fpsWindowStart = now
		return
	}
	s.fpsFrames++
	if elapsed := now.Sub(s.fpsWindowStart); elapsed >= fpsWindow {
		s.fps = float64(s.fpsFrames) / elapsed.Seconds()
		s.fpsFrames = 0
		s.fpsWindowStart = now
	}
}

// orderedLocked returns tasks by descending priority then registration order.
func (s *FrameScheduler) orderedLocked(activeOnly bool) []*AnimationTask {
	out := make([]*AnimationTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if activeOnly && task.Paused {
			continue
		}
		out = append(out, task)
	}
	slices.SortFunc(out, func(a, b *AnimationTask) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.sequence, b.sequence)
	})
	return out
}

func (s *FrameScheduler) activeCountLocked() int {
	n := 0
	for _, task := range s.tasks {
		if !task.Paused {
			n++
		}
	}
	return n
}

func (s *FrameScheduler) infoLocked(task *AnimationTask) TaskInfo {
	return TaskInfo{
		ID:       task.ID,
		Priority: task.Priority,
		Paused:   task.Paused,
		Errors:   s.errorCounts[task.ID],
	}
}

// String implements fmt.Stringer for log output.
func (s *FrameScheduler) String() string {
	stats := s.Stats()
	return fmt.Sprintf("FrameScheduler{running=%t tasks=%d/%d fps=%.1f}",
		stats.Running, stats.ActiveTasks, stats.TotalTasks, stats.FPS)
}
