package core

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func noopFrame(time.Time, time.Duration) {}

func TestFrameScheduler_RegisterStartsLoop(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	if s.IsRunning() || src.Running() {
		t.Fatal("scheduler should start idle")
	}

	var calls atomic.Int32
	s.Register("a", func(time.Time, time.Duration) { calls.Add(1) })

	if !s.IsRunning() || !src.Running() {
		t.Fatal("register should start the frame loop")
	}

	step(clk, src, DefaultFrameInterval)
	step(clk, src, DefaultFrameInterval)

	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestFrameScheduler_TaskCountInvariant(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		s.Register(id, noopFrame)
	}
	if got := s.TotalTaskCount(); got != 4 {
		t.Fatalf("total = %d, want 4", got)
	}

	s.Unregister("b")
	s.Unregister("b")
	s.Unregister("missing")
	if got := s.TotalTaskCount(); got != 3 {
		t.Fatalf("total = %d, want 3", got)
	}
	if s.Has("b") {
		t.Fatal("b should be gone")
	}

	s.Pause("a")
	if got := s.ActiveTaskCount(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	if got := s.TotalTaskCount(); got != 3 {
		t.Fatalf("pause must not change total, got %d", got)
	}
}

func TestFrameScheduler_PriorityOrdering(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(id string) FrameCallback {
		return func(time.Time, time.Duration) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}
	}

	s.RegisterWithPriority("low", record("low"), PriorityBackground)
	s.RegisterWithPriority("high", record("high"), PriorityInteractive)
	s.RegisterWithPriority("mid1", record("mid1"), PriorityDefault)
	s.RegisterWithPriority("mid2", record("mid2"), PriorityDefault)

	want := []string{"high", "mid1", "mid2", "low"}
	for tick := 0; tick < 100; tick++ {
		mu.Lock()
		order = order[:0]
		mu.Unlock()

		step(clk, src, DefaultFrameInterval)

		mu.Lock()
		got := append([]string(nil), order...)
		mu.Unlock()
		if len(got) != len(want) {
			t.Fatalf("tick %d: order = %v, want %v", tick, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("tick %d: order = %v, want %v", tick, got, want)
			}
		}
	}
}

func TestFrameScheduler_ExtremePriorities(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var order []string
	record := func(id string) FrameCallback {
		return func(time.Time, time.Duration) { order = append(order, id) }
	}
	s.RegisterWithPriority("min", record("min"), math.MinInt)
	s.RegisterWithPriority("one", record("one"), 1)
	s.RegisterWithPriority("max", record("max"), math.MaxInt)
	s.RegisterWithPriority("negative", record("negative"), -1)

	step(clk, src, DefaultFrameInterval)

	want := []string{"max", "one", "negative", "min"}
	if !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestFrameScheduler_SharedTimestampAndDelta(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var (
		mu     sync.Mutex
		stamps []time.Time
		deltas []time.Duration
	)
	cb := func(now time.Time, delta time.Duration) {
		mu.Lock()
		stamps = append(stamps, now)
		deltas = append(deltas, delta)
		mu.Unlock()
	}
	s.Register("a", cb)
	s.Register("b", cb)

	step(clk, src, 0)
	step(clk, src, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 4 {
		t.Fatalf("calls = %d, want 4", len(stamps))
	}
	if !stamps[0].Equal(stamps[1]) || !stamps[2].Equal(stamps[3]) {
		t.Fatalf("tasks in one tick saw different timestamps: %v", stamps)
	}
	if deltas[0] != 0 || deltas[1] != 0 {
		t.Fatalf("first tick delta = %v, want 0", deltas[:2])
	}
	if deltas[2] != 20*time.Millisecond || deltas[3] != 20*time.Millisecond {
		t.Fatalf("second tick delta = %v, want 20ms", deltas[2:])
	}
}

func TestFrameScheduler_PanicIsolation(t *testing.T) {
	handler := &TestPanicHandler{}
	s, clk, src := newTestScheduler(t, func(c *SchedulerConfig) { c.PanicHandler = handler })

	var after atomic.Int32
	s.RegisterWithPriority("bad", func(time.Time, time.Duration) { panic("boom") }, 5)
	s.Register("good", func(time.Time, time.Duration) { after.Add(1) })

	for i := 0; i < 3; i++ {
		step(clk, src, DefaultFrameInterval)
	}

	if got := after.Load(); got != 3 {
		t.Fatalf("good task ran %d times, want 3", got)
	}
	if !s.IsRunning() {
		t.Fatal("loop must survive task panics")
	}

	calls := handler.Calls()
	if len(calls) != 3 || calls[0].TaskID != "bad" || calls[0].PanicInfo != "boom" {
		t.Fatalf("panic handler calls = %+v", calls)
	}
	if len(calls[0].Stack) == 0 {
		t.Fatal("expected a stack trace")
	}

	if got := s.ErrorCounts()["bad"]; got != 3 {
		t.Fatalf("error count = %d, want 3", got)
	}
	recent := s.RecentErrors(2)
	if len(recent) != 2 || recent[0].TaskID != "bad" {
		t.Fatalf("recent errors = %+v", recent)
	}
	if !errors.Is(recent[0].Err, &EngineError{Kind: KindTaskExecution}) {
		t.Fatalf("recent error kind: %v", recent[0].Err)
	}
	if info, ok := s.Task("bad"); !ok || info.Errors != 3 {
		t.Fatalf("task info = %+v", info)
	}
	if got := s.Stats().TaskErrors; got != 3 {
		t.Fatalf("stats errors = %d, want 3", got)
	}
}

func TestFrameScheduler_UnregisterDuringTick(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var second atomic.Int32
	s.RegisterWithPriority("first", func(time.Time, time.Duration) {
		s.Unregister("second")
	}, 1)
	s.Register("second", func(time.Time, time.Duration) { second.Add(1) })

	step(clk, src, DefaultFrameInterval)
	step(clk, src, DefaultFrameInterval)

	// Collected before removal, so it runs in the first tick only
	if got := second.Load(); got != 1 {
		t.Fatalf("second ran %d times, want 1", got)
	}
}

func TestFrameScheduler_SelfUnregisterFromCallback(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var calls atomic.Int32
	s.Register("once", func(time.Time, time.Duration) {
		calls.Add(1)
		s.Unregister("once")
	})

	step(clk, src, DefaultFrameInterval)
	if step(clk, src, DefaultFrameInterval) {
		t.Fatal("source should be stopped once the last task is gone")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if s.IsRunning() {
		t.Fatal("loop should stop when no task remains")
	}
}

func TestFrameScheduler_PauseResume(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var calls atomic.Int32
	s.Register("a", func(time.Time, time.Duration) { calls.Add(1) })
	step(clk, src, DefaultFrameInterval)

	s.Pause("a")
	if !s.IsPaused("a") {
		t.Fatal("a should be paused")
	}
	if s.IsRunning() {
		t.Fatal("loop should stop with only paused tasks")
	}
	step(clk, src, DefaultFrameInterval)

	s.Resume("a")
	if !s.IsRunning() {
		t.Fatal("resume should restart the loop")
	}
	step(clk, src, DefaultFrameInterval)

	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if s.IsPaused("missing") {
		t.Fatal("unknown ids are never paused")
	}
}

func TestFrameScheduler_RestartResetsDelta(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var last atomic.Int64
	s.Register("a", func(_ time.Time, d time.Duration) { last.Store(int64(d)) })
	step(clk, src, 0)
	step(clk, src, 10*time.Millisecond)
	if time.Duration(last.Load()) != 10*time.Millisecond {
		t.Fatalf("delta = %v", time.Duration(last.Load()))
	}

	s.Pause("a")
	clk.Advance(time.Second)
	s.Resume("a")
	step(clk, src, 0)

	if got := time.Duration(last.Load()); got != 0 {
		t.Fatalf("delta after restart = %v, want 0", got)
	}
}

func TestFrameScheduler_PauseAllResumeAll(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var calls atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		s.Register(id, func(time.Time, time.Duration) { calls.Add(1) })
	}

	s.PauseAll()
	if got := s.ActiveTaskCount(); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
	step(clk, src, DefaultFrameInterval)
	if calls.Load() != 0 {
		t.Fatal("paused tasks must not run")
	}

	s.ResumeAll()
	step(clk, src, DefaultFrameInterval)
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestFrameScheduler_WatchVisibility(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.Register("a", noopFrame)
	s.Register("b", noopFrame)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	visible := make(chan bool)
	s.WatchVisibility(ctx, visible)

	visible <- false
	waitForCondition(t, time.Second, func() bool { return s.ActiveTaskCount() == 0 })

	visible <- true
	waitForCondition(t, time.Second, func() bool { return s.ActiveTaskCount() == 2 })
}

func TestFrameScheduler_ReplaceExistingID(t *testing.T) {
	s, clk, src := newTestScheduler(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(id string) FrameCallback {
		return func(time.Time, time.Duration) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}
	}

	s.Register("x", record("x-old"))
	s.Register("y", record("y"))
	s.Pause("x")
	s.Register("x", record("x-new"))

	if s.IsPaused("x") {
		t.Fatal("replacement should clear the paused flag")
	}
	if got := s.TotalTaskCount(); got != 2 {
		t.Fatalf("total = %d, want 2", got)
	}

	step(clk, src, DefaultFrameInterval)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "x-new" || order[1] != "y" {
		t.Fatalf("order = %v, want [x-new y]", order)
	}
}

func TestFrameScheduler_FPS(t *testing.T) {
	s, clk, src := newTestScheduler(t)
	s.Register("a", noopFrame)

	step(clk, src, 0)
	for i := 0; i < 50; i++ {
		step(clk, src, 20*time.Millisecond)
	}

	fps := s.FPS()
	if math.Abs(fps-50) > 0.01 {
		t.Fatalf("fps = %.2f, want 50", fps)
	}
	if got := s.Stats().Frames; got != 51 {
		t.Fatalf("frames = %d, want 51", got)
	}
}

func TestFrameScheduler_Shutdown(t *testing.T) {
	s, _, src := newTestScheduler(t)
	s.Register("a", noopFrame)

	s.Shutdown()
	s.Shutdown()

	if s.TotalTaskCount() != 0 || s.IsRunning() || src.Running() {
		t.Fatalf("shutdown left state behind: %s", s)
	}

	s.Register("b", noopFrame)
	if s.Has("b") {
		t.Fatal("register after shutdown should be ignored")
	}
	if !s.Stats().Closed {
		t.Fatal("stats should report closed")
	}
}

func TestFrameScheduler_NilCallbackIgnored(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.Register("nil", nil)
	if s.Has("nil") {
		t.Fatal("nil callback should not register")
	}
}

func TestFrameScheduler_TasksInExecutionOrder(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.RegisterWithPriority("b", noopFrame, 1)
	s.RegisterWithPriority("a", noopFrame, 2)
	s.RegisterWithPriority("c", noopFrame, 1)
	s.Pause("c")

	tasks := s.Tasks()
	if len(tasks) != 3 || tasks[0].ID != "a" || tasks[1].ID != "b" || tasks[2].ID != "c" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if !tasks[2].Paused {
		t.Fatal("c should be reported paused")
	}
}

func TestFrameScheduler_TickerFrameSource(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s := NewFrameScheduler(&SchedulerConfig{Clock: clk, FrameInterval: 10 * time.Millisecond})
	defer s.Shutdown()

	var calls atomic.Int32
	s.Register("a", func(time.Time, time.Duration) { calls.Add(1) })

	// wait for the ticker goroutine to block on the clock
	clk.BlockUntil(1)
	clk.Advance(10 * time.Millisecond)

	waitForCondition(t, time.Second, func() bool { return calls.Load() >= 1 })
}

func TestFrameScheduler_RealClock(t *testing.T) {
	s := NewFrameScheduler(&SchedulerConfig{FrameInterval: 2 * time.Millisecond})
	defer s.Shutdown()

	var calls atomic.Int32
	s.Register("a", func(time.Time, time.Duration) { calls.Add(1) })

	waitForCondition(t, 2*time.Second, func() bool { return calls.Load() >= 5 })

	s.Unregister("a")
	waitForCondition(t, time.Second, func() bool { return !s.IsRunning() })
}
