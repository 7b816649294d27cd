package core

import "time"

// TaskErrorRecord captures one recovered panic from a frame callback.
type TaskErrorRecord struct {
	TaskID     string
	Priority   int
	OccurredAt time.Time
	Err        error
	Stack      string
}

// SchedulerStats represents runtime observability state for a FrameScheduler.
type SchedulerStats struct {
	Running     bool
	ActiveTasks int
	TotalTasks  int
	PausedTasks int
	FPS         float64
	Frames      uint64
	TaskErrors  int64
	LastFrameAt time.Time
	Closed      bool
}
