package api

import (
	"time"

	"github.com/Swind/go-progress-engine/core"
	"github.com/Swind/go-progress-engine/trend"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Response is the envelope of every API response.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ===== Health =====

type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  time.Duration `json:"uptime"`
}

// ===== Scheduler =====

type SchedulerResponse struct {
	Running     bool            `json:"running"`
	ActiveTasks int             `json:"activeTasks"`
	TotalTasks  int             `json:"totalTasks"`
	PausedTasks int             `json:"pausedTasks"`
	FPS         float64         `json:"fps"`
	Frames      uint64          `json:"frames"`
	TaskErrors  int64           `json:"taskErrors"`
	LastFrameAt time.Time       `json:"lastFrameAt,omitzero"`
	Closed      bool            `json:"closed"`
	Tasks       []core.TaskInfo `json:"tasks"`
}

func newSchedulerResponse(stats core.SchedulerStats, tasks []core.TaskInfo) SchedulerResponse {
	if tasks == nil {
		tasks = []core.TaskInfo{}
	}
	return SchedulerResponse{
		Running:     stats.Running,
		ActiveTasks: stats.ActiveTasks,
		TotalTasks:  stats.TotalTasks,
		PausedTasks: stats.PausedTasks,
		FPS:         stats.FPS,
		Frames:      stats.Frames,
		TaskErrors:  stats.TaskErrors,
		LastFrameAt: stats.LastFrameAt,
		Closed:      stats.Closed,
		Tasks:       tasks,
	}
}

type TaskErrorResponse struct {
	TaskID     string    `json:"taskId"`
	Priority   int       `json:"priority"`
	OccurredAt time.Time `json:"occurredAt"`
	Error      string    `json:"error"`
	Stack      string    `json:"stack,omitempty"`
}

type ErrorsResponse struct {
	Recent []TaskErrorResponse `json:"recent"`
	Counts map[string]int64    `json:"counts"`
}

// ===== Progress =====

type ProgressResponse struct {
	Value      float64 `json:"value"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Percentage float64 `json:"percentage"`
	Animating  bool    `json:"animating"`
	Trend      string  `json:"trend,omitempty"`
}

type SetProgressRequest struct {
	Value    *float64 `json:"value" binding:"required"`
	Animated bool     `json:"animated"`
}

type PredictionResponse struct {
	Target     float64          `json:"target"`
	Trend      string           `json:"trend"`
	Prediction *trend.Prediction `json:"prediction"`
}

// ===== Snapshots =====

type PlaybackRequest struct {
	Speed float64 `json:"speed" binding:"gte=0"`
	Loop  bool    `json:"loop"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}
