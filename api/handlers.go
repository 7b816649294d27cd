package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Swind/go-progress-engine/core"
	"github.com/Swind/go-progress-engine/snapshot"
)

const (
	defaultErrorLimit = 20

	// snapshotBytesBudget bounds the encoded size of one imported snapshot.
	snapshotBytesBudget = 4 << 10
)

// importLimit returns the largest import body accepted for a recorder of the
// given capacity.
func importLimit(capacity int) int64 {
	return int64(capacity+1) * snapshotBytesBudget
}

// ===== Health =====

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Status: statusSuccess,
		Data: HealthResponse{
			Status:  "healthy",
			Version: s.version,
			Uptime:  s.clock.Since(s.startTime),
		},
	})
}

// ===== Scheduler =====

func (s *Server) handleGetScheduler(c *gin.Context) {
	if !s.requireScheduler(c) {
		return
	}
	c.JSON(http.StatusOK, Response{
		Status: statusSuccess,
		Data:   newSchedulerResponse(s.scheduler.Stats(), s.scheduler.Tasks()),
	})
}

func (s *Server) handlePauseAll(c *gin.Context) {
	if !s.requireScheduler(c) {
		return
	}
	s.scheduler.PauseAll()
	s.logger.Info("all tasks paused")
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Message: "all tasks paused"})
}

func (s *Server) handleResumeAll(c *gin.Context) {
	if !s.requireScheduler(c) {
		return
	}
	s.scheduler.ResumeAll()
	s.logger.Info("all tasks resumed")
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Message: "all tasks resumed"})
}

func (s *Server) handleGetErrors(c *gin.Context) {
	if !s.requireScheduler(c) {
		return
	}
	limit := defaultErrorLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	withStack := c.Query("stack") == "true"

	records := s.scheduler.RecentErrors(limit)
	recent := make([]TaskErrorResponse, 0, len(records))
	for _, rec := range records {
		item := TaskErrorResponse{
			TaskID:     rec.TaskID,
			Priority:   rec.Priority,
			OccurredAt: rec.OccurredAt,
		}
		if rec.Err != nil {
			item.Error = rec.Err.Error()
		}
		if withStack {
			item.Stack = rec.Stack
		}
		recent = append(recent, item)
	}
	c.JSON(http.StatusOK, Response{
		Status: statusSuccess,
		Data: ErrorsResponse{
			Recent: recent,
			Counts: s.scheduler.ErrorCounts(),
		},
	})
}

// ===== Tasks =====

func (s *Server) handleGetTasks(c *gin.Context) {
	if !s.requireScheduler(c) {
		return
	}
	tasks := s.scheduler.Tasks()
	if tasks == nil {
		tasks = []core.TaskInfo{}
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	if !s.requireScheduler(c) {
		return
	}
	info, ok := s.scheduler.Task(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: info})
}

func (s *Server) handlePauseTask(c *gin.Context) {
	s.toggleTask(c, true)
}

func (s *Server) handleResumeTask(c *gin.Context) {
	s.toggleTask(c, false)
}

func (s *Server) toggleTask(c *gin.Context, pause bool) {
	if !s.requireScheduler(c) {
		return
	}
	id := c.Param("id")
	if !s.scheduler.Has(id) {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	if pause {
		s.scheduler.Pause(id)
	} else {
		s.scheduler.Resume(id)
	}
	info, _ := s.scheduler.Task(id)
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: info})
}

// ===== Progress =====

func (s *Server) handleGetProgress(c *gin.Context) {
	if !s.requireValue(c) {
		return
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: s.progress()})
}

func (s *Server) handleSetProgress(c *gin.Context) {
	if !s.requireValue(c) {
		return
	}
	var req SetProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.value.SetValue(*req.Value, req.Animated)
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: s.progress()})
}

func (s *Server) progress() ProgressResponse {
	state := s.value.State()
	resp := ProgressResponse{
		Value:      state.Value(),
		Min:        state.Min(),
		Max:        state.Max(),
		Percentage: state.Percentage(),
		Animating:  s.value.Interpolator().IsAnimating(),
	}
	if s.predictor != nil {
		resp.Trend = string(s.predictor.Trend())
	}
	return resp
}

func (s *Server) handleGetPrediction(c *gin.Context) {
	if s.predictor == nil {
		notConfigured(c, "predictor")
		return
	}
	var target float64
	switch raw := c.Query("target"); {
	case raw != "":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "target must be a number")
			return
		}
		target = v
	case s.value != nil:
		target = s.value.State().Max()
	default:
		fail(c, http.StatusBadRequest, "target is required")
		return
	}

	prediction, ok := s.predictor.Predict(target)
	if !ok {
		fail(c, http.StatusUnprocessableEntity, core.ErrNotEnoughSamples.Error())
		return
	}
	c.JSON(http.StatusOK, Response{
		Status: statusSuccess,
		Data: PredictionResponse{
			Target:     target,
			Trend:      string(s.predictor.Trend()),
			Prediction: prediction,
		},
	})
}

// ===== Snapshots =====

func (s *Server) handleExportSnapshots(c *gin.Context) {
	if !s.requireRecorder(c) {
		return
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: s.recorder.Snapshots()})
}

func (s *Server) handleImportSnapshots(c *gin.Context) {
	if !s.requireRecorder(c) {
		return
	}
	limit := importLimit(s.recorder.Capacity())
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn("snapshot import too large", core.F("limit", limit))
			fail(c, http.StatusRequestEntityTooLarge, "import body exceeds "+strconv.FormatInt(limit, 10)+" bytes")
			return
		}
		fail(c, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if err := s.recorder.Import(body); err != nil {
		s.logger.Warn("snapshot import rejected", core.F("error", err))
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, Response{
		Status: statusSuccess,
		Data:   ImportResponse{Imported: s.recorder.Len()},
	})
}

func (s *Server) handleSnapshotStats(c *gin.Context) {
	if !s.requireRecorder(c) {
		return
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: s.recorder.Statistics()})
}

func (s *Server) handleStartPlayback(c *gin.Context) {
	if !s.requireRecorder(c) || !s.requireValue(c) {
		return
	}
	var req PlaybackRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	value := s.value
	err := s.recorder.Playback(func(snap snapshot.Snapshot) {
		value.SetValue(snap.Value, false)
	}, snapshot.PlaybackOptions{Speed: req.Speed, Loop: req.Loop})
	switch {
	case errors.Is(err, core.ErrNoSnapshots):
		fail(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, Response{Status: statusSuccess, Message: "playback started"})
}

func (s *Server) handleStopPlayback(c *gin.Context) {
	if !s.requireRecorder(c) {
		return
	}
	s.recorder.StopPlayback()
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Message: "playback stopped"})
}

// ===== Helpers =====

func (s *Server) requireScheduler(c *gin.Context) bool {
	if s.scheduler == nil {
		notConfigured(c, "scheduler")
		return false
	}
	return true
}

func (s *Server) requireValue(c *gin.Context) bool {
	if s.value == nil {
		notConfigured(c, "progress value")
		return false
	}
	return true
}

func (s *Server) requireRecorder(c *gin.Context) bool {
	if s.recorder == nil {
		notConfigured(c, "recorder")
		return false
	}
	return true
}

func notConfigured(c *gin.Context, what string) {
	fail(c, http.StatusServiceUnavailable, what+" not configured")
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, Response{Status: statusError, Error: msg})
}
