// Package api exposes a progress engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
	"github.com/Swind/go-progress-engine/snapshot"
	"github.com/Swind/go-progress-engine/trend"
)

const (
	DefaultVersion     = "1.0.0"
	DefaultMetricsPath = "/metrics"
)

// Options wires the components served by a Server. Nil components answer
// with 503.
type Options struct {
	Scheduler *core.FrameScheduler
	Value     *core.AnimatedValue
	Predictor *trend.Predictor
	Recorder  *snapshot.Recorder

	// AllowedOrigins restricts CORS. Empty allows every origin.
	AllowedOrigins []string
	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string

	Version string
	Clock   clockwork.Clock
	Logger  core.Logger
}

// Server serves the /api/v1 routes.
type Server struct {
	scheduler *core.FrameScheduler
	value     *core.AnimatedValue
	predictor *trend.Predictor
	recorder  *snapshot.Recorder

	opts      Options
	clock     clockwork.Clock
	logger    core.Logger
	startTime time.Time
	version   string
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = DefaultMetricsPath
	}
	return &Server{
		scheduler: opts.Scheduler,
		value:     opts.Value,
		predictor: opts.Predictor,
		recorder:  opts.Recorder,
		opts:      opts,
		clock:     opts.Clock,
		logger:    core.WithComponent(opts.Logger, "api"),
		startTime: opts.Clock.Now(),
		version:   opts.Version,
	}
}

// Handler builds a gin engine with every route mounted.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(s.corsConfig()))
	if s.opts.MetricsHandler != nil {
		r.GET(s.opts.MetricsPath, gin.WrapH(s.opts.MetricsHandler))
	}
	s.SetupRoutes(r)
	return r
}

// SetupRoutes mounts the /api/v1 routes on r.
func (s *Server) SetupRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		scheduler := v1.Group("/scheduler")
		{
			scheduler.GET("", s.handleGetScheduler)
			scheduler.POST("/pause", s.handlePauseAll)
			scheduler.POST("/resume", s.handleResumeAll)
			scheduler.GET("/errors", s.handleGetErrors)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("", s.handleGetTasks)
			tasks.GET("/:id", s.handleGetTask)
			tasks.POST("/:id/pause", s.handlePauseTask)
			tasks.POST("/:id/resume", s.handleResumeTask)
		}

		v1.GET("/progress", s.handleGetProgress)
		v1.PUT("/progress", s.handleSetProgress)
		v1.GET("/prediction", s.handleGetPrediction)

		snapshots := v1.Group("/snapshots")
		{
			snapshots.GET("", s.handleExportSnapshots)
			snapshots.POST("", s.handleImportSnapshots)
			snapshots.GET("/stats", s.handleSnapshotStats)
			snapshots.POST("/playback", s.handleStartPlayback)
			snapshots.DELETE("/playback", s.handleStopPlayback)
		}
	}
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(s.opts.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.AllowedOrigins
	}
	return cfg
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.clock.Now()
		c.Next()

		fields := []core.Field{
			core.F("method", c.Request.Method),
			core.F("path", c.FullPath()),
			core.F("status", c.Writer.Status()),
			core.F("latency", s.clock.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, core.F("error", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields...)
			return
		}
		s.logger.Debug("request", fields...)
	}
}
