package core

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// =============================================================================
// DefaultLogger: zerolog backed
// =============================================================================

// LoggerConfig configures a DefaultLogger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Format is "console" or "json". Defaults to console.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	// SamplingBurst enables rate limiting when > 0: up to SamplingBurst
	// records per second are written, then only every SamplingEvery-th.
	SamplingBurst int
	SamplingEvery int
}

// DefaultLogger writes structured records through zerolog.
type DefaultLogger struct {
	zlog zerolog.Logger
}

// NewDefaultLogger creates a console logger on stderr at info level.
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(LoggerConfig{})
}

// NewLogger creates a DefaultLogger from cfg.
func NewLogger(cfg LoggerConfig) *DefaultLogger {
	var writer io.Writer = os.Stderr
	if cfg.Output != nil {
		writer = cfg.Output
	}
	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().Level(ParseLogLevel(cfg.Level))

	if cfg.SamplingBurst > 0 {
		every := cfg.SamplingEvery
		if every < 1 {
			every = 100
		}
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingBurst),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(every)},
		})
	}

	return &DefaultLogger{zlog: zlog}
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(zlog zerolog.Logger) *DefaultLogger {
	return &DefaultLogger{zlog: zlog}
}

// With returns a child logger carrying the given fields on every record.
func (l *DefaultLogger) With(fields ...Field) *DefaultLogger {
	ctx := l.zlog.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &DefaultLogger{zlog: ctx.Logger()}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.log(l.zlog.Debug(), msg, fields)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.log(l.zlog.Info(), msg, fields)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.log(l.zlog.Warn(), msg, fields)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.log(l.zlog.Error(), msg, fields)
}

func (l *DefaultLogger) log(e *zerolog.Event, msg string, fields []Field) {
	// nil when the level is disabled or the sampler dropped the record
	if e == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

// ParseLogLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// componentLogger prefixes every record with a component field.
type componentLogger struct {
	base      Logger
	component string
}

// WithComponent returns a Logger that tags records with component.
// A nil base yields a NoOpLogger.
func WithComponent(base Logger, component string) Logger {
	if base == nil {
		return NewNoOpLogger()
	}
	if dl, ok := base.(*DefaultLogger); ok {
		return dl.With(F("component", component))
	}
	return &componentLogger{base: base, component: component}
}

func (l *componentLogger) Debug(msg string, fields ...Field) {
	l.base.Debug(msg, l.tag(fields)...)
}
func (l *componentLogger) Info(msg string, fields ...Field) {
	l.base.Info(msg, l.tag(fields)...)
}
func (l *componentLogger) Warn(msg string, fields ...Field) {
	l.base.Warn(msg, l.tag(fields)...)
}
func (l *componentLogger) Error(msg string, fields ...Field) {
	l.base.Error(msg, l.tag(fields)...)
}

func (l *componentLogger) tag(fields []Field) []Field {
	out := make([]Field, 0, len(fields)+1)
	out = append(out, F("component", l.component))
	return append(out, fields...)
}
