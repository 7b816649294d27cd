// Package config loads progressd configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Swind/go-progress-engine/core"
)

// Config is the full progressd configuration.
type Config struct {
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Logging     LoggingConfig     `yaml:"logging"`
	Progress    ProgressConfig    `yaml:"progress"`
	Predictor   PredictorConfig   `yaml:"predictor"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Sync        SyncConfig        `yaml:"sync"`
	Persistence PersistenceConfig `yaml:"persistence"`
	HTTP        HTTPConfig        `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

type SchedulerConfig struct {
	// FPS is the target frame rate of the ticker frame source.
	FPS          int `yaml:"fps" validate:"min=1,max=240"`
	ErrorHistory int `yaml:"error_history" validate:"min=1"`
}

// FrameInterval converts FPS to a tick interval.
func (c SchedulerConfig) FrameInterval() time.Duration {
	if c.FPS <= 0 {
		return core.DefaultFrameInterval
	}
	return time.Second / time.Duration(c.FPS)
}

type LoggingConfig struct {
	Level         string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format        string `yaml:"format" validate:"oneof=console json"`
	SamplingBurst int    `yaml:"sampling_burst" validate:"min=0"`
	SamplingEvery int    `yaml:"sampling_every" validate:"min=0"`
}

// LoggerConfig converts the section to a core.LoggerConfig.
func (c LoggingConfig) LoggerConfig() core.LoggerConfig {
	return core.LoggerConfig{
		Level:         c.Level,
		Format:        c.Format,
		SamplingBurst: c.SamplingBurst,
		SamplingEvery: c.SamplingEvery,
	}
}

type ProgressConfig struct {
	Min      float64       `yaml:"min"`
	Max      float64       `yaml:"max" validate:"gtfield=Min"`
	Initial  float64       `yaml:"initial"`
	Duration time.Duration `yaml:"duration" validate:"min=0"`
	Easing   string        `yaml:"easing"`
}

type PredictorConfig struct {
	MaxSamples    int `yaml:"max_samples" validate:"min=2"`
	MinDataPoints int `yaml:"min_data_points" validate:"min=2,ltefield=MaxSamples"`
	RecentWindow  int `yaml:"recent_window" validate:"min=2"`
}

type RecorderConfig struct {
	Capacity         int           `yaml:"capacity" validate:"min=1"`
	MinPlaybackDelay time.Duration `yaml:"min_playback_delay" validate:"min=0"`
	Format           string        `yaml:"format" validate:"oneof=json yaml yml"`
}

type SyncConfig struct {
	Mode    string        `yaml:"mode" validate:"oneof=master-slave average max min"`
	Delay   time.Duration `yaml:"delay" validate:"min=0"`
	Animate bool          `yaml:"animate"`
}

type PersistenceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Driver   string        `yaml:"driver" validate:"oneof=memory sqlite"`
	Path     string        `yaml:"path" validate:"required_if=Driver sqlite"`
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`
}

type HTTPConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr" validate:"required_if=Enabled true"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Namespace    string        `yaml:"namespace"`
	Path         string        `yaml:"path" validate:"omitempty,startswith=/"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=0"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos" validate:"max=2"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{FPS: 60, ErrorHistory: 64},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
		Progress:  ProgressConfig{Min: 0, Max: 100, Duration: 300 * time.Millisecond, Easing: core.EasingLinear},
		Predictor: PredictorConfig{MaxSamples: 50, MinDataPoints: 3, RecentWindow: 5},
		Recorder:  RecorderConfig{Capacity: 100, MinPlaybackDelay: 10 * time.Millisecond, Format: "json"},
		Sync:      SyncConfig{Mode: "master-slave"},
		Persistence: PersistenceConfig{
			Driver:   "memory",
			Debounce: 500 * time.Millisecond,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Metrics: MetricsConfig{
			Namespace:    "progress",
			Path:         "/metrics",
			PollInterval: time.Second,
		},
		MQTT: MQTTConfig{ClientID: "progressd", Topic: "progress/sync"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and returns a configuration error
// listing every invalid field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			err = errors.New(strings.Join(msgs, "; "))
		}
		return core.NewConfigurationError("config.Validate", err)
	}
	if c.Progress.Easing != "" {
		if _, err := core.LookupEasing(c.Progress.Easing); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, core.NewConfigurationError("config.Parse", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, core.NewConfigurationError("config.Load", fmt.Errorf("read %s: %w", path, err))
	}
	return Parse(data)
}
