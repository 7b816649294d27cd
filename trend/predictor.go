// Package trend estimates when a progress value will reach its target from
// a bounded history of timestamped samples.
package trend

import (
	"encoding/json"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

const (
	DefaultMaxSamples    = 50
	DefaultMinDataPoints = 3
	DefaultRecentWindow  = 5

	// StableThreshold is the speed, in units per millisecond, below which a
	// trend is reported as stable.
	StableThreshold = 0.001

	currentWeight = 0.7
	averageWeight = 0.3
)

// Direction classifies the average speed of the recorded history.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// Config configures a Predictor. Zero values use defaults.
type Config struct {
	MaxSamples    int
	MinDataPoints int
	RecentWindow  int
	Clock         clockwork.Clock
	Logger        core.Logger
}

// Sample is one recorded value.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Prediction is an estimate of the remaining time to a target value.
// Speeds are in value units per millisecond.
type Prediction struct {
	// EstimatedCompletionTime is zero when the target is never reached.
	EstimatedCompletionTime time.Time
	// EstimatedRemainingTime is in milliseconds and may be +Inf.
	EstimatedRemainingTime float64
	CurrentSpeed           float64
	AverageSpeed           float64
	Confidence             float64
}

// Remaining returns the remaining time as a duration. ok is false when the
// target is never reached at the current speed.
func (p Prediction) Remaining() (d time.Duration, ok bool) {
	if math.IsInf(p.EstimatedRemainingTime, 0) || math.IsNaN(p.EstimatedRemainingTime) {
		return 0, false
	}
	if p.EstimatedRemainingTime >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(math.Round(p.EstimatedRemainingTime * float64(time.Millisecond))), true
}

// MarshalJSON encodes an unreachable target as null remaining time.
func (p Prediction) MarshalJSON() ([]byte, error) {
	type wire struct {
		EstimatedCompletionTime *time.Time `json:"estimatedCompletionTime"`
		EstimatedRemainingTime  *float64   `json:"estimatedRemainingTime"`
		CurrentSpeed            float64    `json:"currentSpeed"`
		AverageSpeed            float64    `json:"averageSpeed"`
		Confidence              float64    `json:"confidence"`
	}
	w := wire{
		CurrentSpeed: p.CurrentSpeed,
		AverageSpeed: p.AverageSpeed,
		Confidence:   p.Confidence,
	}
	if _, ok := p.Remaining(); ok {
		remaining := p.EstimatedRemainingTime
		w.EstimatedRemainingTime = &remaining
		eta := p.EstimatedCompletionTime
		w.EstimatedCompletionTime = &eta
	}
	return json.Marshal(w)
}

// Predictor records samples and extrapolates completion.
type Predictor struct {
	samples       *core.RingBuffer[Sample]
	minDataPoints int
	recentWindow  int
	clock         clockwork.Clock
	logger        core.Logger
}

// NewPredictor creates a predictor.
func NewPredictor(cfg Config) *Predictor {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = DefaultMinDataPoints
	}
	// a slope needs two points
	cfg.MinDataPoints = max(cfg.MinDataPoints, 2)
	if cfg.RecentWindow < 2 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Predictor{
		samples:       core.NewRingBuffer[Sample](cfg.MaxSamples),
		minDataPoints: cfg.MinDataPoints,
		recentWindow:  cfg.RecentWindow,
		clock:         cfg.Clock,
		logger:        core.WithComponent(cfg.Logger, "predictor"),
	}
}

// Record appends value at the current clock time.
func (p *Predictor) Record(value float64) {
	p.RecordAt(value, p.clock.Now())
}

// RecordAt appends value at ts, evicting the oldest sample when full.
func (p *Predictor) RecordAt(value float64, ts time.Time) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		p.logger.Warn("ignoring non-finite sample", core.F("value", value))
		return
	}
	p.samples.Add(Sample{Timestamp: ts, Value: value})
}

// Observe records every change of state. The returned func stops observing.
func (p *Predictor) Observe(state *core.ValueState) func() {
	return state.Subscribe(func(_, v float64) {
		p.Record(v)
	})
}

// Predict estimates the time to reach target. It returns false when fewer
// than the minimum number of samples have been recorded.
func (p *Predictor) Predict(target float64) (*Prediction, bool) {
	samples := p.samples.Items()
	if len(samples) < p.minDataPoints {
		p.logger.Warn("not enough samples to predict",
			core.F("samples", len(samples)), core.F("required", p.minDataPoints))
		return nil, false
	}

	last := samples[len(samples)-1]
	recent := samples[max(0, len(samples)-p.recentWindow):]
	currentSpeed := slope(recent)
	averageSpeed := slope(samples)
	now := p.clock.Now()

	if last.Value >= target {
		return &Prediction{
			EstimatedCompletionTime: now,
			EstimatedRemainingTime:  0,
			CurrentSpeed:            currentSpeed,
			AverageSpeed:            averageSpeed,
			Confidence:              1,
		}, true
	}

	pred := &Prediction{
		EstimatedRemainingTime: math.Inf(1),
		CurrentSpeed:           currentSpeed,
		AverageSpeed:           averageSpeed,
		Confidence:             confidence(samples),
	}

	blended := currentWeight*currentSpeed + averageWeight*averageSpeed
	if blended > 0 {
		pred.EstimatedRemainingTime = (target - last.Value) / blended
		remaining, _ := pred.Remaining()
		pred.EstimatedCompletionTime = now.Add(remaining)
	}
	return pred, true
}

// Trend classifies the average speed over the whole history.
func (p *Predictor) Trend() Direction {
	speed := slope(p.samples.Items())
	switch {
	case speed > StableThreshold:
		return Increasing
	case speed < -StableThreshold:
		return Decreasing
	default:
		return Stable
	}
}

// Samples returns the recorded samples, oldest first.
func (p *Predictor) Samples() []Sample {
	return p.samples.Items()
}

// Len returns the number of recorded samples.
func (p *Predictor) Len() int {
	return p.samples.Len()
}

// Clear drops all samples.
func (p *Predictor) Clear() {
	p.samples.Clear()
}

// slope returns the speed from the first to the last sample in units per ms.
func slope(samples []Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first, last := samples[0], samples[len(samples)-1]
	dt := millis(last.Timestamp.Sub(first.Timestamp))
	if dt <= 0 {
		return 0
	}
	return (last.Value - first.Value) / dt
}

// confidence is one minus the coefficient of variation of the per-interval
// speeds, clamped to [0, 1].
func confidence(samples []Sample) float64 {
	speeds := make([]float64, 0, len(samples))
	for i := 1; i < len(samples); i++ {
		dt := millis(samples[i].Timestamp.Sub(samples[i-1].Timestamp))
		if dt <= 0 {
			continue
		}
		speeds = append(speeds, (samples[i].Value-samples[i-1].Value)/dt)
	}
	if len(speeds) < 2 {
		return 0.5
	}

	var sum float64
	for _, s := range speeds {
		sum += s
	}
	mean := sum / float64(len(speeds))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, s := range speeds {
		variance += (s - mean) * (s - mean)
	}
	stddev := math.Sqrt(variance / float64(len(speeds)))

	return core.Clamp01(1 - stddev/math.Abs(mean))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
