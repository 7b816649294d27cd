package trend

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

func recordSeries(p *Predictor, start time.Time, step time.Duration, values ...float64) {
	for i, v := range values {
		p.RecordAt(v, start.Add(time.Duration(i)*step))
	}
}

func TestPredictor_NotEnoughSamples(t *testing.T) {
	p := NewPredictor(Config{})
	start := time.Unix(0, 0)

	if _, ok := p.Predict(100); ok {
		t.Fatal("empty predictor should not predict")
	}
	recordSeries(p, start, time.Second, 10, 20)
	if pred, ok := p.Predict(100); ok || pred != nil {
		t.Fatal("two samples should not predict")
	}
	p.RecordAt(30, start.Add(2*time.Second))
	if _, ok := p.Predict(100); !ok {
		t.Fatal("three samples should predict")
	}
}

func TestPredictor_ConstantSpeed(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(1000, 0))
	p := NewPredictor(Config{Clock: clk})

	// 10 units per second = 0.01 units per ms
	recordSeries(p, clk.Now(), time.Second, 0, 10, 20, 30, 40)

	pred, ok := p.Predict(100)
	if !ok {
		t.Fatal("expected prediction")
	}
	if math.Abs(pred.CurrentSpeed-0.01) > 1e-12 || math.Abs(pred.AverageSpeed-0.01) > 1e-12 {
		t.Fatalf("speeds = %v / %v, want 0.01", pred.CurrentSpeed, pred.AverageSpeed)
	}
	if math.Abs(pred.EstimatedRemainingTime-6000) > 1e-6 {
		t.Fatalf("remaining = %v ms, want 6000", pred.EstimatedRemainingTime)
	}
	if math.Abs(pred.Confidence-1) > 1e-9 {
		t.Fatalf("confidence = %v, want 1 for constant speed", pred.Confidence)
	}
	remaining, ok := pred.Remaining()
	if !ok || remaining != 6*time.Second {
		t.Fatalf("Remaining() = %v, %v", remaining, ok)
	}
	if want := clk.Now().Add(6 * time.Second); !pred.EstimatedCompletionTime.Equal(want) {
		t.Fatalf("completion time = %v, want %v", pred.EstimatedCompletionTime, want)
	}
}

func TestPredictor_BlendsRecentAndAverageSpeed(t *testing.T) {
	p := NewPredictor(Config{})
	start := time.Unix(0, 0)

	// slow start, then fast: the last 5 samples move 4 units per second
	recordSeries(p, start, time.Second, 0, 0, 0, 0, 0, 4, 8, 12, 16)

	pred, ok := p.Predict(100)
	if !ok {
		t.Fatal("expected prediction")
	}
	current := 16.0 / 4000
	average := 16.0 / 8000
	if math.Abs(pred.CurrentSpeed-current) > 1e-12 || math.Abs(pred.AverageSpeed-average) > 1e-12 {
		t.Fatalf("speeds = %v / %v", pred.CurrentSpeed, pred.AverageSpeed)
	}
	want := (100 - 16) / (0.7*current + 0.3*average)
	if math.Abs(pred.EstimatedRemainingTime-want) > 1e-6 {
		t.Fatalf("remaining = %v, want %v", pred.EstimatedRemainingTime, want)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		t.Fatalf("confidence %v out of range", pred.Confidence)
	}
}

func TestPredictor_TargetReached(t *testing.T) {
	p := NewPredictor(Config{})
	recordSeries(p, time.Unix(0, 0), time.Second, 80, 95, 100)

	pred, ok := p.Predict(100)
	if !ok || pred.EstimatedRemainingTime != 0 || pred.Confidence != 1 {
		t.Fatalf("prediction = %+v", pred)
	}
}

func TestPredictor_NoProgressIsInfinite(t *testing.T) {
	p := NewPredictor(Config{})
	recordSeries(p, time.Unix(0, 0), time.Second, 50, 40, 30)

	pred, ok := p.Predict(100)
	if !ok {
		t.Fatal("expected prediction")
	}
	if !math.IsInf(pred.EstimatedRemainingTime, 1) {
		t.Fatalf("remaining = %v, want +Inf", pred.EstimatedRemainingTime)
	}
	if _, ok := pred.Remaining(); ok {
		t.Fatal("Remaining should report unreachable")
	}
	if !pred.EstimatedCompletionTime.IsZero() {
		t.Fatal("unreachable target has no completion time")
	}

	data, err := json.Marshal(pred)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"estimatedRemainingTime":null`) {
		t.Fatalf("json = %s", data)
	}
}

func TestPredictor_ConfidenceBounds(t *testing.T) {
	series := [][]float64{
		{0, 1, 50, 51, 52},
		{0, 10, 0, 10, 0, 10},
		{5, 5, 5, 5},
		{0, 100, 100, 100},
		{0, -1, 3, -7, 20},
	}
	for _, values := range series {
		p := NewPredictor(Config{})
		recordSeries(p, time.Unix(0, 0), 250*time.Millisecond, values...)
		pred, ok := p.Predict(1000)
		if !ok {
			t.Fatalf("%v: expected prediction", values)
		}
		if pred.Confidence < 0 || pred.Confidence > 1 || math.IsNaN(pred.Confidence) {
			t.Fatalf("%v: confidence %v out of [0,1]", values, pred.Confidence)
		}
	}

	// zero mean speed
	p := NewPredictor(Config{})
	recordSeries(p, time.Unix(0, 0), time.Second, 5, 5, 5)
	if pred, _ := p.Predict(100); pred.Confidence != 0 {
		t.Fatalf("flat series confidence = %v, want 0", pred.Confidence)
	}

	// only one usable interval
	p = NewPredictor(Config{MinDataPoints: 2})
	recordSeries(p, time.Unix(0, 0), time.Second, 0, 5)
	if pred, _ := p.Predict(100); pred.Confidence != 0.5 {
		t.Fatalf("single interval confidence = %v, want 0.5", pred.Confidence)
	}
}

func TestPredictor_Trend(t *testing.T) {
	tests := []struct {
		values []float64
		want   Direction
	}{
		{[]float64{0, 10, 20}, Increasing},
		{[]float64{20, 10, 0}, Decreasing},
		{[]float64{10, 10.0001, 10}, Stable},
		{[]float64{10}, Stable},
	}
	for _, tc := range tests {
		p := NewPredictor(Config{})
		recordSeries(p, time.Unix(0, 0), time.Second, tc.values...)
		if got := p.Trend(); got != tc.want {
			t.Errorf("Trend(%v) = %s, want %s", tc.values, got, tc.want)
		}
	}
}

func TestPredictor_BoundedHistory(t *testing.T) {
	p := NewPredictor(Config{MaxSamples: 4})
	recordSeries(p, time.Unix(0, 0), time.Second, 1, 2, 3, 4, 5, 6)

	samples := p.Samples()
	if len(samples) != 4 || samples[0].Value != 3 || samples[3].Value != 6 {
		t.Fatalf("samples = %+v", samples)
	}

	p.RecordAt(math.NaN(), time.Unix(10, 0))
	if p.Len() != 4 {
		t.Fatal("non-finite sample should be ignored")
	}

	p.Clear()
	if p.Len() != 0 {
		t.Fatal("clear should drop samples")
	}
}

func TestPredictor_ObserveValueState(t *testing.T) {
	clk := clockwork.NewFakeClock()
	p := NewPredictor(Config{Clock: clk})
	state := core.MustValueState(0, 100, 0)

	stop := p.Observe(state)
	for _, v := range []float64{10, 20, 30} {
		clk.Advance(time.Second)
		_ = state.Set(v)
	}
	stop()
	_ = state.Set(40)

	if p.Len() != 3 {
		t.Fatalf("samples = %d, want 3", p.Len())
	}
	pred, ok := p.Predict(100)
	if !ok || math.Abs(pred.EstimatedRemainingTime-7000) > 1e-6 {
		t.Fatalf("prediction = %+v", pred)
	}
}
