package core

import (
	"fmt"
	"math"
	"slices"
	"sync"
)

// ValueObserver is notified after a value change.
type ValueObserver func(old, new float64)

// ValueState holds a current value within [min, max] bounds and derives its
// percentage. It is safe for concurrent use.
type ValueState struct {
	mu      sync.RWMutex
	current float64
	min     float64
	max     float64

	observers map[uint64]ValueObserver
	nextObs   uint64
}

// NewValueState creates a state. It fails when min >= max or any argument
// is not finite.
func NewValueState(min, max, current float64) (*ValueState, error) {
	if err := checkBounds("NewValueState", min, max); err != nil {
		return nil, err
	}
	if !isFinite(current) {
		return nil, NewConfigurationError("NewValueState", ErrNonFiniteValue)
	}
	return &ValueState{
		current:   current,
		min:       min,
		max:       max,
		observers: make(map[uint64]ValueObserver),
	}, nil
}

// MustValueState is like NewValueState but panics on invalid bounds.
func MustValueState(min, max, current float64) *ValueState {
	s, err := NewValueState(min, max, current)
	if err != nil {
		panic(err)
	}
	return s
}

// Value returns the current value.
func (s *ValueState) Value() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Min returns the lower bound.
func (s *ValueState) Min() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.min
}

// Max returns the upper bound.
func (s *ValueState) Max() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.max
}

// Set stores v as is. Overshooting easings may leave the value outside the
// bounds for a few frames; use Normalize to clamp. Non-finite values are
// rejected.
func (s *ValueState) Set(v float64) error {
	if !isFinite(v) {
		return NewConfigurationError("ValueState.Set", ErrNonFiniteValue)
	}

	s.mu.Lock()
	old := s.current
	s.current = v
	observers := s.observerListLocked()
	s.mu.Unlock()

	if old != v {
		for _, fn := range observers {
			fn(old, v)
		}
	}
	return nil
}

// SetBounds replaces both bounds. The current value is left untouched.
func (s *ValueState) SetBounds(min, max float64) error {
	if err := checkBounds("ValueState.SetBounds", min, max); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.min = min
	s.max = max
	return nil
}

// Percentage returns the current value as a percentage in [0, 100].
func (s *ValueState) Percentage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return percentage(s.current, s.min, s.max)
}

// PercentageOf returns v as a percentage of the bounds, in [0, 100].
func (s *ValueState) PercentageOf(v float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return percentage(v, s.min, s.max)
}

// Normalize clamps v to [min, max].
func (s *ValueState) Normalize(v float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clamp(v, s.min, s.max)
}

// Validate reports whether the bounds are well formed and the current value
// lies within them.
func (s *ValueState) Validate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.min < s.max && s.current >= s.min && s.current <= s.max
}

// Subscribe registers fn for value changes and returns its cancel func.
// Observers run on the goroutine that changed the value.
func (s *ValueState) Subscribe(fn ValueObserver) func() {
	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *ValueState) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("%g [%g, %g]", s.current, s.min, s.max)
}

func (s *ValueState) observerListLocked() []ValueObserver {
	if len(s.observers) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	// subscription order
	slices.Sort(ids)
	out := make([]ValueObserver, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

func checkBounds(op string, min, max float64) error {
	if !isFinite(min) || !isFinite(max) {
		return NewConfigurationError(op, ErrNonFiniteValue)
	}
	if min >= max {
		return NewConfigurationError(op, fmt.Errorf("%w: min=%g max=%g", ErrInvalidBounds, min, max))
	}
	return nil
}

func percentage(v, min, max float64) float64 {
	return Clamp01((v-min)/(max-min)) * 100
}

// Clamp01 clamps v to [0, 1].
func Clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
