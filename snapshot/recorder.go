package snapshot

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

const (
	DefaultCapacity         = 100
	DefaultMinPlaybackDelay = 10 * time.Millisecond
)

// Config configures a Recorder. Zero values use defaults.
type Config struct {
	Capacity         int
	MinPlaybackDelay time.Duration
	Clock            clockwork.Clock
	Logger           core.Logger
	Codec            Codec
}

// Recorder keeps a bounded, ordered list of snapshots. The oldest snapshot is
// evicted once capacity is reached.
type Recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot

	capacity int
	minDelay time.Duration
	clock    clockwork.Clock
	logger   core.Logger
	codec    Codec

	// playback state, guarded by mu
	playGen uint64
	playing bool
	timer   clockwork.Timer
}

// NewRecorder creates an empty recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MinPlaybackDelay <= 0 {
		cfg.MinPlaybackDelay = DefaultMinPlaybackDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Codec == nil {
		cfg.Codec = NewJSONCodec()
	}

	return &Recorder{
		snapshots: make([]Snapshot, 0, cfg.Capacity),
		capacity:  cfg.Capacity,
		minDelay:  cfg.MinPlaybackDelay,
		clock:     cfg.Clock,
		logger:    core.WithComponent(cfg.Logger, "recorder"),
		codec:     cfg.Codec,
	}
}

// Create records value with copies of options and metadata. Both maps are
// stored in the form the codec decodes them to, so an exported recording
// imports back unchanged.
func (r *Recorder) Create(value float64, options, metadata map[string]any) Snapshot {
	s := Snapshot{
		ID:        uuid.NewString(),
		Timestamp: r.clock.Now().UnixMilli(),
		Value:     value,
		Options:   r.canonical(options),
		Metadata:  r.canonical(metadata),
	}.clone()

	r.mu.Lock()
	r.snapshots = append(r.snapshots, s)
	if over := len(r.snapshots) - r.capacity; over > 0 {
		r.snapshots = append(r.snapshots[:0:0], r.snapshots[over:]...)
	}
	r.mu.Unlock()

	return s.clone()
}

// canonical passes m through the codec. Numbers come back in the codec's own
// representation (float64 for JSON, int for whole YAML numbers).
func (r *Recorder) canonical(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	data, err := r.codec.Marshal(m)
	if err == nil {
		var out map[string]any
		if err = r.codec.Unmarshal(data, &out); err == nil {
			return out
		}
	}
	r.logger.Warn("snapshot fields not encodable, stored as given",
		core.F("codec", r.codec.Name()), core.F("error", err))
	return maps.Clone(m)
}

// Observe creates a snapshot on every change of state. options may be nil.
// The returned func stops observing.
func (r *Recorder) Observe(state *core.ValueState, options func() map[string]any) func() {
	return state.Subscribe(func(_, v float64) {
		var opts map[string]any
		if options != nil {
			opts = options()
		}
		r.Create(v, opts, nil)
	})
}

// Snapshots returns a copy of the recording, oldest first.
func (r *Recorder) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.snapshots)
}

// Get returns the snapshot with the given id.
func (r *Recorder) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots {
		if s.ID == id {
			return s.clone(), true
		}
	}
	return Snapshot{}, false
}

// Delete removes the snapshot with the given id.
func (r *Recorder) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.snapshots {
		if s.ID == id {
			r.snapshots = append(r.snapshots[:i], r.snapshots[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every snapshot.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.snapshots)
	r.snapshots = r.snapshots[:0]
}

// Len returns the number of snapshots.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// Capacity returns the maximum number of snapshots kept.
func (r *Recorder) Capacity() int {
	return r.capacity
}

// Statistics summarizes the recording.
func (r *Recorder) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return computeStatistics(r.snapshots)
}

// Codec returns the export codec.
func (r *Recorder) Codec() Codec {
	return r.codec
}

// =============================================================================
// Export / Import
// =============================================================================

// Export encodes the recording as a bare list of snapshots.
func (r *Recorder) Export() ([]byte, error) {
	return r.codec.Marshal(r.Snapshots())
}

// ExportVersioned encodes the recording inside a versioned Envelope.
func (r *Recorder) ExportVersioned() ([]byte, error) {
	return r.codec.Marshal(Envelope{Version: FormatVersion, Snapshots: r.Snapshots()})
}

// Import replaces the recording with the decoded data. Both the bare list and
// the Envelope form are accepted. On error the recording is left unchanged.
func (r *Recorder) Import(data []byte) error {
	snaps, err := r.decode(data)
	if err != nil {
		r.logger.Warn("snapshot import failed", core.F("codec", r.codec.Name()), core.F("error", err))
		return core.NewImportError("Import", err)
	}

	if over := len(snaps) - r.capacity; over > 0 {
		r.logger.Warn("import exceeds capacity, dropping oldest",
			core.F("count", len(snaps)), core.F("capacity", r.capacity))
		snaps = snaps[over:]
	}

	r.mu.Lock()
	r.snapshots = cloneAll(snaps)
	r.mu.Unlock()

	r.logger.Debug("snapshots imported", core.F("count", len(snaps)))
	return nil
}

func (r *Recorder) decode(data []byte) ([]Snapshot, error) {
	var env Envelope
	if err := r.codec.Unmarshal(data, &env); err == nil && env.Version != 0 {
		if env.Version > FormatVersion {
			return nil, fmt.Errorf("%w: %d", core.ErrUnsupportedVersion, env.Version)
		}
		return env.Snapshots, validate(env.Snapshots)
	}

	var snaps []Snapshot
	if err := r.codec.Unmarshal(data, &snaps); err != nil {
		return nil, err
	}
	if snaps == nil {
		return nil, errors.New("expected a list of snapshots")
	}
	return snaps, validate(snaps)
}

func validate(snaps []Snapshot) error {
	for i, s := range snaps {
		if s.ID == "" {
			return fmt.Errorf("snapshot %d: missing id", i)
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return fmt.Errorf("snapshot %d: %w", i, core.ErrNonFiniteValue)
		}
		if i > 0 && s.Timestamp < snaps[i-1].Timestamp {
			return fmt.Errorf("snapshot %d: timestamps out of order", i)
		}
	}
	return nil
}

func cloneAll(snaps []Snapshot) []Snapshot {
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = s.clone()
	}
	return out
}
