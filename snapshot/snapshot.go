// Package snapshot records timestamped progress states and replays them.
package snapshot

import (
	"maps"
	"time"
)

// FormatVersion is the version written by ExportVersioned.
const FormatVersion = 1

// Snapshot is an immutable capture of a value and its display options.
// Timestamp is in Unix milliseconds.
type Snapshot struct {
	ID        string         `json:"id" yaml:"id"`
	Timestamp int64          `json:"timestamp" yaml:"timestamp"`
	Value     float64        `json:"value" yaml:"value"`
	Options   map[string]any `json:"options" yaml:"options"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Time returns the snapshot timestamp.
func (s Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

func (s Snapshot) clone() Snapshot {
	s.Options = maps.Clone(s.Options)
	s.Metadata = maps.Clone(s.Metadata)
	if s.Options == nil {
		s.Options = map[string]any{}
	}
	if len(s.Metadata) == 0 {
		s.Metadata = nil
	}
	return s
}

// Envelope is the versioned export format.
type Envelope struct {
	Version   int        `json:"version" yaml:"version"`
	Snapshots []Snapshot `json:"snapshots" yaml:"snapshots"`
}

// Statistics summarizes a recording. Times are in Unix milliseconds,
// intervals and durations in milliseconds.
type Statistics struct {
	Count           int     `json:"count"`
	FirstTimestamp  int64   `json:"firstTimestamp"`
	LastTimestamp   int64   `json:"lastTimestamp"`
	Duration        int64   `json:"duration"`
	AverageInterval float64 `json:"averageInterval"`
	MinValue        float64 `json:"minValue"`
	MaxValue        float64 `json:"maxValue"`
}

func computeStatistics(snaps []Snapshot) Statistics {
	if len(snaps) == 0 {
		return Statistics{}
	}

	first, last := snaps[0], snaps[len(snaps)-1]
	stats := Statistics{
		Count:          len(snaps),
		FirstTimestamp: first.Timestamp,
		LastTimestamp:  last.Timestamp,
		Duration:       last.Timestamp - first.Timestamp,
		MinValue:       first.Value,
		MaxValue:       first.Value,
	}
	for _, s := range snaps[1:] {
		stats.MinValue = min(stats.MinValue, s.Value)
		stats.MaxValue = max(stats.MaxValue, s.Value)
	}
	if len(snaps) > 1 {
		stats.AverageInterval = float64(stats.Duration) / float64(len(snaps)-1)
	}
	return stats
}
