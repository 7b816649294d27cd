package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-progress-engine/core"
)

// PlaybackOptions controls a replay.
type PlaybackOptions struct {
	// Speed divides the recorded gaps. Values <= 0 mean 1.
	Speed float64

	// Loop restarts from the first snapshot after the last one.
	Loop bool

	OnFrame    func(index int, s Snapshot)
	OnComplete func()
}

// Playback replays the recording through apply. The first snapshot is applied
// before Playback returns; later ones follow on clock timers, spaced by the
// recorded gaps divided by Speed and never closer than the minimum playback
// delay. Starting a playback stops the previous one.
func (r *Recorder) Playback(apply func(Snapshot), opts PlaybackOptions) error {
	if apply == nil {
		return core.NewConfigurationError("Playback", errors.New("apply func is required"))
	}

	snaps := r.Snapshots()
	if len(snaps) == 0 {
		r.logger.Warn("nothing to play back")
		return core.NewStateError("Playback", core.ErrNoSnapshots)
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}

	r.mu.Lock()
	r.stopLocked()
	r.playGen++
	gen := r.playGen
	r.playing = true
	r.mu.Unlock()

	r.logger.Debug("playback started", core.F("snapshots", len(snaps)),
		core.F("speed", opts.Speed), core.F("loop", opts.Loop))

	r.playFrame(gen, snaps, 0, apply, opts)
	return nil
}

// StopPlayback cancels the pending frame. It is idempotent.
func (r *Recorder) StopPlayback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// IsPlaying reports whether a playback is in progress.
func (r *Recorder) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

func (r *Recorder) stopLocked() {
	r.playGen++
	r.playing = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Recorder) playFrame(gen uint64, snaps []Snapshot, i int, apply func(Snapshot), opts PlaybackOptions) {
	if !r.current(gen) {
		return
	}

	s := snaps[i]
	if err := r.applySafely(apply, s); err != nil {
		r.logger.Error("playback apply failed, stopping", core.F("snapshot", s.ID), core.F("error", err))
		r.mu.Lock()
		if gen == r.playGen {
			r.stopLocked()
		}
		r.mu.Unlock()
		return
	}
	if opts.OnFrame != nil {
		opts.OnFrame(i, s)
	}

	next := i + 1
	delay := r.minDelay
	if next < len(snaps) {
		gap := time.Duration(float64(snaps[next].Timestamp-s.Timestamp) * float64(time.Millisecond) / opts.Speed)
		delay = max(gap, r.minDelay)
	} else if opts.Loop {
		next = 0
	} else {
		r.mu.Lock()
		finished := gen == r.playGen
		if finished {
			r.playing = false
			r.timer = nil
		}
		r.mu.Unlock()

		if finished {
			r.logger.Debug("playback complete")
			if opts.OnComplete != nil {
				opts.OnComplete()
			}
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.playGen {
		return
	}
	r.timer = r.clock.AfterFunc(delay, func() {
		r.playFrame(gen, snaps, next, apply, opts)
	})
}

func (r *Recorder) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.playGen && r.playing
}

func (r *Recorder) applySafely(apply func(Snapshot), s Snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("apply panicked: %v", rec)
		}
	}()
	apply(s)
	return nil
}
