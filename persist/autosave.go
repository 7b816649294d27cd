package persist

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

const DefaultDebounce = 500 * time.Millisecond

// Recording is implemented by recorders whose contents can be persisted.
type Recording interface {
	Export() ([]byte, error)
	Import(data []byte) error
}

// AutoSaverConfig configures an AutoSaver.
type AutoSaverConfig struct {
	Store    Store
	Debounce time.Duration
	Clock    clockwork.Clock
	Logger   core.Logger
}

// AutoSaver writes the latest value to a Store, coalescing bursts of
// updates into one write per debounce window.
type AutoSaver struct {
	store    Store
	debounce time.Duration
	clock    clockwork.Clock
	logger   core.Logger

	// writeMu orders store writes so an older value never lands last.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending bool
	value   float64
	at      time.Time
	timer   clockwork.Timer
	closed  bool
}

// NewAutoSaver creates an AutoSaver.
func NewAutoSaver(cfg AutoSaverConfig) *AutoSaver {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &AutoSaver{
		store:    cfg.Store,
		debounce: cfg.Debounce,
		clock:    cfg.Clock,
		logger:   core.WithComponent(cfg.Logger, "autosave"),
	}
}

// Watch saves every change of state. The returned func stops watching.
func (a *AutoSaver) Watch(state *core.ValueState) func() {
	return state.Subscribe(func(_, v float64) { a.Schedule(v) })
}

// Schedule records v and arms the debounce timer if it is not armed.
func (a *AutoSaver) Schedule(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending = true
	a.value = v
	a.at = a.clock.Now()
	if a.timer == nil {
		a.timer = a.clock.AfterFunc(a.debounce, a.onTimer)
	}
}

func (a *AutoSaver) onTimer() {
	if err := a.Flush(context.Background()); err != nil {
		a.logger.Warn("autosave failed", core.F("error", err))
	}
}

// Flush writes the pending value now.
func (a *AutoSaver) Flush(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if !a.pending {
		a.mu.Unlock()
		return nil
	}
	value, at := a.value, a.at
	a.pending = false
	a.mu.Unlock()

	if err := a.store.Set(ctx, KeyLastValue, strconv.FormatFloat(value, 'g', -1, 64)); err != nil {
		return err
	}
	if err := a.store.Set(ctx, KeyLastUpdate, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return err
	}
	a.logger.Debug("value saved", core.F("value", value))
	return nil
}

// Restore reads the last saved value. ok is false when nothing was saved.
func (a *AutoSaver) Restore(ctx context.Context) (value float64, updated time.Time, ok bool, err error) {
	raw, found, err := a.store.Get(ctx, KeyLastValue)
	if err != nil || !found {
		return 0, time.Time{}, false, err
	}
	value, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("corrupt %s %q: %w", KeyLastValue, raw, err)
	}

	if rawAt, found, err := a.store.Get(ctx, KeyLastUpdate); err == nil && found {
		if ms, err := strconv.ParseInt(rawAt, 10, 64); err == nil {
			updated = time.UnixMilli(ms)
		}
	}
	return value, updated, true, nil
}

// RestoreInto sets state to the last saved value, clamped to its bounds.
func (a *AutoSaver) RestoreInto(ctx context.Context, state *core.ValueState) (bool, error) {
	v, _, ok, err := a.Restore(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := state.Set(state.Normalize(v)); err != nil {
		return false, err
	}
	a.logger.Info("value restored", core.F("value", v))
	return true, nil
}

// SaveRecording stores the exported recording.
func (a *AutoSaver) SaveRecording(ctx context.Context, rec Recording) error {
	data, err := rec.Export()
	if err != nil {
		return err
	}
	return a.store.Set(ctx, KeySnapshots, string(data))
}

// RestoreRecording imports a stored recording. It returns false when none
// was stored.
func (a *AutoSaver) RestoreRecording(ctx context.Context, rec Recording) (bool, error) {
	raw, found, err := a.store.Get(ctx, KeySnapshots)
	if err != nil || !found {
		return false, err
	}
	if err := rec.Import([]byte(raw)); err != nil {
		return false, err
	}
	return true, nil
}

// Close flushes the pending value and stops scheduling.
func (a *AutoSaver) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.Flush(ctx)
}
