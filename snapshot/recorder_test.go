package snapshot

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	cfg.Clock = clk
	return NewRecorder(cfg), clk
}

func TestRecorder_CreateCopiesInput(t *testing.T) {
	r, clk := newTestRecorder(t, Config{})

	opts := map[string]any{"color": "red"}
	s := r.Create(42, opts, nil)
	opts["color"] = "blue"

	if s.ID == "" {
		t.Fatal("snapshot should have an id")
	}
	if s.Timestamp != clk.Now().UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", s.Timestamp, clk.Now().UnixMilli())
	}
	got, ok := r.Get(s.ID)
	if !ok || got.Options["color"] != "red" {
		t.Fatalf("stored options changed with caller map: %+v", got.Options)
	}
	if got.Options == nil || got.Metadata != nil {
		t.Fatalf("options should default to empty and metadata to nil: %+v", got)
	}

	// mutating a returned snapshot does not reach the recorder
	got.Options["color"] = "green"
	again, _ := r.Get(s.ID)
	if again.Options["color"] != "red" {
		t.Fatal("Get should return a copy")
	}
}

func TestRecorder_EvictsOldest(t *testing.T) {
	r, clk := newTestRecorder(t, Config{Capacity: 3})
	for i := 0; i < 5; i++ {
		r.Create(float64(i), nil, nil)
		clk.Advance(time.Second)
	}

	snaps := r.Snapshots()
	if len(snaps) != 3 {
		t.Fatalf("len = %d, want 3", len(snaps))
	}
	for i, s := range snaps {
		if s.Value != float64(i+2) {
			t.Fatalf("snapshot %d value = %v, want %v", i, s.Value, i+2)
		}
	}
}

func TestRecorder_DeleteAndClear(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	a := r.Create(1, nil, nil)
	b := r.Create(2, nil, nil)

	if !r.Delete(a.ID) || r.Delete(a.ID) {
		t.Fatal("delete should succeed once")
	}
	if _, ok := r.Get(b.ID); !ok || r.Len() != 1 {
		t.Fatal("other snapshot should remain")
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatal("clear should empty the recorder")
	}
}

func TestRecorder_ExportImportRoundTrip(t *testing.T) {
	for _, codec := range []Codec{NewJSONCodec(), NewYAMLCodec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			src, clk := newTestRecorder(t, Config{Codec: codec})
			src.Create(10, map[string]any{"color": "red", "striped": true}, map[string]any{"source": "test"})
			clk.Advance(250 * time.Millisecond)
			src.Create(55.5, map[string]any{"height": 4.5}, nil)

			for _, export := range []func() ([]byte, error){src.Export, src.ExportVersioned} {
				data, err := export()
				if err != nil {
					t.Fatalf("export: %v", err)
				}

				dst := NewRecorder(Config{Codec: codec})
				if err := dst.Import(data); err != nil {
					t.Fatalf("import: %v", err)
				}
				if !reflect.DeepEqual(src.Snapshots(), dst.Snapshots()) {
					t.Fatalf("round trip mismatch:\n%+v\n%+v", src.Snapshots(), dst.Snapshots())
				}
			}
		})
	}
}

func TestRecorder_RoundTripNumericFields(t *testing.T) {
	for _, codec := range []Codec{NewJSONCodec(), NewYAMLCodec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			src, clk := newTestRecorder(t, Config{Codec: codec})
			src.Create(10, map[string]any{"strokeWidth": 4.0, "segments": 12}, map[string]any{"step": 2.0})
			clk.Advance(time.Second)
			src.Create(20, map[string]any{"dash": []any{1, 2.0, 3.5}, "nested": map[string]any{"n": int64(7)}}, nil)

			data, err := src.Export()
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			dst := NewRecorder(Config{Codec: codec})
			if err := dst.Import(data); err != nil {
				t.Fatalf("import: %v", err)
			}
			if !reflect.DeepEqual(src.Snapshots(), dst.Snapshots()) {
				t.Fatalf("round trip mismatch:\n%#v\n%#v", src.Snapshots(), dst.Snapshots())
			}
		})
	}
}

func TestRecorder_UnencodableOptionsKept(t *testing.T) {
	r, _ := newTestRecorder(t, Config{Logger: core.NewNoOpLogger()})
	ch := make(chan int)
	s := r.Create(1, map[string]any{"ch": ch, "label": "x"}, nil)
	if s.Options["label"] != "x" || s.Options["ch"] != ch {
		t.Fatalf("options = %+v, want the caller values", s.Options)
	}
}

func TestRecorder_ExportEmpty(t *testing.T) {
	r := NewRecorder(Config{})
	data, err := r.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("empty export = %s, want []", data)
	}
	if err := r.Import(data); err != nil {
		t.Fatalf("importing an empty list should succeed: %v", err)
	}
}

func TestRecorder_ImportRejectsBadData(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	keep := r.Create(7, nil, nil)

	cases := map[string]string{
		"malformed":    `{not json`,
		"object":       `{"id":"x"}`,
		"missing id":   `[{"timestamp":1,"value":1,"options":{}}]`,
		"out of order": `[{"id":"a","timestamp":5,"value":1},{"id":"b","timestamp":1,"value":2}]`,
		"future":       `{"version":99,"snapshots":[]}`,
		"empty":        ``,
	}
	for name, data := range cases {
		err := r.Import([]byte(data))
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !core.IsKind(err, core.KindImport) {
			t.Fatalf("%s: error kind = %v", name, err)
		}
	}

	if err := r.Import([]byte(cases["future"])); !errors.Is(err, core.ErrUnsupportedVersion) {
		t.Fatalf("future version error = %v", err)
	}
	if snaps := r.Snapshots(); len(snaps) != 1 || snaps[0].ID != keep.ID {
		t.Fatal("failed import should leave recording unchanged")
	}
}

func TestRecorder_ImportTrimsToCapacity(t *testing.T) {
	r := NewRecorder(Config{Capacity: 2})
	data := `[{"id":"a","timestamp":1,"value":1},{"id":"b","timestamp":2,"value":2},{"id":"c","timestamp":3,"value":3}]`
	if err := r.Import([]byte(data)); err != nil {
		t.Fatalf("import: %v", err)
	}
	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].ID != "b" || snaps[1].ID != "c" {
		t.Fatalf("snapshots = %+v", snaps)
	}
	if snaps[0].Options == nil {
		t.Fatal("imported options should default to empty map")
	}
}

func TestRecorder_Statistics(t *testing.T) {
	r, clk := newTestRecorder(t, Config{})
	if stats := r.Statistics(); stats != (Statistics{}) {
		t.Fatalf("empty stats = %+v", stats)
	}

	start := clk.Now().UnixMilli()
	for _, v := range []float64{30, 10, 50} {
		r.Create(v, nil, nil)
		clk.Advance(100 * time.Millisecond)
	}

	stats := r.Statistics()
	want := Statistics{
		Count:           3,
		FirstTimestamp:  start,
		LastTimestamp:   start + 200,
		Duration:        200,
		AverageInterval: 100,
		MinValue:        10,
		MaxValue:        50,
	}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestRecorder_ObserveValueState(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	state := core.MustValueState(0, 100, 0)

	stop := r.Observe(state, func() map[string]any { return map[string]any{"label": "upload"} })
	_ = state.Set(10)
	_ = state.Set(10)
	_ = state.Set(20)
	stop()
	_ = state.Set(30)

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[1].Value != 20 || snaps[0].Options["label"] != "upload" {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "yaml", "yml"} {
		if _, err := CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q): %v", name, err)
		}
	}
	if _, err := CodecByName("xml"); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("unknown codec error = %v", err)
	}
}

// =============================================================================
// Playback
// =============================================================================

type frameLog struct {
	mu     sync.Mutex
	values []float64
}

func (l *frameLog) apply(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, s.Value)
}

func (l *frameLog) snapshot() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.values...)
}

func recordSpaced(r *Recorder, clk clockwork.FakeClock, gap time.Duration, values ...float64) {
	for i, v := range values {
		if i > 0 {
			clk.Advance(gap)
		}
		r.Create(v, nil, nil)
	}
}

func TestPlayback_Empty(t *testing.T) {
	r := NewRecorder(Config{})
	err := r.Playback(func(Snapshot) {}, PlaybackOptions{})
	if !errors.Is(err, core.ErrNoSnapshots) || !core.IsKind(err, core.KindState) {
		t.Fatalf("err = %v", err)
	}
	if r.IsPlaying() {
		t.Fatal("should not be playing")
	}
}

func TestPlayback_FollowsRecordedGaps(t *testing.T) {
	r, clk := newTestRecorder(t, Config{})
	recordSpaced(r, clk, time.Second, 1, 2, 3)

	log := &frameLog{}
	done := make(chan struct{})
	err := r.Playback(log.apply, PlaybackOptions{Speed: 2, OnComplete: func() { close(done) }})
	if err != nil {
		t.Fatalf("playback: %v", err)
	}

	if got := log.snapshot(); !reflect.DeepEqual(got, []float64{1}) {
		t.Fatalf("first frame should be applied synchronously, got %v", got)
	}

	// half-speed gap is 500ms
	clk.BlockUntil(1)
	clk.Advance(499 * time.Millisecond)
	if got := log.snapshot(); len(got) != 1 {
		t.Fatalf("frame applied early: %v", got)
	}
	clk.Advance(time.Millisecond)
	waitForCondition(t, time.Second, func() bool { return len(log.snapshot()) == 2 })

	clk.BlockUntil(1)
	clk.Advance(500 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("playback did not complete")
	}
	if got := log.snapshot(); !reflect.DeepEqual(got, []float64{1, 2, 3}) {
		t.Fatalf("frames = %v", got)
	}
	if r.IsPlaying() {
		t.Fatal("playback should be finished")
	}
}

func TestPlayback_MinimumDelay(t *testing.T) {
	r, clk := newTestRecorder(t, Config{MinPlaybackDelay: 50 * time.Millisecond})
	recordSpaced(r, clk, 0, 1, 2)

	log := &frameLog{}
	if err := r.Playback(log.apply, PlaybackOptions{}); err != nil {
		t.Fatalf("playback: %v", err)
	}
	clk.BlockUntil(1)
	clk.Advance(49 * time.Millisecond)
	if len(log.snapshot()) != 1 {
		t.Fatal("zero gap should wait the minimum delay")
	}
	clk.Advance(time.Millisecond)
	waitForCondition(t, time.Second, func() bool { return len(log.snapshot()) == 2 })
}

func TestPlayback_LoopAndStop(t *testing.T) {
	r, clk := newTestRecorder(t, Config{})
	recordSpaced(r, clk, 100*time.Millisecond, 1, 2)

	log := &frameLog{}
	completed := false
	if err := r.Playback(log.apply, PlaybackOptions{Loop: true, OnComplete: func() { completed = true }}); err != nil {
		t.Fatalf("playback: %v", err)
	}

	for want := 2; want <= 5; want++ {
		clk.BlockUntil(1)
		clk.Advance(100 * time.Millisecond)
		waitForCondition(t, time.Second, func() bool { return len(log.snapshot()) == want })
	}
	if got := log.snapshot(); !reflect.DeepEqual(got, []float64{1, 2, 1, 2, 1}) {
		t.Fatalf("frames = %v", got)
	}

	r.StopPlayback()
	r.StopPlayback()
	if r.IsPlaying() {
		t.Fatal("stop should end playback")
	}
	clk.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	if len(log.snapshot()) != 5 || completed {
		t.Fatal("no frames or completion after stop")
	}
}

func TestPlayback_RestartCancelsPrevious(t *testing.T) {
	r, clk := newTestRecorder(t, Config{})
	recordSpaced(r, clk, time.Second, 1, 2)

	first := &frameLog{}
	second := &frameLog{}
	_ = r.Playback(first.apply, PlaybackOptions{})
	_ = r.Playback(second.apply, PlaybackOptions{})

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	waitForCondition(t, time.Second, func() bool { return len(second.snapshot()) == 2 })

	if got := first.snapshot(); !reflect.DeepEqual(got, []float64{1}) {
		t.Fatalf("first playback kept running: %v", got)
	}
}

func TestPlayback_ApplyPanicStops(t *testing.T) {
	r, clk := newTestRecorder(t, Config{})
	recordSpaced(r, clk, time.Second, 1, 2)

	err := r.Playback(func(Snapshot) { panic("boom") }, PlaybackOptions{})
	if err != nil {
		t.Fatalf("playback: %v", err)
	}
	if r.IsPlaying() {
		t.Fatal("panic in apply should stop playback")
	}
}
