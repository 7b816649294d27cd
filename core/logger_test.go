package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "info", Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("frame loop started", F("generation", 1), F("error", errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug record should be filtered at info level")
	}
	for _, want := range []string{`"message":"frame loop started"`, `"generation":1`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestDefaultLogger_Sampling(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Format: "json", Output: &buf, SamplingBurst: 2, SamplingEvery: 1000})

	for i := 0; i < 50; i++ {
		logger.Error("task panicked")
	}

	if got := strings.Count(buf.String(), "task panicked"); got >= 50 || got < 2 {
		t.Fatalf("sampled records = %d, want a burst of ~2", got)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(LoggerConfig{Format: "json", Output: &buf})

	WithComponent(base, "recorder").Warn("playback empty")
	if !strings.Contains(buf.String(), `"component":"recorder"`) {
		t.Fatalf("missing component in %q", buf.String())
	}

	if _, ok := WithComponent(nil, "x").(*NoOpLogger); !ok {
		t.Fatal("nil base should give a NoOpLogger")
	}

	rec := &recordingLogger{}
	WithComponent(rec, "coord").Info("synced", F("mode", "max"))
	if len(rec.fields) != 2 || rec.fields[0].Key != "component" || rec.fields[0].Value != "coord" {
		t.Fatalf("fields = %+v", rec.fields)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type recordingLogger struct {
	NoOpLogger
	fields []Field
}

func (l *recordingLogger) Info(msg string, fields ...Field) {
	l.fields = fields
}
