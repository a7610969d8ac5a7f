package otel

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// decodeLines closes l and parses every line written to buf.
func decodeLines(t *testing.T, l *Logger, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	l.Close()
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %d is not JSON: %v: %s", i, err, line)
		}
		out = append(out, m)
	}
	return out
}

func TestEffectEventSerialization(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{
		Level:  LevelInfo,
		Kind:   KindEffectCancel,
		Comp:   "app",
		TaskID: "3f2a",
		Key:    "stack/2/insight-loading",
		Dur:    1500 * time.Millisecond,
	})
	lines := decodeLines(t, l, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}

	want := map[string]any{
		"level":  "info",
		"kind":   "effect.cancel",
		"comp":   "app",
		"task":   "3f2a",
		"key":    "stack/2/insight-loading",
		"dur_ms": 1500.0,
	}
	for k, v := range want {
		if lines[0][k] != v {
			t.Errorf("%s=%v, want %v", k, lines[0][k], v)
		}
	}
	for _, k := range []string{"count", "action", "interest", "err", "msg", "extra"} {
		if _, ok := lines[0][k]; ok {
			t.Errorf("empty field %q should be omitted", k)
		}
	}
}

func TestEmitStampsTimeAndSession(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	sid := l.SessionID()

	before := time.Now()
	l.Emit(Event{Kind: KindStartup})
	l.Emit(Event{Kind: KindShutdown})
	l.Close()
	after := time.Now()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if len(sid) != 16 {
		t.Errorf("session id %q should be 16 hex chars", sid)
	}
	for i, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if ev.Time.Before(before) || ev.Time.After(after) {
			t.Errorf("line %d: time %v outside the emit window", i, ev.Time)
		}
		if ev.SessionID != sid {
			t.Errorf("line %d: session %q, want %q", i, ev.SessionID, sid)
		}
	}
}

func TestLevelHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Info(KindStartup, "main", "insight")
	l.Warn(KindInsightRetry, "insight/love", "attempt 2")
	l.Error(KindStoreError, "ui", errors.New("database is locked"))
	l.Error(KindError, "main", nil)
	lines := decodeLines(t, l, &buf)

	tests := []struct {
		level, kind, comp, field, value string
	}{
		{"info", "sys.startup", "main", "msg", "insight"},
		{"warn", "insight.retry", "insight/love", "msg", "attempt 2"},
		{"error", "store.error", "ui", "err", "database is locked"},
		{"error", "sys.error", "main", "err", ""},
	}
	if len(lines) != len(tests) {
		t.Fatalf("got %d lines, want %d", len(lines), len(tests))
	}
	for i, tt := range tests {
		got := lines[i]
		if got["level"] != tt.level || got["kind"] != tt.kind || got["comp"] != tt.comp {
			t.Errorf("line %d = %v, want %s %s %s", i, got, tt.level, tt.kind, tt.comp)
		}
		v, _ := got[tt.field].(string)
		if v != tt.value {
			t.Errorf("line %d %s=%q, want %q", i, tt.field, v, tt.value)
		}
	}
}

func TestConcurrentEffectsEmit(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Emit(Event{Kind: KindEffectStart, Comp: "insight"})
			l.Emit(Event{Kind: KindEffectDone, Comp: "insight"})
		}()
	}
	wg.Wait()

	if lines := decodeLines(t, l, &buf); len(lines) != 100 {
		t.Errorf("got %d lines, want 100", len(lines))
	}
}

func TestCloseFlushesAndIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Info(KindStartup, "main", "tui")
	l.Info(KindShutdown, "main", "")
	l.Close()
	l.Close()

	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("got %d lines after Close, want 2", n)
	}
	l.Emit(Event{Kind: KindEffectStart})
	if l.Dropped() != 1 {
		t.Errorf("emit after Close should count as dropped, got %d", l.Dropped())
	}
}

func TestFullQueueDropsEvents(t *testing.T) {
	bw := &blockingWriter{started: make(chan struct{}), block: make(chan struct{})}
	l := NewLogger(bw)

	l.Emit(Event{Kind: KindEffectStart})
	<-bw.started // the drain goroutine is stuck in Write

	for i := 0; i < writerChanSize+10; i++ {
		l.Emit(Event{Kind: KindActionApplied})
	}
	if l.Dropped() == 0 {
		t.Error("a full queue should drop events")
	}

	close(bw.block)
	l.Close()
}

type blockingWriter struct {
	started chan struct{}
	block   chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.started)
		<-w.block
	})
	return len(p), nil
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Emit(Event{Kind: KindEffectStart})
	l.Trace(Event{Kind: KindActionApplied})
	l.Warn(KindInsightRetry, "insight", "")
	l.Close()
	if l.SessionID() != "" || l.Dropped() != 0 {
		t.Error("nil logger should report nothing")
	}
}

func TestTraceRespectsToggle(t *testing.T) {
	orig := TraceEnabled()
	defer setTraceEnabled(orig)

	var buf bytes.Buffer
	l := NewLogger(&buf)

	setTraceEnabled(false)
	l.Trace(Event{Kind: KindActionApplied, Action: "insight.Retry"})
	setTraceEnabled(true)
	if !TraceEnabled() {
		t.Fatal("toggle did not stick")
	}
	l.Trace(Event{Kind: KindActionApplied, Action: "insight.ClearSelection"})
	lines := decodeLines(t, l, &buf)

	if len(lines) != 1 {
		t.Fatalf("got %d traced lines, want 1", len(lines))
	}
	if lines[0]["action"] != "insight.ClearSelection" || lines[0]["level"] != "debug" {
		t.Errorf("traced line = %v", lines[0])
	}
}
