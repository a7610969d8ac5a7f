package engine

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/otel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// counter is a toy state used to exercise the runtime.
type counter struct {
	Value   int
	Fetches int
	Trace   []int
}

type act struct {
	op   string
	n    int
	gate chan struct{} // fetch: released by the test
	sent chan struct{} // fetch: closed after the result was handed to send
	hold chan struct{} // hold-then-cancel: blocks the reducer until closed
}

func reduceCounter(s counter, a act) (counter, effect.Effect[act]) {
	switch a.op {
	case "add":
		s.Value += a.n
		s.Trace = append(slices.Clone(s.Trace), a.n)
	case "chain":
		s.Value += a.n
		s.Trace = append(slices.Clone(s.Trace), a.n)
		return s, effect.Batch(
			effect.Send(act{op: "add", n: a.n * 10}),
			effect.Send(act{op: "add", n: a.n * 100}),
		)
	case "fetch":
		s.Fetches++
		gate, sent, n := a.gate, a.sent, a.n
		return s, effect.Run(func(ctx context.Context, send func(act)) {
			if gate != nil {
				<-gate // ignores ctx: results must still be suppressed
			}
			send(act{op: "add", n: n})
			if sent != nil {
				close(sent)
			}
		}).Cancellable("load", true)
	case "park":
		s.Fetches++
		return s, effect.Run(func(ctx context.Context, send func(act)) {
			<-ctx.Done()
		}).Cancellable("load", true)
	case "cancel":
		return s, effect.Cancel[act]("load")
	case "hold-then-cancel":
		<-a.hold
		return s, effect.Cancel[act]("load")
	case "hold":
		<-a.hold
	}
	return s, effect.None[act]()
}

func newCounterStore(t *testing.T, opts ...Option) *Store[counter, act] {
	t.Helper()
	s := New(context.Background(), counter{}, reduceCounter, opts...)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, s *Store[counter, act], pred func(counter) bool) counter {
	t.Helper()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("store closed while waiting")
			}
			if pred(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("condition not met, last state %+v", s.State())
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendAppliesInOrder(t *testing.T) {
	s := newCounterStore(t)
	for i := 1; i <= 5; i++ {
		s.Send(act{op: "add", n: i})
	}
	st := waitFor(t, s, func(c counter) bool { return len(c.Trace) == 5 })
	if want := []int{1, 2, 3, 4, 5}; !slices.Equal(st.Trace, want) {
		t.Errorf("trace=%v, want %v", st.Trace, want)
	}
	if st.Value != 15 {
		t.Errorf("value=%d, want 15", st.Value)
	}
}

func TestSendEffectsRunBeforeQueuedActions(t *testing.T) {
	s := newCounterStore(t)
	s.Send(act{op: "chain", n: 1})
	s.Send(act{op: "add", n: 5})

	st := waitFor(t, s, func(c counter) bool { return len(c.Trace) == 4 })
	if want := []int{1, 10, 100, 5}; !slices.Equal(st.Trace, want) {
		t.Errorf("trace=%v, want %v", st.Trace, want)
	}
}

func TestRunEffectDeliversResult(t *testing.T) {
	s := newCounterStore(t)
	s.Send(act{op: "fetch", n: 7})
	st := waitFor(t, s, func(c counter) bool { return c.Value == 7 })
	if st.Fetches != 1 {
		t.Errorf("fetches=%d, want 1", st.Fetches)
	}
	eventually(t, "load to go idle", func() bool { return !s.Active("load") })
}

func TestSupersededResultNeverApplied(t *testing.T) {
	m := NewMetrics(nil)
	s := newCounterStore(t, WithMetrics(m))

	gate1, gate2 := make(chan struct{}), make(chan struct{})
	s.Send(act{op: "fetch", n: 1, gate: gate1})
	s.Send(act{op: "fetch", n: 2, gate: gate2})
	waitFor(t, s, func(c counter) bool { return c.Fetches == 2 })

	close(gate1)
	eventually(t, "first result to be suppressed", func() bool {
		return testutil.ToFloat64(m.ActionsSuppressed) == 1
	})

	close(gate2)
	st := waitFor(t, s, func(c counter) bool { return c.Value != 0 })
	if st.Value != 2 {
		t.Errorf("value=%d, want 2 (only the second fetch)", st.Value)
	}
	if got := testutil.ToFloat64(m.EffectsCancelled.WithLabelValues("load")); got != 1 {
		t.Errorf("effects cancelled=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EffectsStarted.WithLabelValues("load")); got != 2 {
		t.Errorf("effects started=%v, want 2", got)
	}
}

func TestCancelledTaskResultSuppressed(t *testing.T) {
	m := NewMetrics(nil)
	s := newCounterStore(t, WithMetrics(m))

	gate := make(chan struct{})
	s.Send(act{op: "fetch", n: 9, gate: gate})
	s.Send(act{op: "cancel"})
	s.Send(act{op: "add", n: 0})
	waitFor(t, s, func(c counter) bool { return len(c.Trace) == 1 })

	close(gate)
	eventually(t, "late result to be suppressed", func() bool {
		return testutil.ToFloat64(m.ActionsSuppressed) == 1
	})

	s.Send(act{op: "add", n: 0})
	st := waitFor(t, s, func(c counter) bool { return len(c.Trace) == 2 })
	if st.Value != 0 {
		t.Errorf("value=%d, cancelled result leaked into state", st.Value)
	}
}

// A result already sitting in the inbox when its task is cancelled must be
// dropped when it is dequeued, even though the task itself has returned.
func TestQueuedResultOfCancelledTaskSuppressed(t *testing.T) {
	m := NewMetrics(nil)
	s := newCounterStore(t, WithMetrics(m))

	gate, sent, hold := make(chan struct{}), make(chan struct{}), make(chan struct{})
	s.Send(act{op: "fetch", n: 3, gate: gate, sent: sent})
	waitFor(t, s, func(c counter) bool { return c.Fetches == 1 })

	s.Send(act{op: "hold-then-cancel", hold: hold})
	close(gate)
	<-sent // the result is now queued behind the held action
	eventually(t, "fetch task to return", func() bool { return !s.Active("load") })
	if s.registry.Len() != 1 {
		t.Fatalf("registered=%d, want the finished task kept for its queued result", s.registry.Len())
	}
	close(hold)

	s.Send(act{op: "add", n: 0})
	st := waitFor(t, s, func(c counter) bool { return len(c.Trace) == 1 })
	if st.Value != 0 {
		t.Errorf("value=%d, queued result of a cancelled task was applied", st.Value)
	}
	if got := testutil.ToFloat64(m.ActionsSuppressed); got != 1 {
		t.Errorf("suppressed=%v, want 1", got)
	}
	if s.registry.Len() != 0 {
		t.Errorf("registered=%d after the queued result was dropped, want 0", s.registry.Len())
	}
}

// A finished task whose result is applied normally leaves the registry once
// the loop takes the result.
func TestQueuedResultReleasesFinishedTask(t *testing.T) {
	s := newCounterStore(t)

	gate, sent, hold := make(chan struct{}), make(chan struct{}), make(chan struct{})
	s.Send(act{op: "fetch", n: 4, gate: gate, sent: sent})
	waitFor(t, s, func(c counter) bool { return c.Fetches == 1 })

	s.Send(act{op: "hold", hold: hold})
	close(gate)
	<-sent
	eventually(t, "fetch task to return", func() bool { return !s.Active("load") })
	close(hold)

	waitFor(t, s, func(c counter) bool { return c.Value == 4 })
	eventually(t, "task to leave the registry", func() bool { return s.registry.Len() == 0 })
}

func TestSubscribeRacingShutdownAlwaysCloses(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := New(context.Background(), counter{}, reduceCounter)
		subscribed := make(chan (<-chan counter), 1)
		go func() { subscribed <- s.Subscribe() }()
		s.Close()

		ch := <-subscribed
		timeout := time.After(2 * time.Second)
	drain:
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					break drain
				}
			case <-timeout:
				t.Fatalf("iteration %d: subscription never closed after shutdown", i)
			}
		}
	}
}

func TestCloseCancelsEffects(t *testing.T) {
	s := New(context.Background(), counter{}, reduceCounter)
	s.Send(act{op: "park"})
	waitFor(t, s, func(c counter) bool { return c.Fetches == 1 })
	if !s.Active("load") {
		t.Fatal("park effect should be active")
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if s.Send(act{op: "add", n: 1}) {
		t.Error("Send after Close should report false")
	}
	if _, ok := <-s.Subscribe(); ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
	s.Close() // idempotent
}

func TestParentContextStopsStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, counter{}, reduceCounter)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on parent cancel")
	}
	s.Close()
}

func TestSubscribeDeliversLatest(t *testing.T) {
	s := newCounterStore(t)
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	first := <-ch
	if first.Value != 0 {
		t.Fatalf("initial state value=%d", first.Value)
	}

	for i := 0; i < 10; i++ {
		s.Send(act{op: "add", n: 1})
	}
	waitFor(t, s, func(c counter) bool { return c.Value == 10 })

	// Only the newest state is buffered.
	st := <-ch
	if st.Value != 10 {
		t.Errorf("buffered state value=%d, want 10", st.Value)
	}
}

func TestEventLogRecordsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	l := otel.NewLogger(&buf)
	s := New(context.Background(), counter{}, reduceCounter, WithEventLog(l), WithName("test"))

	s.Send(act{op: "park"})
	s.Send(act{op: "cancel"})
	s.Send(act{op: "add", n: 1})
	waitFor(t, s, func(c counter) bool { return c.Value == 1 })
	s.Close()
	l.Close()

	out := buf.String()
	for _, kind := range []string{"effect.start", "effect.cancel", "effect.done"} {
		if !strings.Contains(out, `"kind":"`+kind+`"`) {
			t.Errorf("event log missing %s:\n%s", kind, out)
		}
	}
	if !strings.Contains(out, `"key":"load"`) {
		t.Error("events should carry the cancellation key")
	}
	if !strings.Contains(out, `"comp":"test"`) {
		t.Error("events should carry the store name")
	}
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.effectStarted("stack/4/insight-loading")
	m.effectStarted("")

	if got := testutil.ToFloat64(m.EffectsStarted.WithLabelValues("insight-loading")); got != 1 {
		t.Errorf("scoped key label count=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EffectsStarted.WithLabelValues("anonymous")); got != 1 {
		t.Errorf("anonymous label count=%v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("GatherAndCount = %d, %v", n, err)
	}

	var nilMetrics *Metrics
	nilMetrics.actionApplied() // must not panic
}
