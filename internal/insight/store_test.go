package insight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/abelbrown/arcana/internal/ai"
	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/tarot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// harness runs the insight reducer in a real Store and records every action
// that reached the reducer.
type harness struct {
	store *engine.Store[State, Action]

	mu      sync.Mutex
	applied []Action
}

func newHarness(t *testing.T, env Environment) *harness {
	t.Helper()
	h := &harness{}
	inner := NewReducer(env)
	h.store = engine.New(context.Background(), State{}, func(s State, a Action) (State, effect.Effect[Action]) {
		if b, ok := a.(barrier); ok {
			close(b.reached)
			if b.release != nil {
				<-b.release
			}
			return s, effect.None[Action]()
		}
		h.mu.Lock()
		h.applied = append(h.applied, a)
		h.mu.Unlock()
		return inner(s, a)
	})
	t.Cleanup(h.store.Close)
	return h
}

// barrier parks the store loop inside the reducer. reached is closed on
// entry; the reducer returns once release is closed, or at once when
// release is nil.
type barrier struct {
	reached chan struct{}
	release chan struct{}
}

func (barrier) insightAction() {}

func recv(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// results lists the InsightLoaded and InsightFailed actions the reducer saw.
func (h *harness) results() []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Action
	for _, a := range h.applied {
		switch a.(type) {
		case InsightLoaded, InsightFailed:
			out = append(out, a)
		}
	}
	return out
}

func (h *harness) waitFor(t *testing.T, what string, pred func(State) bool) State {
	t.Helper()
	ch := h.store.Subscribe()
	defer h.store.Unsubscribe(ch)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if pred(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; state %+v", what, h.store.State())
		}
	}
}

// loadedInsights lists every InsightLoaded the reducer saw.
func (h *harness) loadedInsights() []Insight {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Insight
	for _, a := range h.applied {
		if l, ok := a.(InsightLoaded); ok {
			out = append(out, l.Insight)
		}
	}
	return out
}

func TestLoadEndToEnd(t *testing.T) {
	var got ai.Request
	client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		got = req
		time.Sleep(20 * time.Millisecond)
		return &ai.Response{Description: "x"}, nil
	})
	h := newHarness(t, Environment{Client: client})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Love, Cards: cardsABC})
	s := h.waitFor(t, "insight to load", State.HasValidInsight)

	want := State{Selected: tarot.Love, Loaded: &Insight{Interest: tarot.Love, Description: "x"}}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ai.Request{Interest: tarot.Love, Cards: cardsABC}, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestNewSelectionSupersedesPendingFetch(t *testing.T) {
	loveStarted := make(chan struct{})
	loveGate := make(chan struct{})
	loveDone := make(chan struct{})

	client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		switch req.Interest {
		case tarot.Love:
			defer close(loveDone)
			close(loveStarted)
			<-loveGate // answers only when the test says so, whatever ctx says
			return &ai.Response{Description: "x"}, nil
		case tarot.Money:
			return &ai.Response{Description: "y"}, nil
		}
		return nil, errors.New("unexpected interest")
	})
	h := newHarness(t, Environment{Client: client})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Love, Cards: cardsABC})
	<-loveStarted
	if !h.store.Active(LoadingKey) {
		t.Fatal("love fetch should occupy the loading slot")
	}

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Money, Cards: cardsABC})
	s := h.waitFor(t, "money insight", State.HasValidInsight)
	if diff := cmp.Diff(&Insight{Interest: tarot.Money, Description: "y"}, s.Loaded); diff != "" {
		t.Fatalf("loaded mismatch (-want +got):\n%s", diff)
	}

	close(loveGate)
	<-loveDone
	time.Sleep(20 * time.Millisecond)

	if diff := cmp.Diff([]Insight{{Interest: tarot.Money, Description: "y"}}, h.loadedInsights()); diff != "" {
		t.Errorf("superseded result reached the reducer (-want +got):\n%s", diff)
	}
	if got := h.store.State(); got.Selected != tarot.Money || got.Loaded.Interest != tarot.Money {
		t.Errorf("final state %+v, want money", got)
	}
}

func TestBoundedRetry(t *testing.T) {
	var calls atomic.Int32
	client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	h := newHarness(t, Environment{Client: client})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Career, Cards: cardsABC})
	h.waitFor(t, "first failure", func(s State) bool { return !s.Loading && s.RetryCount == 1 })

	for want := 2; want <= MaxRetryCount; want++ {
		h.store.Send(Retry{Cards: cardsABC})
		h.waitFor(t, "failure after retry", func(s State) bool { return !s.Loading && s.RetryCount == want })
	}

	h.store.Send(Retry{Cards: cardsABC})
	s := h.waitFor(t, "max retries", func(s State) bool {
		return s.LastError != nil && s.LastError.Kind == MaxRetriesReached
	})
	if s.RetryCount != MaxRetryCount {
		t.Errorf("RetryCount = %d, want %d", s.RetryCount, MaxRetryCount)
	}
	if s.CanRetry() {
		t.Error("CanRetry should be false at the bound")
	}
	if got := calls.Load(); got != MaxRetryCount {
		t.Errorf("client called %d times, want %d", got, MaxRetryCount)
	}

	// A new interest starts over.
	h.store.Send(SelectInterestAndLoad{Interest: tarot.Money, Cards: cardsABC})
	s = h.waitFor(t, "fresh failure for money", func(s State) bool {
		return s.Selected == tarot.Money && !s.Loading
	})
	if s.RetryCount != 1 {
		t.Errorf("RetryCount for new interest = %d, want 1", s.RetryCount)
	}
}

func TestClearSelectionCancelsFetch(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	done := make(chan struct{})
	client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		defer close(done)
		close(started)
		<-gate
		return &ai.Response{Description: "late"}, nil
	})
	h := newHarness(t, Environment{Client: client})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Relations, Cards: cardsABC})
	<-started
	h.store.Send(ClearSelection{})
	h.waitFor(t, "initial state", func(s State) bool { return cmp.Equal(State{}, s) })

	deadline := time.Now().Add(time.Second)
	for h.store.Active(LoadingKey) {
		if time.Now().After(deadline) {
			t.Fatal("clear should have cancelled the fetch")
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	<-done
	time.Sleep(20 * time.Millisecond)

	if got := h.loadedInsights(); len(got) != 0 {
		t.Errorf("cancelled fetch delivered %v", got)
	}
	if diff := cmp.Diff(State{}, h.store.State()); diff != "" {
		t.Errorf("state moved after clear (-want +got):\n%s", diff)
	}
}

func TestTimeoutReportsNetworkErrorAndDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		defer close(finished)
		<-release // a slow server that ignores cancellation
		return &ai.Response{Description: "too late"}, nil
	})
	h := newHarness(t, Environment{Client: client, Timeout: 50 * time.Millisecond})

	start := time.Now()
	h.store.Send(SelectInterestAndLoad{Interest: tarot.Situations, Cards: cardsABC})
	s := h.waitFor(t, "timeout failure", func(s State) bool { return s.LastError != nil })
	elapsed := time.Since(start)

	if s.LastError.Kind != NetworkError {
		t.Errorf("LastError = %v, want network error", s.LastError)
	}
	if s.Loading || s.RetryCount != 1 || s.Loaded != nil {
		t.Errorf("unexpected state after timeout: %+v", s)
	}
	if elapsed < 50*time.Millisecond || elapsed > time.Second {
		t.Errorf("timeout reported after %v", elapsed)
	}

	close(release)
	<-finished
	time.Sleep(20 * time.Millisecond)

	if got := h.loadedInsights(); len(got) != 0 {
		t.Errorf("late result reached the reducer: %v", got)
	}
}

func TestAPIErrorIsRetryable(t *testing.T) {
	client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return nil, &ai.APIError{Status: 429, Message: "slow down"}
	})
	h := newHarness(t, Environment{Client: client})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Finance})
	s := h.waitFor(t, "api failure", func(s State) bool { return s.LastError != nil })

	want := &Error{Kind: APIError, Message: "slow down"}
	if diff := cmp.Diff(want, s.LastError); diff != "" {
		t.Errorf("LastError mismatch (-want +got):\n%s", diff)
	}
	if s.RetryCount != 1 || !s.CanRetry() {
		t.Errorf("api errors should count and stay retryable: %+v", s)
	}
}

func TestEmptyResponseIsInvalid(t *testing.T) {
	h := newHarness(t, Environment{Client: ai.Static{}})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Spiritual})
	s := h.waitFor(t, "invalid response", func(s State) bool { return s.LastError != nil })
	if s.LastError.Kind != InvalidResponse {
		t.Errorf("LastError = %v, want invalid response", s.LastError)
	}
}

func TestMissingClientFailsCleanly(t *testing.T) {
	h := newHarness(t, Environment{})

	h.store.Send(SelectInterestAndLoad{Interest: tarot.Love})
	s := h.waitFor(t, "failure", func(s State) bool { return s.LastError != nil })
	if s.LastError.Kind != NetworkError {
		t.Errorf("LastError = %v, want network error", s.LastError)
	}
}

// The first fetch answers after the next action is already queued, and
// after the fetch goroutine has returned. Its result must still be dropped.
func TestQueuedResultOfReplacedFetchIsDropped(t *testing.T) {
	fail := func() (*ai.Response, error) { return nil, errors.New("boom") }
	succeed := func() (*ai.Response, error) { return &ai.Response{Description: "stale"}, nil }

	tests := []struct {
		name   string
		answer func() (*ai.Response, error)
		next   Action
		want   State
	}{
		{
			name:   "failure queued behind new interest",
			answer: fail,
			next:   SelectInterestAndLoad{Interest: tarot.Money, Cards: cardsABC},
			want:   State{Selected: tarot.Money, Loading: true},
		},
		{
			name:   "failure queued behind clear",
			answer: fail,
			next:   ClearSelection{},
			want:   State{},
		},
		{
			name:   "success queued behind same interest",
			answer: succeed,
			next:   SelectInterestAndLoad{Interest: tarot.Love, Cards: cardsABC},
			want:   State{Selected: tarot.Love, Loading: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			firstCalled := make(chan struct{})
			gate := make(chan struct{})
			var calls atomic.Int32
			client := ai.ClientFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
				if calls.Add(1) > 1 {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				close(firstCalled)
				<-gate
				return tt.answer()
			})
			h := newHarness(t, Environment{Client: client})

			h.store.Send(SelectInterestAndLoad{Interest: tarot.Love, Cards: cardsABC})
			recv(t, firstCalled, "love fetch")

			park := barrier{reached: make(chan struct{}), release: make(chan struct{})}
			h.store.Send(park)
			recv(t, park.reached, "loop to park")

			h.store.Send(tt.next)
			close(gate)
			deadline := time.Now().Add(2 * time.Second)
			for h.store.Active(LoadingKey) {
				if time.Now().After(deadline) {
					t.Fatal("love fetch did not return")
				}
				time.Sleep(time.Millisecond)
			}
			close(park.release)

			end := barrier{reached: make(chan struct{})}
			h.store.Send(end)
			recv(t, end.reached, "queued actions to drain")

			if diff := cmp.Diff(tt.want, h.store.State()); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
			if got := h.results(); len(got) != 0 {
				t.Errorf("replaced fetch delivered %v", got)
			}
		})
	}
}
