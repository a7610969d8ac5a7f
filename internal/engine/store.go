// Package engine runs reducers. A Store owns one state value and applies
// actions to it one at a time on a single goroutine; effects returned by the
// reducer run elsewhere and can only influence state by sending actions back.
package engine

// Goroutine safety:
// The loop goroutine is the only writer of Store.state and the only caller
// of the reducer and of Registry.Cancel*. Store.mu guards state reads from
// other goroutines and the subscriber list. Effect goroutines touch the
// Store only through deliver(), which writes to the inbox channel.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/otel"
)

// defaultInboxSize bounds how many actions may queue before senders block.
const defaultInboxSize = 64

// Reducer is a pure state transition. It must not perform I/O or read
// clocks or randomness; anything like that belongs in a returned effect.
type Reducer[S, A any] func(state S, action A) (S, effect.Effect[A])

// envelope carries an action into the loop. task is nil for actions sent
// from outside; otherwise it names the effect task that produced it.
type envelope[A any] struct {
	action A
	task   *effect.Task
}

// Option configures a Store.
type Option func(*options)

type options struct {
	name      string
	events    *otel.Logger
	metrics   *Metrics
	inboxSize int
}

// WithName sets the component name stamped on events ("engine" by default).
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithEventLog sends effect lifecycle events to l.
func WithEventLog(l *otel.Logger) Option {
	return func(o *options) { o.events = l }
}

// WithMetrics records action and effect counters in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithInboxSize overrides the action queue capacity.
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

// Store is the runtime for one state container.
type Store[S, A any] struct {
	name     string
	reduce   Reducer[S, A]
	registry *effect.Registry
	events   *otel.Logger
	metrics  *Metrics

	mu    sync.RWMutex
	state S
	subs  []chan S

	inbox     chan envelope[A]
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

// New starts a Store holding initial. The Store runs until ctx is cancelled
// or Close is called.
func New[S, A any](ctx context.Context, initial S, reduce Reducer[S, A], opts ...Option) *Store[S, A] {
	o := options{name: "engine", inboxSize: defaultInboxSize}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Store[S, A]{
		name:     o.name,
		reduce:   reduce,
		events:   o.events,
		metrics:  o.metrics,
		state:    initial,
		inbox:    make(chan envelope[A], o.inboxSize),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	s.registry = effect.NewRegistry(ctx, s.hooks())

	go s.loop()
	return s
}

// Send enqueues an action. It blocks only while the inbox is full and
// returns false if the Store has shut down.
func (s *Store[S, A]) Send(action A) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.inbox <- envelope[A]{action: action}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// State returns the most recently committed state.
func (s *Store[S, A]) State() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel that always holds the latest state. A slow
// reader skips intermediate states but never sees a stale one after a newer
// one. The channel is closed when the Store shuts down.
func (s *Store[S, A]) Subscribe() <-chan S {
	ch := make(chan S, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.loopDone:
		close(ch)
		return ch
	default:
	}
	ch <- s.state
	s.subs = append(s.subs, ch)
	return ch
}

// Unsubscribe stops updates to ch and closes it.
func (s *Store[S, A]) Unsubscribe(ch <-chan S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Active reports whether an effect is running under key.
func (s *Store[S, A]) Active(key string) bool {
	return s.registry.Active(key)
}

// Done is closed once the action loop has exited.
func (s *Store[S, A]) Done() <-chan struct{} {
	return s.loopDone
}

// Close cancels every effect, stops the loop and waits for effect
// goroutines to return. Safe to call more than once.
func (s *Store[S, A]) Close() {
	s.closeOnce.Do(func() {
		s.registry.CancelAll()
		s.cancel()
		<-s.loopDone
		s.registry.Close()
	})
}

func (s *Store[S, A]) loop() {
	defer func() {
		// loopDone is closed under mu so Subscribe either sees it or has
		// already registered a channel that is closed here.
		s.mu.Lock()
		for _, ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		close(s.loopDone)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.inbox:
			// Cancellation happens on this goroutine and a task with queued
			// results stays cancellable until they are released here, so a
			// task cancelled by any earlier action never reaches the reducer.
			if env.task != nil && !s.registry.Release(env.task) {
				s.suppressed(env.task, env.action)
				continue
			}
			s.process(env.action)
		}
	}
}

// process applies action and then every action it sends synchronously,
// before anything else in the inbox.
func (s *Store[S, A]) process(action A) {
	queue := []A{action}
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]

		next, eff := s.reduce(s.state, a)

		s.mu.Lock()
		s.state = next
		for _, ch := range s.subs {
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
		s.mu.Unlock()

		s.metrics.actionApplied()
		s.events.Trace(otel.Event{Kind: otel.KindActionApplied, Comp: s.name, Action: actionName(a)})

		queue = s.execute(eff, queue)
	}
}

func (s *Store[S, A]) execute(eff effect.Effect[A], queue []A) []A {
	switch eff.Kind() {
	case effect.KindSend:
		queue = append(queue, eff.Action())
	case effect.KindRun:
		s.spawn(eff)
	case effect.KindCancel:
		s.registry.Cancel(eff.Key())
	case effect.KindCancelPrefix:
		s.registry.CancelPrefix(eff.Key())
	case effect.KindBatch:
		for _, child := range eff.Children() {
			queue = s.execute(child, queue)
		}
	}
	return queue
}

func (s *Store[S, A]) spawn(eff effect.Effect[A]) {
	op := eff.Operation()
	s.registry.Start(eff.Key(), eff.CancelInFlight(), func(ctx context.Context, t *effect.Task) {
		op(ctx, func(a A) { s.deliver(ctx, t, a) })
	})
}

// deliver is the send function handed to effect operations. Actions from a
// cancelled task are dropped here, at the source.
func (s *Store[S, A]) deliver(ctx context.Context, t *effect.Task, a A) {
	if !s.registry.Hold(t) {
		s.suppressed(t, a)
		return
	}
	select {
	case s.inbox <- envelope[A]{action: a, task: t}:
	case <-ctx.Done():
		s.registry.Release(t)
		s.suppressed(t, a)
	}
}

func (s *Store[S, A]) suppressed(t *effect.Task, a A) {
	s.metrics.actionSuppressed()
	s.events.Emit(otel.Event{
		Level:  otel.LevelDebug,
		Kind:   otel.KindActionSuppressed,
		Comp:   s.name,
		TaskID: t.ID,
		Key:    t.Key,
		Action: actionName(a),
	})
}

func (s *Store[S, A]) hooks() effect.Hooks {
	return effect.Hooks{
		Started: func(t *effect.Task) {
			s.metrics.effectStarted(t.Key)
			s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindEffectStart, Comp: s.name, TaskID: t.ID, Key: t.Key})
		},
		Cancelled: func(t *effect.Task) {
			s.metrics.effectCancelled(t.Key)
			s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindEffectCancel, Comp: s.name, TaskID: t.ID, Key: t.Key})
		},
		Finished: func(t *effect.Task, elapsed time.Duration) {
			s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindEffectDone, Comp: s.name, TaskID: t.ID, Key: t.Key, Dur: elapsed})
		},
		Panicked: func(t *effect.Task, recovered any) {
			s.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindEffectPanic, Comp: s.name, TaskID: t.ID, Key: t.Key, Err: fmt.Sprint(recovered)})
		},
	}
}

// actionName renders an action's dynamic type, e.g. "insight.Retry".
func actionName(a any) string {
	return fmt.Sprintf("%T", a)
}
