package effect

// Goroutine safety:
// Registry.mu guards the keyed and anon maps, the closed flag and each task's
// pending and finished fields. A task's cancelled flag is set while holding
// mu, so once Cancel returns every detached task already reports
// Cancelled(). Context cancel functions and hooks run after mu is released.
//
// A task stays registered after its function returns for as long as it has
// held results the consumer has not released. Cancel therefore still reaches
// results that are queued but not yet applied.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Task is one running operation started through a Registry.
type Task struct {
	ID      string
	Key     string // "" for anonymous tasks
	Started time.Time

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	pending  int  // results held and not yet released
	finished bool // fn has returned
}

// Cancelled reports whether the task was cancelled or superseded. Anything
// the task produces after this returns true must be discarded.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed when the task's goroutine has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Hooks observe task lifecycle. Every field is optional. Hooks run outside
// the registry lock but may run on any goroutine.
type Hooks struct {
	Started   func(t *Task)
	Cancelled func(t *Task)
	Finished  func(t *Task, elapsed time.Duration)
	Panicked  func(t *Task, recovered any)
}

// Registry tracks in-flight tasks by cancellation key.
type Registry struct {
	ctx   context.Context
	hooks Hooks

	mu     sync.Mutex
	keyed  map[string]map[*Task]struct{}
	anon   map[*Task]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewRegistry creates a Registry whose tasks all derive their context from
// ctx. Cancelling ctx cancels every task, but only Cancel/CancelAll mark
// tasks as cancelled for delivery purposes.
func NewRegistry(ctx context.Context, hooks Hooks) *Registry {
	return &Registry{
		ctx:   ctx,
		hooks: hooks,
		keyed: make(map[string]map[*Task]struct{}),
		anon:  make(map[*Task]struct{}),
	}
}

// Start registers and launches fn as a new task under key. When
// cancelInFlight is set, every task already registered under key is
// cancelled first; it is signalled, not awaited. After Close, Start returns
// a task that is already cancelled and never runs fn.
func (r *Registry) Start(key string, cancelInFlight bool, fn func(ctx context.Context, t *Task)) *Task {
	ctx, cancel := context.WithCancel(r.ctx)
	t := &Task{
		ID:      uuid.NewString(),
		Key:     key,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.cancelled.Store(true)
		cancel()
		close(t.done)
		return t
	}
	var superseded []*Task
	if key == "" {
		r.anon[t] = struct{}{}
	} else {
		if cancelInFlight {
			superseded = r.detachLocked(key)
		}
		set := r.keyed[key]
		if set == nil {
			set = make(map[*Task]struct{})
			r.keyed[key] = set
		}
		set[t] = struct{}{}
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.signal(superseded)
	if r.hooks.Started != nil {
		r.hooks.Started(t)
	}

	go r.run(ctx, t, fn)
	return t
}

// Cancel cancels and deregisters every task under key and returns how many
// there were. No-op when the key is idle.
func (r *Registry) Cancel(key string) int {
	r.mu.Lock()
	tasks := r.detachLocked(key)
	r.mu.Unlock()

	r.signal(tasks)
	return len(tasks)
}

// CancelPrefix cancels every task whose key starts with prefix. Used to tear
// down all the work of one session at once.
func (r *Registry) CancelPrefix(prefix string) int {
	r.mu.Lock()
	var tasks []*Task
	for key := range r.keyed {
		if strings.HasPrefix(key, prefix) {
			tasks = append(tasks, r.detachLocked(key)...)
		}
	}
	r.mu.Unlock()

	r.signal(tasks)
	return len(tasks)
}

// CancelAll cancels every registered task, keyed or anonymous.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	tasks := r.detachAllLocked()
	r.mu.Unlock()

	r.signal(tasks)
	return len(tasks)
}

// Active reports whether a task under key is still running. A finished task
// whose results are still queued does not count.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := range r.keyed[key] {
		if !t.finished {
			return true
		}
	}
	return false
}

// Hold records that t is handing a result to the consumer. It reports false,
// recording nothing, when t is already cancelled. Every successful Hold must
// be matched by exactly one Release.
func (r *Registry) Hold(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.cancelled.Load() {
		return false
	}
	t.pending++
	return true
}

// Release is called when the consumer takes a result held by t, and reports
// whether that result may still be applied. It is false when t was cancelled
// or superseded after Hold, including after t returned.
func (r *Registry) Release(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.pending > 0 {
		t.pending--
	}
	if t.finished && t.pending == 0 {
		r.removeLocked(t)
	}
	return !t.cancelled.Load()
}

// Len returns the number of registered tasks, including finished tasks with
// unreleased results.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.anon)
	for _, set := range r.keyed {
		n += len(set)
	}
	return n
}

// Wait blocks until every task goroutine has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Close cancels everything, refuses new tasks and waits for running ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	tasks := r.detachAllLocked()
	r.mu.Unlock()

	r.signal(tasks)
	r.wg.Wait()
}

// detachLocked removes all tasks under key and marks them cancelled.
func (r *Registry) detachLocked(key string) []*Task {
	set := r.keyed[key]
	if len(set) == 0 {
		return nil
	}
	delete(r.keyed, key)
	tasks := make([]*Task, 0, len(set))
	for t := range set {
		if t.cancelled.CompareAndSwap(false, true) {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (r *Registry) detachAllLocked() []*Task {
	var tasks []*Task
	for key := range r.keyed {
		tasks = append(tasks, r.detachLocked(key)...)
	}
	for t := range r.anon {
		if t.cancelled.CompareAndSwap(false, true) {
			tasks = append(tasks, t)
		}
	}
	r.anon = make(map[*Task]struct{})
	return tasks
}

// signal cancels task contexts. Callers have already flipped the cancelled
// flags under the lock.
func (r *Registry) signal(tasks []*Task) {
	for _, t := range tasks {
		t.cancel()
		if r.hooks.Cancelled != nil {
			r.hooks.Cancelled(t)
		}
	}
}

func (r *Registry) run(ctx context.Context, t *Task, fn func(ctx context.Context, t *Task)) {
	defer func() {
		if rec := recover(); rec != nil && r.hooks.Panicked != nil {
			r.hooks.Panicked(t, fmt.Errorf("task %s panicked: %v", t.ID, rec))
		}
		r.finish(t)
	}()
	fn(ctx, t)
}

// finish deregisters t unless it still has held results; the last Release
// does it then.
func (r *Registry) finish(t *Task) {
	r.mu.Lock()
	t.finished = true
	if t.pending == 0 {
		r.removeLocked(t)
	}
	r.mu.Unlock()

	t.cancel()
	close(t.done)
	if r.hooks.Finished != nil {
		r.hooks.Finished(t, time.Since(t.Started))
	}
	r.wg.Done()
}

// removeLocked deregisters t if it is still registered. A superseded task has
// already been detached and must not remove its successor.
func (r *Registry) removeLocked(t *Task) {
	if t.Key == "" {
		delete(r.anon, t)
		return
	}
	if set := r.keyed[t.Key]; set != nil {
		delete(set, t)
		if len(set) == 0 {
			delete(r.keyed, t.Key)
		}
	}
}
