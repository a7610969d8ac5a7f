// Package effect describes asynchronous work returned from reducers and the
// machinery that runs it: a keyed cancellation registry and a timeout race.
//
// An Effect is a plain value. Reducers build them; only the engine executes
// them, after the state transition that produced them has been committed.
package effect

import "context"

// Kind discriminates the Effect sum type.
type Kind int

const (
	KindNone         Kind = iota // nothing to do
	KindSend                     // apply an action immediately after the current one
	KindRun                      // start an asynchronous operation
	KindCancel                   // cancel every task under a key
	KindCancelPrefix             // cancel every task whose key starts with a prefix
	KindBatch                    // several effects, executed in order
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSend:
		return "send"
	case KindRun:
		return "run"
	case KindCancel:
		return "cancel"
	case KindCancelPrefix:
		return "cancel_prefix"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Operation is the body of a Run effect. Results reach the reducer only
// through send; once ctx is done, send silently drops everything.
type Operation[A any] func(ctx context.Context, send func(A))

// Effect is a description of work to perform outside a state transition.
// The zero value is a no-op.
type Effect[A any] struct {
	kind           Kind
	action         A
	op             Operation[A]
	key            string
	cancelInFlight bool
	children       []Effect[A]
}

// None returns the no-op effect.
func None[A any]() Effect[A] {
	return Effect[A]{}
}

// Send feeds action back into the reducer right after the current action.
func Send[A any](action A) Effect[A] {
	return Effect[A]{kind: KindSend, action: action}
}

// Run starts op as an anonymous task. Use Cancellable to give it a key.
func Run[A any](op Operation[A]) Effect[A] {
	if op == nil {
		return None[A]()
	}
	return Effect[A]{kind: KindRun, op: op}
}

// Cancel cancels every task registered under key.
func Cancel[A any](key string) Effect[A] {
	return Effect[A]{kind: KindCancel, key: key}
}

// CancelPrefix cancels every task whose key starts with prefix.
func CancelPrefix[A any](prefix string) Effect[A] {
	return Effect[A]{kind: KindCancelPrefix, key: prefix}
}

// Batch combines effects. No-op children are dropped and nested batches are
// flattened; the remaining effects execute in argument order.
func Batch[A any](effects ...Effect[A]) Effect[A] {
	var flat []Effect[A]
	for _, e := range effects {
		switch e.kind {
		case KindNone:
		case KindBatch:
			flat = append(flat, e.children...)
		default:
			flat = append(flat, e)
		}
	}
	switch len(flat) {
	case 0:
		return None[A]()
	case 1:
		return flat[0]
	}
	return Effect[A]{kind: KindBatch, children: flat}
}

// Cancellable registers a Run effect under key. With cancelInFlight, any task
// already running under key is cancelled before this one starts. Other kinds
// are returned unchanged.
func (e Effect[A]) Cancellable(key string, cancelInFlight bool) Effect[A] {
	if e.kind != KindRun {
		return e
	}
	e.key = key
	e.cancelInFlight = cancelInFlight
	return e
}

// Accessors for the engine that executes effects and for reducer tests.

func (e Effect[A]) Kind() Kind { return e.kind }
func (e Effect[A]) Action() A { return e.action }
func (e Effect[A]) Operation() Operation[A] { return e.op }
func (e Effect[A]) Key() string { return e.key }
func (e Effect[A]) CancelInFlight() bool { return e.cancelInFlight }
func (e Effect[A]) Children() []Effect[A] { return e.children }
func (e Effect[A]) IsNone() bool { return e.kind == KindNone }

// Map converts an effect over child actions into one over parent actions.
// Keys are preserved; see Scope for namespacing them.
func Map[A, B any](e Effect[A], f func(A) B) Effect[B] {
	switch e.kind {
	case KindSend:
		return Effect[B]{kind: KindSend, action: f(e.action)}
	case KindRun:
		op := e.op
		return Effect[B]{
			kind: KindRun,
			op: func(ctx context.Context, send func(B)) {
				op(ctx, func(a A) { send(f(a)) })
			},
			key:            e.key,
			cancelInFlight: e.cancelInFlight,
		}
	case KindCancel, KindCancelPrefix:
		return Effect[B]{kind: e.kind, key: e.key}
	case KindBatch:
		children := make([]Effect[B], len(e.children))
		for i, c := range e.children {
			children[i] = Map(c, f)
		}
		return Effect[B]{kind: KindBatch, children: children}
	default:
		return None[B]()
	}
}

// Scope prefixes every key in e, so that two sessions using the same logical
// key never supersede each other. Anonymous Run effects stay anonymous.
func Scope[A any](e Effect[A], prefix string) Effect[A] {
	switch e.kind {
	case KindRun:
		if e.key != "" {
			e.key = prefix + e.key
		}
	case KindCancel, KindCancelPrefix:
		e.key = prefix + e.key
	case KindBatch:
		children := make([]Effect[A], len(e.children))
		for i, c := range e.children {
			children[i] = Scope(c, prefix)
		}
		e.children = children
	}
	return e
}
