package app

import (
	"context"

	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/spread"
	"github.com/abelbrown/arcana/internal/tarot"
)

// Persisted flag keys.
const (
	FlagOnboarded     = "onboarding_passed"
	FlagNotifications = "notifications_enabled"
)

// FlagStore persists boolean flags. Missing keys read as false.
type FlagStore interface {
	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
}

// Environment is what the root reducer's effects need.
type Environment struct {
	Flags  FlagStore // nil disables persistence
	Spread spread.Environment
}

// NewReducer returns the root reducer bound to env.
func NewReducer(env Environment) engine.Reducer[State, Action] {
	routes := []route{
		spreadRoute(spread.NewReducer(env.Spread)),
		dailyRoute(),
	}

	return func(s State, action Action) (State, effect.Effect[Action]) {
		switch a := action.(type) {
		case Start:
			s.DailyCard = tarot.DailyCard(a.Today)
			return s, loadFlags(env.Flags)

		case FlagsLoaded:
			s.FlagsLoaded = true
			if a.Err != "" {
				s.FlagError = a.Err
				return s, effect.None[Action]()
			}
			s.Onboarded = a.Onboarded
			s.NotificationsEnabled = a.Notifications
			return s, effect.None[Action]()

		case CompleteOnboarding:
			s.Onboarded = true
			return s, saveFlag(env.Flags, FlagOnboarded, true)

		case SetNotifications:
			s.NotificationsEnabled = a.Enabled
			return s, saveFlag(env.Flags, FlagNotifications, a.Enabled)

		case FlagSaveFailed:
			s.FlagError = a.Key + ": " + a.Err
			return s, effect.None[Action]()

		case PushSpread:
			kind := a.Kind
			if kind.CardCount() == 0 {
				kind = tarot.ThreeCard
			}
			id := s.push(SpreadPath{State: spread.NewState(a.SessionID, kind)})
			return s, effect.Send[Action](Element{ID: id, Action: SpreadAction{Action: spread.Draw{}}})

		case PushDaily:
			s.push(DailyPath{Card: s.DailyCard})
			return s, effect.None[Action]()

		case Pop:
			top, ok := s.Top()
			if !ok {
				return s, effect.None[Action]()
			}
			n := len(s.Stack) - 1
			s.Stack = s.Stack[:n:n]
			return s, effect.CancelPrefix[Action](ScopeKey(top.ID))

		case PopTo:
			i, ok := s.Find(a.ID)
			if !ok {
				return s, effect.None[Action]()
			}
			var cancels []effect.Effect[Action]
			for _, e := range s.Stack[i+1:] {
				cancels = append(cancels, effect.CancelPrefix[Action](ScopeKey(e.ID)))
			}
			n := i + 1
			s.Stack = s.Stack[:n:n]
			return s, effect.Batch(cancels...)

		case Element:
			next, eff, _ := forEach(routes, s, a.ID, a.Action)
			return next, eff
		}
		return s, effect.None[Action]()
	}
}

// push appends p under a fresh id. The stack is copied so earlier
// snapshots never see the new element.
func (s *State) push(p Path) ElementID {
	id := s.NextID
	s.NextID++
	stack := make([]StackElement, len(s.Stack), len(s.Stack)+1)
	copy(stack, s.Stack)
	s.Stack = append(stack, StackElement{ID: id, Path: p})
	return id
}

func loadFlags(flags FlagStore) effect.Effect[Action] {
	if flags == nil {
		return effect.Send[Action](FlagsLoaded{})
	}
	return effect.Run(func(ctx context.Context, send func(Action)) {
		onboarded, err := flags.GetBool(ctx, FlagOnboarded)
		if err != nil {
			send(FlagsLoaded{Err: err.Error()})
			return
		}
		notifications, err := flags.GetBool(ctx, FlagNotifications)
		if err != nil {
			send(FlagsLoaded{Err: err.Error()})
			return
		}
		send(FlagsLoaded{Onboarded: onboarded, Notifications: notifications})
	}).Cancellable("flags/load", true)
}

// saveFlag writes key. A newer write to the same key supersedes an older
// one still in flight.
func saveFlag(flags FlagStore, key string, value bool) effect.Effect[Action] {
	if flags == nil {
		return effect.None[Action]()
	}
	return effect.Run(func(ctx context.Context, send func(Action)) {
		if err := flags.SetBool(ctx, key, value); err != nil {
			send(FlagSaveFailed{Key: key, Err: err.Error()})
		}
	}).Cancellable("flags/save/"+key, true)
}
