// Package app is the root of the reading app: the navigation stack, the
// persisted flags and the routing of screen actions to the screen they
// belong to.
package app

import (
	"fmt"
	"time"

	"github.com/abelbrown/arcana/internal/spread"
	"github.com/abelbrown/arcana/internal/tarot"
)

// ElementID identifies a stack element for its whole life. IDs are never
// reused, so a late action for a popped screen cannot reach a new one.
type ElementID int

// ScopeKey is the prefix under which an element's effects are registered.
func ScopeKey(id ElementID) string {
	return fmt.Sprintf("stack/%d/", id)
}

// Path is the state of one pushed screen. The set is closed.
type Path interface {
	path()
}

// SpreadPath is a reading session.
type SpreadPath struct {
	State spread.State
}

// DailyPath shows the card of the day.
type DailyPath struct {
	Card     tarot.Card
	Revealed bool
}

func (SpreadPath) path() {}
func (DailyPath) path()  {}

// PathAction is an action for one pushed screen, matching Path case by case.
type PathAction interface {
	pathAction()
}

// SpreadAction targets a SpreadPath.
type SpreadAction struct {
	Action spread.Action
}

// DailyAction targets a DailyPath.
type DailyAction struct {
	Reveal bool
}

func (SpreadAction) pathAction() {}
func (DailyAction) pathAction()  {}

// StackElement is a pushed screen.
type StackElement struct {
	ID   ElementID
	Path Path
}

// State is the whole app.
type State struct {
	Stack  []StackElement
	NextID ElementID

	Onboarded            bool
	NotificationsEnabled bool
	FlagsLoaded          bool
	FlagError            string

	DailyCard tarot.Card
}

// Top returns the visible screen.
func (s State) Top() (StackElement, bool) {
	if len(s.Stack) == 0 {
		return StackElement{}, false
	}
	return s.Stack[len(s.Stack)-1], true
}

// Find returns the index of the element with id.
func (s State) Find(id ElementID) (int, bool) {
	for i, e := range s.Stack {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Spread returns the reading session pushed as id.
func (s State) Spread(id ElementID) (spread.State, bool) {
	i, ok := s.Find(id)
	if !ok {
		return spread.State{}, false
	}
	sp, ok := s.Stack[i].Path.(SpreadPath)
	return sp.State, ok
}

// Action is a root event. The set is closed.
type Action interface {
	appAction()
}

type (
	// Start loads persisted flags and picks the card of the day.
	Start struct {
		Today time.Time
	}

	// FlagsLoaded delivers the persisted flags. Err is set when loading failed
	// and the defaults were kept.
	FlagsLoaded struct {
		Onboarded     bool
		Notifications bool
		Err           string
	}

	CompleteOnboarding struct{}

	SetNotifications struct {
		Enabled bool
	}

	// FlagSaveFailed reports a failed flag write.
	FlagSaveFailed struct {
		Key string
		Err string
	}

	// PushSpread opens a reading session and deals its cards. SessionID is
	// chosen by the caller so the reducer stays deterministic.
	PushSpread struct {
		Kind      tarot.SpreadKind
		SessionID string
	}

	PushDaily struct{}

	// Pop closes the top screen and cancels its effects.
	Pop struct{}

	// PopTo closes every screen above ID.
	PopTo struct {
		ID ElementID
	}

	// Element routes Action to the screen with ID.
	Element struct {
		ID     ElementID
		Action PathAction
	}
)

func (Start) appAction()              {}
func (FlagsLoaded) appAction()        {}
func (CompleteOnboarding) appAction() {}
func (SetNotifications) appAction()   {}
func (FlagSaveFailed) appAction()     {}
func (PushSpread) appAction()         {}
func (PushDaily) appAction()          {}
func (Pop) appAction()                {}
func (PopTo) appAction()              {}
func (Element) appAction()            {}
