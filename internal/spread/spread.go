// Package spread is one reading session: the drawn cards and the insight
// requested for them.
package spread

import (
	"context"
	"math/rand/v2"
	"slices"

	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/insight"
	"github.com/abelbrown/arcana/internal/tarot"
)

// DrawKey is the cancellation key of the card-drawing effect.
const DrawKey = "spread-draw"

// State is a reading session.
type State struct {
	ID      string
	Kind    tarot.SpreadKind
	Cards   []tarot.Card
	Drawing bool
	Insight insight.State
}

// NewState starts an empty session of the given layout.
func NewState(id string, kind tarot.SpreadKind) State {
	return State{ID: id, Kind: kind}
}

// Action is a spread event. The set is closed.
type Action interface {
	spreadAction()
}

type (
	// Draw deals a fresh set of cards for the layout.
	Draw struct{}

	// CardsDrawn delivers the dealt cards.
	CardsDrawn struct {
		Cards []tarot.Card
	}

	// SelectInterest asks for the insight of the current cards.
	SelectInterest struct {
		Interest tarot.Interest
	}

	RetryInsight struct{}
	ClearInsight struct{}

	// Insight wraps an action of the embedded insight state.
	Insight struct {
		Action insight.Action
	}
)

func (Draw) spreadAction()           {}
func (CardsDrawn) spreadAction()     {}
func (SelectInterest) spreadAction() {}
func (RetryInsight) spreadAction()   {}
func (ClearInsight) spreadAction()   {}
func (Insight) spreadAction()        {}

// Environment supplies randomness and the insight dependencies.
type Environment struct {
	// Draw deals n distinct cards. RandomDraw when nil.
	Draw    func(n int) []tarot.Card
	Insight insight.Environment
}

// RandomDraw deals from a freshly seeded generator.
func RandomDraw(n int) []tarot.Card {
	return tarot.Draw(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), n)
}

// NewReducer returns the spread reducer bound to env.
func NewReducer(env Environment) engine.Reducer[State, Action] {
	draw := env.Draw
	if draw == nil {
		draw = RandomDraw
	}
	reduceInsight := insight.NewReducer(env.Insight)

	forward := func(s State, a insight.Action) (State, effect.Effect[Action]) {
		next, eff := reduceInsight(s.Insight, a)
		s.Insight = next
		return s, effect.Map(eff, wrapInsight)
	}

	return func(s State, action Action) (State, effect.Effect[Action]) {
		switch a := action.(type) {
		case Draw:
			s.Drawing = true
			n := s.Kind.CardCount()
			return s, effect.Run(func(ctx context.Context, send func(Action)) {
				send(CardsDrawn{Cards: draw(n)})
			}).Cancellable(DrawKey, true)

		case CardsDrawn:
			s.Cards = slices.Clone(a.Cards)
			s.Drawing = false
			// An insight belongs to the cards it was written for.
			return forward(s, insight.ClearSelection{})

		case SelectInterest:
			if len(s.Cards) == 0 {
				return s, effect.None[Action]()
			}
			return forward(s, insight.SelectInterestAndLoad{Interest: a.Interest, Cards: s.Cards})

		case RetryInsight:
			return forward(s, insight.Retry{Cards: s.Cards})

		case ClearInsight:
			return forward(s, insight.ClearSelection{})

		case Insight:
			return forward(s, a.Action)
		}
		return s, effect.None[Action]()
	}
}

func wrapInsight(a insight.Action) Action {
	return Insight{Action: a}
}
