package app

import (
	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/spread"
)

// route reduces one Path case. ok is false when path or action belong to
// another case.
type route func(p Path, a PathAction) (next Path, eff effect.Effect[PathAction], ok bool)

// embed lifts a child reducer into a route, given how to extract and
// rebuild its state and action cases.
func embed[S, A any](
	state func(Path) (S, bool),
	toPath func(S) Path,
	action func(PathAction) (A, bool),
	toAction func(A) PathAction,
	reduce engine.Reducer[S, A],
) route {
	return func(p Path, a PathAction) (Path, effect.Effect[PathAction], bool) {
		s, ok := state(p)
		if !ok {
			return p, effect.None[PathAction](), false
		}
		ca, ok := action(a)
		if !ok {
			return p, effect.None[PathAction](), false
		}
		next, eff := reduce(s, ca)
		return toPath(next), effect.Map(eff, toAction), true
	}
}

func spreadRoute(reduce engine.Reducer[spread.State, spread.Action]) route {
	return embed(
		func(p Path) (spread.State, bool) {
			sp, ok := p.(SpreadPath)
			return sp.State, ok
		},
		func(s spread.State) Path { return SpreadPath{State: s} },
		func(a PathAction) (spread.Action, bool) {
			sa, ok := a.(SpreadAction)
			return sa.Action, ok
		},
		func(a spread.Action) PathAction { return SpreadAction{Action: a} },
		reduce,
	)
}

func dailyRoute() route {
	return embed(
		func(p Path) (DailyPath, bool) {
			d, ok := p.(DailyPath)
			return d, ok
		},
		func(d DailyPath) Path { return d },
		func(a PathAction) (DailyAction, bool) {
			d, ok := a.(DailyAction)
			return d, ok
		},
		func(a DailyAction) PathAction { return a },
		reduceDaily,
	)
}

func reduceDaily(s DailyPath, a DailyAction) (DailyPath, effect.Effect[DailyAction]) {
	s.Revealed = a.Reveal
	return s, effect.None[DailyAction]()
}

// forEach applies a to the element with id using the first matching route.
// Effects come back tagged with the element and scoped under its key.
// Actions for an element that is gone, or for the wrong case, are dropped.
func forEach(routes []route, s State, id ElementID, a PathAction) (State, effect.Effect[Action], bool) {
	i, ok := s.Find(id)
	if !ok {
		return s, effect.None[Action](), false
	}
	for _, r := range routes {
		next, eff, ok := r(s.Stack[i].Path, a)
		if !ok {
			continue
		}
		stack := make([]StackElement, len(s.Stack))
		copy(stack, s.Stack)
		stack[i].Path = next
		s.Stack = stack

		tagged := effect.Map(eff, func(pa PathAction) Action { return Element{ID: id, Action: pa} })
		return s, effect.Scope(tagged, ScopeKey(id)), true
	}
	return s, effect.None[Action](), false
}
