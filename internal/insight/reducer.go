package insight

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/abelbrown/arcana/internal/ai"
	"github.com/abelbrown/arcana/internal/effect"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/otel"
	"github.com/abelbrown/arcana/internal/tarot"
)

// DefaultTimeout bounds a single fetch attempt.
const DefaultTimeout = 30 * time.Second

// Environment is what the reducer's effects need from the outside.
type Environment struct {
	Client  ai.Client
	Timeout time.Duration // DefaultTimeout when zero
	Events  *otel.Logger  // optional
}

func (env Environment) timeout() time.Duration {
	if env.Timeout <= 0 {
		return DefaultTimeout
	}
	return env.Timeout
}

// NewReducer returns the insight reducer bound to env.
func NewReducer(env Environment) engine.Reducer[State, Action] {
	return func(s State, action Action) (State, effect.Effect[Action]) {
		return reduce(env, s, action)
	}
}

func reduce(env Environment, s State, action Action) (State, effect.Effect[Action]) {
	switch a := action.(type) {
	case SelectInterestAndLoad:
		// One transition: no observer sees the new interest with the old
		// insight, and the fetch supersedes any previous one.
		return State{Selected: a.Interest, Loading: true}, fetch(env, a.Interest, a.Cards)

	case reload:
		if s.Selected == "" || s.Selected != a.Interest {
			return s, effect.None[Action]()
		}
		s.Loading = true
		s.Loaded = nil
		s.LastError = nil
		return s, fetch(env, a.Interest, a.Cards)

	case InsightLoaded:
		if a.Insight.Interest != s.Selected {
			return s, effect.None[Action]()
		}
		loaded := a.Insight
		s.Loaded = &loaded
		s.Loading = false
		s.RetryCount = 0
		s.LastError = nil
		return s, effect.None[Action]()

	case InsightFailed:
		s.Loading = false
		if a.Reason.Kind != MaxRetriesReached {
			s.RetryCount++
		}
		reason := a.Reason
		s.LastError = &reason
		return s, effect.Cancel[Action](LoadingKey)

	case Retry:
		if s.Selected == "" {
			return s, effect.None[Action]()
		}
		if s.RetryCount >= MaxRetryCount {
			return s, effect.Send[Action](InsightFailed{Reason: Error{Kind: MaxRetriesReached}})
		}
		return s, effect.Send[Action](reload{Interest: s.Selected, Cards: a.Cards})

	case ClearSelection:
		return State{}, effect.Cancel[Action](LoadingKey)
	}
	return s, effect.None[Action]()
}

// fetch asks the client for interest's reading. It captures its inputs so
// later state changes cannot leak into the request.
func fetch(env Environment, interest tarot.Interest, cards []tarot.Card) effect.Effect[Action] {
	cards = slices.Clone(cards)
	client := env.Client
	timeout := env.timeout()
	events := env.Events

	return effect.Run(func(ctx context.Context, send func(Action)) {
		events.Emit(otel.Event{
			Level:    otel.LevelInfo,
			Kind:     otel.KindInsightRequest,
			Comp:     "insight",
			Interest: string(interest),
			Count:    len(cards),
		})
		start := time.Now()

		resp, err := effect.WithTimeout(ctx, timeout, func(ctx context.Context) (*ai.Response, error) {
			if client == nil {
				return nil, errors.New("no insight client configured")
			}
			return client.GetSpreadInsight(ctx, ai.Request{Interest: interest, Cards: cards})
		})
		if ctx.Err() != nil {
			// Superseded or cleared: whatever happened is no longer wanted.
			return
		}

		result := classify(interest, resp, err)
		switch r := result.(type) {
		case InsightLoaded:
			events.Emit(otel.Event{
				Level:    otel.LevelInfo,
				Kind:     otel.KindInsightSuccess,
				Comp:     "insight",
				Interest: string(interest),
				Dur:      time.Since(start),
			})
		case InsightFailed:
			events.Emit(otel.Event{
				Level:    otel.LevelWarn,
				Kind:     otel.KindInsightFailure,
				Comp:     "insight",
				Interest: string(interest),
				Dur:      time.Since(start),
				Err:      r.Reason.Error(),
			})
		}
		send(result)
	}).Cancellable(LoadingKey, true)
}

// classify turns a client outcome into the action that reports it.
func classify(interest tarot.Interest, resp *ai.Response, err error) Action {
	if err != nil {
		var apiErr *ai.APIError
		if errors.As(err, &apiErr) {
			return InsightFailed{Reason: Error{Kind: APIError, Message: apiErr.Message}}
		}
		return InsightFailed{Reason: Error{Kind: NetworkError, Message: err.Error()}}
	}
	if resp == nil || strings.TrimSpace(resp.Description) == "" {
		return InsightFailed{Reason: Error{Kind: InvalidResponse}}
	}
	return InsightLoaded{Insight: Insight{Interest: interest, Description: resp.Description}}
}
