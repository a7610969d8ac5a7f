// Package insight loads the AI reading for a chosen interest and tracks
// failures and retries for that choice.
//
// A fetch runs under LoadingKey with cancel-in-flight semantics, so picking a
// new interest always supersedes the previous request and the superseded
// result never reaches State.
package insight

import (
	"fmt"

	"github.com/abelbrown/arcana/internal/tarot"
)

// MaxRetryCount bounds failed attempts for one selection.
const MaxRetryCount = 3

// LoadingKey is the cancellation key of the fetch effect.
const LoadingKey = "insight-loading"

// Insight is a loaded reading, tagged with the interest it was fetched for.
type Insight struct {
	Interest    tarot.Interest
	Description string
}

// ErrorKind classifies a failed load.
type ErrorKind int

const (
	NetworkError ErrorKind = iota
	APIError
	MaxRetriesReached
	InvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkError:
		return "network_error"
	case APIError:
		return "api_error"
	case MaxRetriesReached:
		return "max_retries_reached"
	case InvalidResponse:
		return "invalid_response"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is why a load failed. Message is set for APIError and carries
// diagnostic detail for NetworkError.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// UserMessage is the text shown to the user for this failure.
func (e Error) UserMessage() string {
	switch e.Kind {
	case NetworkError:
		return "Couldn't reach the reader. Check your connection and try again."
	case APIError:
		if e.Message == "" {
			return "The reader returned an error. Please try again."
		}
		return "The reader returned an error: " + e.Message
	case MaxRetriesReached:
		return "Still no reading after several tries. Pick another interest or clear your selection to start over."
	case InvalidResponse:
		return "The reading came back empty. Please try again."
	}
	return "Something went wrong."
}

// State is one reading session's insight state. The zero value is the
// initial state.
type State struct {
	Selected   tarot.Interest // "" until an interest is chosen
	Loaded     *Insight
	Loading    bool
	RetryCount int
	LastError  *Error
}

// CanRetry reports whether a retry affordance should be offered.
func (s State) CanRetry() bool {
	return !s.Loading && s.RetryCount < MaxRetryCount
}

// HasValidInsight reports whether Loaded can be shown.
func (s State) HasValidInsight() bool {
	return s.Loaded != nil && !s.Loading
}

// Action is an insight event. The set is closed.
type Action interface {
	insightAction()
}

// SelectInterestAndLoad chooses interest and starts loading its reading
// for cards.
type SelectInterestAndLoad struct {
	Interest tarot.Interest
	Cards    []tarot.Card
}

// InsightLoaded delivers a successful fetch.
type InsightLoaded struct {
	Insight Insight
}

// InsightFailed delivers a failed fetch, or the refusal to retry.
type InsightFailed struct {
	Reason Error
}

// Retry asks for the current interest again with cards.
type Retry struct {
	Cards []tarot.Card
}

// ClearSelection returns to the initial state.
type ClearSelection struct{}

// reload refetches the current interest without resetting RetryCount.
type reload struct {
	Interest tarot.Interest
	Cards    []tarot.Card
}

func (SelectInterestAndLoad) insightAction() {}
func (InsightLoaded) insightAction()         {}
func (InsightFailed) insightAction()         {}
func (Retry) insightAction()                 {}
func (ClearSelection) insightAction()        {}
func (reload) insightAction()                {}
