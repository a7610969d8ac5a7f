// Package otel provides structured observability for arcana.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps the most recent events in memory so the TUI
// can show what the effect engine has been doing.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Engine events
	KindActionApplied    EventKind = "action.applied"
	KindActionSuppressed EventKind = "action.suppressed"
	KindEffectStart      EventKind = "effect.start"
	KindEffectCancel     EventKind = "effect.cancel"
	KindEffectDone       EventKind = "effect.done"
	KindEffectPanic      EventKind = "effect.panic"

	// Insight events
	KindInsightRequest EventKind = "insight.request"
	KindInsightSuccess EventKind = "insight.success"
	KindInsightFailure EventKind = "insight.failure"
	KindInsightRetry   EventKind = "insight.retry"

	// Store events
	KindStoreError EventKind = "store.error"

	// UI events
	KindKeyPress EventKind = "ui.key"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // component: "engine", "insight", "ui", "main"
	SessionID string         `json:"session_id,omitempty"` // random hex, same for entire app run
	TaskID    string         `json:"task,omitempty"`       // effect task correlation ID
	Key       string         `json:"key,omitempty"`        // cancellation key
	Action    string         `json:"action,omitempty"`     // action type name
	Interest  string         `json:"interest,omitempty"`
	Dur       time.Duration  `json:"-"`                // not serialized directly
	DurMs     float64        `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`   // free text
	Extra     map[string]any `json:"extra,omitempty"` // escape hatch for unusual fields
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
