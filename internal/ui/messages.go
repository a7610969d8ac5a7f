// Package ui provides the Bubble Tea TUI for arcana.
package ui

import "github.com/abelbrown/arcana/internal/app"

// StateChanged carries a newly committed root state.
type StateChanged struct {
	State app.State
}

// StoreClosed is sent when the state subscription ends.
type StoreClosed struct{}

// ReadingSaved is sent after a loaded insight was written to history.
type ReadingSaved struct {
	SessionID string
	Err       error
}
