package otel

import (
	"os"
	"sync/atomic"
)

// traceEnabled is read on every applied action.
var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("ARCANA_TRACE") != "")
}

// TraceEnabled reports whether per-action trace events are on. ARCANA_TRACE
// turns them on at startup.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

func setTraceEnabled(v bool) {
	traceEnabled.Store(v)
}
