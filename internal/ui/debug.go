package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/arcana/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugProblems caps the warnings and errors listed in the overlay.
const debugProblems = 5

// debugOverlay renders the debug panel showing runtime stats, recent
// warnings and errors, and recent events. dropped is the event log's drop
// count. Returns empty string if ring is nil.
func debugOverlay(ring *otel.RingBuffer, dropped uint64, width, height int) string {
	if ring == nil {
		return ""
	}

	stats := ring.Stats()
	recent := ring.Last(20)
	problems := ring.Matching(func(e otel.Event) bool {
		return e.Level == otel.LevelWarn || e.Level == otel.LevelError
	})
	if len(problems) > debugProblems {
		problems = problems[len(problems)-debugProblems:]
	}

	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Runtime Stats"))
	lines = append(lines, fmt.Sprintf("  Actions:    %d applied, %d suppressed",
		stats[otel.KindActionApplied], stats[otel.KindActionSuppressed]))
	lines = append(lines, fmt.Sprintf("  Effects:    %d started, %d cancelled, %d done, %d panics",
		stats[otel.KindEffectStart], stats[otel.KindEffectCancel], stats[otel.KindEffectDone], stats[otel.KindEffectPanic]))
	lines = append(lines, fmt.Sprintf("  Insights:   %d requested, %d loaded, %d failed, %d retried",
		stats[otel.KindInsightRequest], stats[otel.KindInsightSuccess], stats[otel.KindInsightFailure], stats[otel.KindInsightRetry]))
	lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events, %d dropped", ring.Len(), ring.Cap(), dropped))
	lines = append(lines, "")

	if len(problems) > 0 {
		lines = append(lines, DebugHeaderStyle.Render("Problems"))
		for _, e := range problems {
			lines = append(lines, eventLine(e))
		}
		lines = append(lines, "")
	}

	lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
	for _, e := range recent {
		lines = append(lines, eventLine(e))
	}

	// Truncate to fit terminal height (subtract chrome added by DebugPanel border/padding)
	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 96
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

func eventLine(e otel.Event) string {
	line := fmt.Sprintf("  %6s  %-18s", formatAge(time.Since(e.Time)), string(e.Kind))
	if e.Action != "" {
		line += "  " + truncateRunes(e.Action, 28)
	}
	if e.Key != "" {
		line += "  key:" + truncateRunes(e.Key, 30)
	}
	if e.Msg != "" {
		line += "  " + truncateRunes(e.Msg, 40)
	}
	if e.Err != "" {
		line += "  ERR:" + truncateRunes(e.Err, 30)
	}
	return line
}

// formatAge formats a duration as a compact human string.
// Handles negative durations from clock skew by clamping to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// truncateRunes shortens s to at most n runes, marking the cut with "…".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("D") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
