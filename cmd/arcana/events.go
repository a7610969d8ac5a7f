package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// eventRecord mirrors otel.Event for JSON decoding.
// We decode from JSONL rather than importing otel to keep this
// subcommand usable even if the event schema evolves.
type eventRecord struct {
	Time      time.Time      `json:"t"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind"`
	Comp      string         `json:"comp"`
	SessionID string         `json:"session_id"`
	TaskID    string         `json:"task"`
	Key       string         `json:"key"`
	Action    string         `json:"action"`
	Interest  string         `json:"interest"`
	DurMs     float64        `json:"dur_ms"`
	Count     int            `json:"count"`
	Err       string         `json:"err"`
	Msg       string         `json:"msg"`
	Extra     map[string]any `json:"extra"`
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 0
	}
}

type eventFilter struct {
	kind     string
	level    string
	comp     string
	key      string
	interest string
	session  string
}

func (f eventFilter) match(ev eventRecord) bool {
	if f.kind != "" && !strings.HasPrefix(ev.Kind, f.kind) {
		return false
	}
	if f.level != "" && levelRank(ev.Level) < levelRank(f.level) {
		return false
	}
	if f.comp != "" && ev.Comp != f.comp {
		return false
	}
	if f.key != "" && !strings.Contains(ev.Key, f.key) {
		return false
	}
	if f.interest != "" && ev.Interest != f.interest {
		return false
	}
	if f.session != "" && !strings.HasPrefix(ev.SessionID, f.session) {
		return false
	}
	return true
}

func newEventsCmd(opts *options) *cobra.Command {
	var (
		filter  eventFilter
		tail    int
		follow  bool
		rawJSON bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "JSONL event log viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath := opts.cfg.EventLogPath()
			f, err := os.Open(logPath)
			if err != nil {
				return fmt.Errorf("event log not found at %s (run arcana first to generate events): %w", logPath, err)
			}
			defer f.Close()

			w := cmd.OutOrStdout()
			format := func(ev eventRecord, raw []byte) string {
				if rawJSON {
					return string(raw)
				}
				return formatEvent(ev)
			}

			for _, l := range readTailLines(f, tail, filter.match) {
				fmt.Fprintln(w, format(l.ev, l.raw))
			}
			if !follow {
				return nil
			}
			return followEvents(cmd.Context(), f, w, filter.match, format)
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&tail, "tail", "n", 50, "number of recent lines to show")
	fl.BoolVarP(&follow, "follow", "f", false, "follow mode (like tail -f)")
	fl.StringVar(&filter.kind, "kind", "", "filter by event kind prefix (e.g. 'effect')")
	fl.StringVar(&filter.level, "level", "", "minimum level: debug, info, warn, error")
	fl.StringVar(&filter.comp, "comp", "", "filter by component name")
	fl.StringVar(&filter.key, "key", "", "filter by cancellation key substring")
	fl.StringVar(&filter.interest, "interest", "", "filter by interest")
	fl.StringVar(&filter.session, "session", "", "filter by session id prefix")
	fl.BoolVar(&rawJSON, "json", false, "output raw JSON lines")
	return cmd
}

func formatEvent(ev eventRecord) string {
	ts := ev.Time.Format("15:04:05.000")
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-18s", ts, lvl, ev.Comp, ev.Kind)}

	if ev.Action != "" {
		parts = append(parts, ev.Action)
	}
	if ev.Key != "" {
		parts = append(parts, "key="+ev.Key)
	}
	if ev.TaskID != "" {
		parts = append(parts, "task="+shortID(ev.TaskID))
	}
	if ev.Interest != "" {
		parts = append(parts, "interest="+ev.Interest)
	}
	if ev.Msg != "" {
		parts = append(parts, "- "+ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	return strings.Join(parts, " ")
}

// followEvents polls f for appended lines until ctx is done.
func followEvents(ctx context.Context, f *os.File, w io.Writer, match func(eventRecord) bool, format func(eventRecord, []byte) string) error {
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if match(ev) {
			fmt.Fprintln(w, format(ev, line))
		}
	}
}

type parsedLine struct {
	ev  eventRecord
	raw []byte
}

// readTailLines reads r and returns the last n lines matching the filter.
func readTailLines(r io.Reader, n int, match func(eventRecord) bool) []parsedLine {
	scanner := bufio.NewScanner(r)
	// Allow large lines (some events may have big Extra maps)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	if n <= 0 {
		return nil
	}
	ring := make([]parsedLine, 0, n)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !match(ev) {
			continue
		}
		// Make a copy of raw since scanner reuses the buffer
		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)

		if len(ring) < n {
			ring = append(ring, parsedLine{ev: ev, raw: rawCopy})
		} else {
			copy(ring, ring[1:])
			ring[n-1] = parsedLine{ev: ev, raw: rawCopy}
		}
	}
	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
