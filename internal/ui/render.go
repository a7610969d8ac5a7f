package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/arcana/internal/app"
	"github.com/abelbrown/arcana/internal/insight"
	"github.com/abelbrown/arcana/internal/spread"
	"github.com/abelbrown/arcana/internal/tarot"
)

// cardsPerRow wraps large layouts such as the celtic cross.
const cardsPerRow = 5

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.debugVisible {
		return debugOverlay(a.cfg.Ring, a.cfg.Events.Dropped(), a.width, a.height-1) + "\n" + debugStatusBar(a.width)
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n\n")

	top, ok := a.state.Top()
	switch {
	case !ok:
		b.WriteString(a.renderHome())
	default:
		switch p := top.Path.(type) {
		case app.SpreadPath:
			b.WriteString(a.renderSpread(p.State))
		case app.DailyPath:
			b.WriteString(renderDaily(p))
		}
	}
	b.WriteString("\n")

	if msg := a.errorLine(); msg != "" {
		b.WriteString(ErrorStyle.Width(a.width).Render(msg))
		b.WriteString("\n")
	}
	b.WriteString(StatusBar.Width(a.width).Render(a.help.View(a.keys)))
	return b.String()
}

func (a App) renderHeader() string {
	left := "ARCANA"
	if n := len(a.state.Stack); n > 0 {
		left += fmt.Sprintf(" │ %d open", n)
	}

	right := ""
	if a.busy() {
		right = a.spinner.View()
	}

	padding := a.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 0 {
		padding = 0
	}
	return Header.Render(left + strings.Repeat(" ", padding) + right)
}

func (a App) renderHome() string {
	if !a.state.FlagsLoaded {
		return HelpStyle.Render(a.spinner.View() + " Opening the deck...")
	}
	if !a.state.Onboarded {
		return Title.Render("Welcome to Arcana") + "\n" +
			HelpStyle.Render("Draw cards, choose what the reading is about, and get an insight.\nPress enter to begin.")
	}

	var b strings.Builder
	b.WriteString(Title.Render("Choose a reading"))
	b.WriteString("\n")
	for _, row := range []struct{ key, label string }{
		{"s", "one card"},
		{"t", "past, present, future"},
		{"c", "celtic cross"},
		{"d", "card of the day"},
	} {
		fmt.Fprintf(&b, "  %s  %s\n", InterestKey.Render(row.key), row.label)
	}

	notify := "off"
	if a.state.NotificationsEnabled {
		notify = "on"
	}
	b.WriteString(StatusBarText.Render(fmt.Sprintf("\n  daily reminders: %s (n to toggle)", notify)))
	return b.String()
}

func (a App) renderSpread(s spread.State) string {
	var b strings.Builder
	b.WriteString(Title.Render(spreadTitle(s.Kind)))
	b.WriteString("\n")

	if s.Drawing || len(s.Cards) == 0 {
		b.WriteString(HelpStyle.Render(a.spinner.View() + " Shuffling..."))
		return b.String()
	}
	b.WriteString(renderCards(s.Cards))
	b.WriteString("\n\n")
	b.WriteString(renderInterests(s.Insight.Selected))
	b.WriteString("\n")
	b.WriteString(a.renderInsight(s.Insight))
	return b.String()
}

func (a App) renderInsight(s insight.State) string {
	width := a.width - 4
	if width < 20 {
		width = 20
	}
	switch {
	case s.Loading:
		return HelpStyle.Render(fmt.Sprintf("%s Reading the cards for %s...", a.spinner.View(), s.Selected))
	case s.HasValidInsight():
		return InsightText.Width(width).Render(s.Loaded.Description)
	case s.LastError != nil:
		msg := ErrorStyle.Width(width).Render(s.LastError.UserMessage())
		if s.CanRetry() {
			msg += "\n" + StatusBarText.Render(fmt.Sprintf("  press r to try again (%d of %d used)", s.RetryCount, insight.MaxRetryCount))
		}
		return msg
	case s.Selected == "":
		return HelpStyle.Render("Pick what this reading is about.")
	}
	return ""
}

func renderDaily(d app.DailyPath) string {
	var b strings.Builder
	b.WriteString(Title.Render("Card of the day"))
	b.WriteString("\n")
	if !d.Revealed {
		b.WriteString(HiddenCard.Render("?"))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press enter to turn it over."))
		return b.String()
	}
	b.WriteString(CardStyle.Render(d.Card.Title()))
	return b.String()
}

func renderCards(cards []tarot.Card) string {
	var rows []string
	for start := 0; start < len(cards); start += cardsPerRow {
		end := min(start+cardsPerRow, len(cards))
		boxes := make([]string, 0, end-start)
		for i, c := range cards[start:end] {
			boxes = append(boxes, CardStyle.Render(fmt.Sprintf("%d. %s", start+i+1, c.Title())))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderInterests(selected tarot.Interest) string {
	var parts []string
	for i, in := range tarot.Interests() {
		label := fmt.Sprintf("%d %s", i+1, in)
		if in == selected {
			parts = append(parts, InterestSelected.Render(label))
			continue
		}
		parts = append(parts, InterestNormal.Render(label))
	}
	return strings.Join(parts, " ")
}

func spreadTitle(k tarot.SpreadKind) string {
	switch k {
	case tarot.SingleCard:
		return "One card"
	case tarot.ThreeCard:
		return "Past, present, future"
	case tarot.CelticCross:
		return "Celtic cross"
	}
	return string(k)
}

// busy reports whether the visible screen is waiting on an effect.
func (a App) busy() bool {
	if !a.state.FlagsLoaded {
		return true
	}
	top, ok := a.state.Top()
	if !ok {
		return false
	}
	sp, ok := top.Path.(app.SpreadPath)
	return ok && (sp.State.Drawing || sp.State.Insight.Loading)
}

func (a App) errorLine() string {
	switch {
	case a.status != "":
		return a.status
	case a.state.FlagError != "":
		return "settings: " + a.state.FlagError
	}
	return ""
}
