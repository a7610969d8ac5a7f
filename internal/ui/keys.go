package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds every binding. Screens enable the ones that apply.
type keyMap struct {
	Quit   key.Binding
	Help   key.Binding
	Debug  key.Binding
	Back   key.Binding
	Home   key.Binding
	Enter  key.Binding
	Single key.Binding
	Three  key.Binding
	Cross  key.Binding
	Daily  key.Binding
	Notify key.Binding
	Pick   key.Binding
	Retry  key.Binding
	Clear  key.Binding
	Redraw key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Debug:  key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "debug")),
		Back:   key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
		Home:   key.NewBinding(key.WithKeys("H"), key.WithHelp("H", "home")),
		Enter:  key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "continue")),
		Single: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "one card")),
		Three:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "three cards")),
		Cross:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "celtic cross")),
		Daily:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "card of the day")),
		Notify: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "notifications")),
		Pick:   key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7"), key.WithHelp("1-7", "interest")),
		Retry:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		Clear:  key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear")),
		Redraw: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "redraw")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return enabled(k.Pick, k.Retry, k.Single, k.Three, k.Daily, k.Enter, k.Back, k.Help, k.Quit)
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		enabled(k.Single, k.Three, k.Cross, k.Daily, k.Notify),
		enabled(k.Pick, k.Retry, k.Clear, k.Redraw, k.Enter),
		enabled(k.Back, k.Home, k.Debug, k.Help, k.Quit),
	}
}

func enabled(bs ...key.Binding) []key.Binding {
	out := bs[:0:0]
	for _, b := range bs {
		if b.Enabled() {
			out = append(out, b)
		}
	}
	return out
}
