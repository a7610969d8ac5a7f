package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/abelbrown/arcana/internal/app"
	"github.com/abelbrown/arcana/internal/otel"
	"github.com/abelbrown/arcana/internal/spread"
	"github.com/abelbrown/arcana/internal/store"
	"github.com/abelbrown/arcana/internal/tarot"
)

// Dispatcher is the part of the engine the UI talks to.
type Dispatcher interface {
	Send(app.Action) bool
	Subscribe() <-chan app.State
}

// History records loaded readings.
type History interface {
	SaveReading(ctx context.Context, r store.Reading) (int64, error)
}

// Config wires the model to the running app.
type Config struct {
	Store   Dispatcher
	History History          // optional
	Ring    *otel.RingBuffer // optional; enables the debug overlay
	Events  *otel.Logger     // optional

	// DefaultSpread opens on enter from the home screen.
	DefaultSpread tarot.SpreadKind

	NewSessionID func() string    // uuid.NewString when nil
	Now          func() time.Time // time.Now when nil
}

// App is the root Bubble Tea model.
// IMPORTANT: App holds no domain state of its own. It renders the latest
// app.State and turns key presses into actions.
type App struct {
	cfg     Config
	updates <-chan app.State
	state   app.State

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	// saved tracks readings already written so a repeated state does not
	// write them twice. Shared between copies of App.
	saved map[string]bool

	status       string
	debugVisible bool
	width        int
	height       int
	ready        bool
}

// NewApp subscribes to cfg.Store and returns the model.
func NewApp(cfg Config) App {
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultSpread.CardCount() == 0 {
		cfg.DefaultSpread = tarot.ThreeCard
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = InterestKey

	a := App{
		cfg:     cfg,
		updates: cfg.Store.Subscribe(),
		keys:    defaultKeys(),
		help:    help.New(),
		spinner: s,
		saved:   make(map[string]bool),
	}
	a.syncKeys()
	return a
}

// Init starts the app and begins listening for state.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		a.spinner.Tick,
		a.send(app.Start{Today: a.cfg.Now()}),
		waitForState(a.updates),
	)
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		a.ready = true
		return a, nil

	case StateChanged:
		a.state = msg.State
		a.syncKeys()
		return a, tea.Batch(waitForState(a.updates), a.saveNewReadings())

	case StoreClosed:
		return a, tea.Quit

	case ReadingSaved:
		if msg.Err != nil {
			a.cfg.Events.Error(otel.KindStoreError, "ui", msg.Err)
			a.status = "history: " + msg.Err.Error()
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKeyMsg(msg)
	}
	return a, nil
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.cfg.Events.Emit(otel.Event{Kind: otel.KindKeyPress, Comp: "ui", Msg: msg.String()})
	a.status = ""

	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Debug):
		a.debugVisible = !a.debugVisible
		return a, nil
	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
		return a, nil
	}
	if a.debugVisible {
		return a, nil
	}

	top, ok := a.state.Top()
	if !ok {
		return a, a.homeKey(msg)
	}
	switch p := top.Path.(type) {
	case app.SpreadPath:
		return a, a.spreadKey(top.ID, p.State, msg)
	case app.DailyPath:
		return a, a.dailyKey(top.ID, p, msg)
	}
	return a, nil
}

func (a App) homeKey(msg tea.KeyMsg) tea.Cmd {
	if a.onboarding() {
		if key.Matches(msg, a.keys.Enter) {
			return a.send(app.CompleteOnboarding{})
		}
		return nil
	}
	switch {
	case key.Matches(msg, a.keys.Enter):
		return a.pushSpread(a.cfg.DefaultSpread)
	case key.Matches(msg, a.keys.Single):
		return a.pushSpread(tarot.SingleCard)
	case key.Matches(msg, a.keys.Three):
		return a.pushSpread(tarot.ThreeCard)
	case key.Matches(msg, a.keys.Cross):
		return a.pushSpread(tarot.CelticCross)
	case key.Matches(msg, a.keys.Daily):
		return a.send(app.PushDaily{})
	case key.Matches(msg, a.keys.Notify):
		return a.send(app.SetNotifications{Enabled: !a.state.NotificationsEnabled})
	}
	return nil
}

func (a App) spreadKey(id app.ElementID, s spread.State, msg tea.KeyMsg) tea.Cmd {
	element := func(sa spread.Action) app.Action {
		return app.Element{ID: id, Action: app.SpreadAction{Action: sa}}
	}
	switch {
	case key.Matches(msg, a.keys.Pick):
		interests := tarot.Interests()
		i := int(msg.String()[0] - '1')
		if i < 0 || i >= len(interests) {
			return nil
		}
		return a.send(element(spread.SelectInterest{Interest: interests[i]}))
	case key.Matches(msg, a.keys.Retry):
		if !retryOffered(s) {
			return nil
		}
		return a.send(element(spread.RetryInsight{}))
	case key.Matches(msg, a.keys.Clear):
		return a.send(element(spread.ClearInsight{}))
	case key.Matches(msg, a.keys.Redraw):
		return a.send(element(spread.Draw{}))
	case key.Matches(msg, a.keys.Back):
		return a.send(app.Pop{})
	case key.Matches(msg, a.keys.Home):
		return a.home()
	}
	return nil
}

func (a App) dailyKey(id app.ElementID, d app.DailyPath, msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, a.keys.Enter):
		return a.send(app.Element{ID: id, Action: app.DailyAction{Reveal: !d.Revealed}})
	case key.Matches(msg, a.keys.Back):
		return a.send(app.Pop{})
	case key.Matches(msg, a.keys.Home):
		return a.home()
	}
	return nil
}

func (a App) pushSpread(kind tarot.SpreadKind) tea.Cmd {
	return a.send(app.PushSpread{Kind: kind, SessionID: a.cfg.NewSessionID()})
}

// home closes every screen. PopTo keeps the bottom one, so it is popped too.
func (a App) home() tea.Cmd {
	if len(a.state.Stack) == 0 {
		return nil
	}
	return a.send(app.PopTo{ID: a.state.Stack[0].ID}, app.Pop{})
}

// send dispatches actions in order off the update goroutine, since Send
// blocks while the inbox is full.
func (a App) send(actions ...app.Action) tea.Cmd {
	dispatcher := a.cfg.Store
	return func() tea.Msg {
		for _, act := range actions {
			if !dispatcher.Send(act) {
				return StoreClosed{}
			}
		}
		return nil
	}
}

// waitForState blocks until the next committed state.
func waitForState(ch <-chan app.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return StoreClosed{}
		}
		return StateChanged{State: s}
	}
}

// saveNewReadings writes every loaded insight on the stack that has not
// been written yet.
func (a App) saveNewReadings() tea.Cmd {
	if a.cfg.History == nil {
		return nil
	}
	var cmds []tea.Cmd
	for _, e := range a.state.Stack {
		sp, ok := e.Path.(app.SpreadPath)
		if !ok || !sp.State.Insight.HasValidInsight() {
			continue
		}
		s := sp.State
		loaded := s.Insight.Loaded
		id := s.ID + "\x00" + string(loaded.Interest) + "\x00" + loaded.Description
		if a.saved[id] {
			continue
		}
		a.saved[id] = true

		r := store.Reading{
			SessionID:   s.ID,
			Interest:    string(loaded.Interest),
			Description: loaded.Description,
			Created:     a.cfg.Now(),
		}
		for _, c := range s.Cards {
			r.Cards = append(r.Cards, string(c))
		}
		history := a.cfg.History
		cmds = append(cmds, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := history.SaveReading(ctx, r)
			return ReadingSaved{SessionID: r.SessionID, Err: err}
		})
	}
	return tea.Batch(cmds...)
}

func (a App) onboarding() bool {
	return a.state.FlagsLoaded && !a.state.Onboarded
}

// retryOffered reports whether the retry affordance is shown for s.
func retryOffered(s spread.State) bool {
	return s.Insight.LastError != nil && s.Insight.CanRetry()
}

// syncKeys enables the bindings that apply to the visible screen.
func (a *App) syncKeys() {
	k := &a.keys
	top, ok := a.state.Top()
	var onSpread, onDaily bool
	var sp spread.State
	if ok {
		switch p := top.Path.(type) {
		case app.SpreadPath:
			onSpread, sp = true, p.State
		case app.DailyPath:
			onDaily = true
		}
	}
	home := !ok
	onboarding := home && a.onboarding()

	k.Debug.SetEnabled(a.cfg.Ring != nil)
	k.Single.SetEnabled(home && !onboarding)
	k.Three.SetEnabled(home && !onboarding)
	k.Cross.SetEnabled(home && !onboarding)
	k.Daily.SetEnabled(home && !onboarding)
	k.Notify.SetEnabled(home && !onboarding)
	k.Enter.SetEnabled(home || onDaily)
	k.Pick.SetEnabled(onSpread && len(sp.Cards) > 0)
	k.Retry.SetEnabled(onSpread && retryOffered(sp))
	k.Clear.SetEnabled(onSpread && sp.Insight.Selected != "")
	k.Redraw.SetEnabled(onSpread)
	k.Back.SetEnabled(!home)
	k.Home.SetEnabled(!home)
}

// State returns the last rendered state (for testing).
func (a App) State() app.State {
	return a.state
}
