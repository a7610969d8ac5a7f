package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/arcana/internal/app"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/logging"
	"github.com/abelbrown/arcana/internal/spread"
	"github.com/abelbrown/arcana/internal/store"
	"github.com/abelbrown/arcana/internal/tarot"
	"github.com/abelbrown/arcana/internal/ui"
)

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
}

func runTUI(ctx context.Context, opts *options) error {
	rt, err := opts.start(ctx, "tui", true)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := store.Open(opts.cfg.FlagDBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	env := app.Environment{
		Flags:  st,
		Spread: spread.Environment{Insight: rt.insightEnv()},
	}
	s := engine.New(ctx, app.State{}, app.NewReducer(env),
		engine.WithName("app"),
		engine.WithEventLog(rt.events),
		engine.WithMetrics(rt.metrics),
	)
	defer s.Close()

	kind, err := tarot.ParseSpreadKind(opts.cfg.UI.DefaultKind)
	if err != nil {
		logging.Warn("ignoring default spread", "err", err)
		kind = tarot.ThreeCard
	}

	model := ui.NewApp(ui.Config{
		Store:         s,
		History:       st,
		Ring:          rt.ring,
		Events:        rt.events,
		DefaultSpread: kind,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return err
	}
	return nil
}
