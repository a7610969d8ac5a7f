package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/insight"
	"github.com/abelbrown/arcana/internal/logging"
	"github.com/abelbrown/arcana/internal/otel"
	"github.com/abelbrown/arcana/internal/spread"
	"github.com/abelbrown/arcana/internal/store"
	"github.com/abelbrown/arcana/internal/tarot"
)

// maxConcurrentReadings limits parallel sessions in one insight run.
const maxConcurrentReadings = 4

func newInsightCmd(opts *options) *cobra.Command {
	var (
		interests []string
		kindName  string
		seed      uint64
		retry     bool
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "insight",
		Short: "Deal a spread and read it for one or more interests",
		Example: `  arcana insight --interest love
  arcana insight -i love,money,career --spread cross --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := tarot.ParseSpreadKind(orDefault(kindName, opts.cfg.UI.DefaultKind))
			if err != nil {
				return err
			}
			parsed := make([]tarot.Interest, 0, len(interests))
			for _, s := range interests {
				in, err := tarot.ParseInterest(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, in)
			}
			if len(parsed) == 0 {
				return errors.New("at least one --interest is required")
			}

			ctx := cmd.Context()
			rt, err := opts.start(ctx, "insight", false)
			if err != nil {
				return err
			}
			defer rt.close()

			cards := tarot.Draw(newRand(seed), kind.CardCount())
			results, err := readAll(ctx, rt, kind, cards, parsed, retry)
			if err != nil {
				return err
			}
			printReadings(cmd.OutOrStdout(), cards, results)

			if save {
				return saveReadings(ctx, opts.cfg.FlagDBPath(), results)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&interests, "interest", "i", []string{string(tarot.Love)}, "interests to read for, comma separated")
	f.StringVarP(&kindName, "spread", "s", "", "single, three or cross (config default when empty)")
	f.Uint64Var(&seed, "seed", 0, "deal deterministically from this seed (0 = random)")
	f.BoolVar(&retry, "retry", true, "retry failed loads up to the limit")
	f.BoolVar(&save, "save", true, "record successful readings in history")
	return cmd
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// readAll reads the same cards for every interest concurrently, one spread
// store per interest.
func readAll(ctx context.Context, rt *runtime, kind tarot.SpreadKind, cards []tarot.Card, interests []tarot.Interest, retry bool) ([]spread.State, error) {
	results := make([]spread.State, len(interests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReadings)
	for i, in := range interests {
		g.Go(func() error {
			s, err := readSpread(gctx, rt, kind, cards, in, retry)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// readSpread runs one session to a settled insight: loaded, or failed with
// no retry left (or retry disabled).
func readSpread(ctx context.Context, rt *runtime, kind tarot.SpreadKind, cards []tarot.Card, interest tarot.Interest, retry bool) (spread.State, error) {
	env := spread.Environment{
		Draw:    func(int) []tarot.Card { return cards },
		Insight: rt.insightEnv(),
	}
	s := engine.New(ctx, spread.NewState(uuid.NewString(), kind), spread.NewReducer(env),
		engine.WithName("insight/"+string(interest)),
		engine.WithEventLog(rt.events),
		engine.WithMetrics(rt.metrics),
	)
	defer s.Close()

	s.Send(spread.Draw{})
	st, err := await(ctx, s, func(st spread.State) bool { return len(st.Cards) > 0 && !st.Drawing })
	if err != nil {
		return st, err
	}

	s.Send(spread.SelectInterest{Interest: interest})
	for {
		st, err = await(ctx, s, settled(st.Insight.RetryCount))
		if err != nil {
			return st, err
		}
		in := st.Insight
		if !retry || in.HasValidInsight() || !in.CanRetry() {
			return st, nil
		}
		logging.Warn("retrying insight", "interest", interest, "failures", in.RetryCount, "err", in.LastError)
		rt.events.Warn(otel.KindInsightRetry, "insight/"+string(interest),
			fmt.Sprintf("attempt %d after %s", in.RetryCount+1, in.LastError.Kind))
		s.Send(spread.RetryInsight{})
	}
}

// settled matches the state after the attempt that follows prevFailures
// failures: a loaded insight or one more failure.
func settled(prevFailures int) func(spread.State) bool {
	return func(s spread.State) bool {
		in := s.Insight
		return !in.Loading && (in.Loaded != nil || in.RetryCount > prevFailures)
	}
}

// await blocks until st publishes a state matching done.
func await[S, A any](ctx context.Context, st *engine.Store[S, A], done func(S) bool) (S, error) {
	ch := st.Subscribe()
	defer st.Unsubscribe(ch)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return st.State(), err
				}
				return st.State(), errors.New("store closed")
			}
			if done(s) {
				return s, nil
			}
		case <-ctx.Done():
			return st.State(), ctx.Err()
		}
	}
}

func printReadings(w io.Writer, cards []tarot.Card, results []spread.State) {
	titles := make([]string, len(cards))
	for i, c := range cards {
		titles[i] = fmt.Sprintf("%d. %s", i+1, c.Title())
	}
	fmt.Fprintf(w, "Cards: %s\n", strings.Join(titles, "  "))

	for _, s := range results {
		in := s.Insight
		fmt.Fprintf(w, "\n== %s ==\n", in.Selected)
		switch {
		case in.HasValidInsight():
			fmt.Fprintln(w, in.Loaded.Description)
		case in.LastError != nil:
			fmt.Fprintf(w, "%s (%s, %d/%d attempts failed)\n", in.LastError.UserMessage(), in.LastError.Kind, in.RetryCount, insight.MaxRetryCount)
		}
	}
}

func saveReadings(ctx context.Context, dbPath string, results []spread.State) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, s := range results {
		if !s.Insight.HasValidInsight() {
			continue
		}
		r := store.Reading{
			SessionID:   s.ID,
			Interest:    string(s.Insight.Loaded.Interest),
			Description: s.Insight.Loaded.Description,
		}
		for _, c := range s.Cards {
			r.Cards = append(r.Cards, string(c))
		}
		if _, err := st.SaveReading(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
