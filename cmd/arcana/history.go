package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelbrown/arcana/internal/app"
	"github.com/abelbrown/arcana/internal/store"
	"github.com/abelbrown/arcana/internal/tarot"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		limit   int
		rawJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.cfg.FlagDBPath())
			if err != nil {
				return err
			}
			defer st.Close()

			readings, err := st.RecentReadings(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if rawJSON {
				enc := json.NewEncoder(w)
				for _, r := range readings {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			if len(readings) == 0 {
				fmt.Fprintln(w, "No readings yet. Try 'arcana insight'.")
				return nil
			}
			for _, r := range readings {
				titles := make([]string, len(r.Cards))
				for i, c := range r.Cards {
					titles[i] = tarot.Card(c).Title()
				}
				fmt.Fprintf(w, "%s  %-10s %s\n", r.Created.Local().Format("2006-01-02 15:04"), r.Interest, strings.Join(titles, ", "))
				fmt.Fprintf(w, "    %s\n\n", truncate(r.Description, 200))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of readings to show")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "output JSON lines")
	return cmd
}

func newFlagsCmd(opts *options) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Show persisted flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.cfg.FlagDBPath())
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if reset {
				for _, k := range []string{app.FlagOnboarded, app.FlagNotifications} {
					if err := st.Delete(ctx, k); err != nil {
						return err
					}
				}
			}

			flags, err := st.Flags(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(flags))
			for k := range flags {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(w, "No flags set.")
			}
			for _, k := range keys {
				fmt.Fprintf(w, "%-24s %s\n", k, flags[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear onboarding and notification flags first")
	return cmd
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
