package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/mneme/internal/memory"
	"github.com/spf13/cobra"
)

var (
	rememberPin       bool
	rememberSentiment float64
	rememberCategory  string
	recallLimit       int
	cleanupMax        int
)

// rememberCmd consolidates right away so it can report whether the fact
// was kept.
var rememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Store a fact in memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		mem := s.core.Memory()
		r, err := mem.Remember(cmd.Context(), strings.Join(args, " "), memory.Meta{
			Sentiment: rememberSentiment,
			Category:  memory.Category(rememberCategory),
			Pinned:    rememberPin,
		})
		if err != nil {
			return err
		}
		res, err := mem.Consolidate(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if slices.Contains(res.Promoted, r.ID) {
			fmt.Fprintf(out, "Stored %s (%s, importance %.2f)\n", r.ID, r.Category, r.Importance)
			return nil
		}
		fmt.Fprintf(out, "Discarded %s: importance %.2f is below the promotion threshold %.2f (use --pin to keep it)\n",
			r.ID, r.Importance, s.core.Config().Memory.PromoteThreshold)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Find remembered facts similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		matches, err := s.core.Recall(cmd.Context(), strings.Join(args, " "), recallLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(matches) == 0 {
			fmt.Fprintln(out, "Nothing remembered yet.")
			return nil
		}
		for _, m := range matches {
			pin := ""
			if m.Record.Pinned {
				pin = " [pinned]"
			}
			fmt.Fprintf(out, "%s  %.3f  %s%s\n", m.Record.ID, m.Score, m.Record.Text, pin)
		}
		return nil
	},
}

func recordCmd(use, short, done string, op func(s *session, cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())
			if err := op(s, cmd, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, args[0])
			return nil
		},
	}
}

var pinCmd = recordCmd("pin", "Exempt a record from eviction", "Pinned", func(s *session, cmd *cobra.Command, id string) error {
	return s.core.Memory().Pin(cmd.Context(), id)
})

var unpinCmd = recordCmd("unpin", "Make a record evictable again", "Unpinned", func(s *session, cmd *cobra.Command, id string) error {
	return s.core.Memory().Unpin(cmd.Context(), id)
})

var forgetCmd = recordCmd("forget", "Delete a record", "Forgot", func(s *session, cmd *cobra.Command, id string) error {
	return s.core.Memory().Delete(cmd.Context(), id)
})

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run memory maintenance now",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		n, err := s.core.Memory().Rescore(cmd.Context())
		if err != nil {
			return err
		}
		if err := s.core.Maintain(cmd.Context()); err != nil {
			return err
		}
		st := s.core.Memory().Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Rescored %d records; %d episodic, %d pinned\n", n, st.Episodic, st.Pinned)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict the least important episodic records",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		keep := cleanupMax
		if !cmd.Flags().Changed("max") {
			keep = s.core.Config().Memory.MaxEpisodic
			if keep <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No episodic cap configured; pass --max")
				return nil
			}
		}
		evicted, err := s.core.Memory().Cleanup(cmd.Context(), keep)
		if err != nil {
			return err
		}
		if err := s.core.Memory().ForcePersist(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d records\n", len(evicted))
		for _, id := range evicted {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory and outbox counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		st := s.core.Memory().Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "working:        %d\n", st.Working)
		fmt.Fprintf(out, "episodic:       %d / %d\n", st.Episodic, s.core.Config().Memory.MaxEpisodic)
		fmt.Fprintf(out, "pinned:         %d\n", st.Pinned)
		fmt.Fprintf(out, "pending writes: %d\n", st.PendingWrites)
		if st.IndexEnabled {
			fmt.Fprintf(out, "indexed:        %d\n", st.IndexedRecords)
		}
		fmt.Fprintf(out, "outbox:         %d\n", s.core.Outbox().Size())
		return nil
	},
}

func init() {
	rememberCmd.Flags().BoolVar(&rememberPin, "pin", false, "Pin the record so it is never evicted")
	rememberCmd.Flags().Float64Var(&rememberSentiment, "sentiment", 0, "Sentiment in [-1,1]")
	rememberCmd.Flags().StringVar(&rememberCategory, "category", "", "Category (technical, personal, creative, educational, general)")
	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 5, "Maximum number of matches")
	cleanupCmd.Flags().IntVar(&cleanupMax, "max", 0, "Episodic records to keep (defaults to memory.max_episodic)")

	RootCmd.AddCommand(rememberCmd, recallCmd, pinCmd, unpinCmd, forgetCmd, consolidateCmd, cleanupCmd, statsCmd)
}
