package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/felixgeelhaar/mneme/internal/outbox"
	"github.com/spf13/cobra"
)

var drainForce bool

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and replay requests queued while offline",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued requests, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		items := s.core.Outbox().Peek()
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "Outbox is empty.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOPERATION\tQUEUED\tATTEMPTS\tLAST ERROR")
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", it.ID, it.OperationType, it.QueuedAt.Format(time.RFC3339), it.Attempts, it.LastError)
		}
		return w.Flush()
	},
}

var outboxDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued requests now",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		var opts []outbox.DrainOption
		if drainForce {
			opts = append(opts, outbox.IgnoreBackoff())
		}
		rep, err := s.core.Outbox().Drain(cmd.Context(), opts...)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Replayed %d, failed %d, deferred %d, remaining %d\n", rep.Replayed, rep.Failed, rep.Deferred, rep.Remaining)
		for _, id := range rep.FailedIDs {
			fmt.Fprintf(out, "  failed: %s\n", id)
		}
		return err
	},
}

var outboxRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Drop a queued request without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		if err := s.core.Outbox().Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

func init() {
	outboxDrainCmd.Flags().BoolVarP(&drainForce, "force", "f", false, "Replay items still in their backoff window")
	outboxCmd.AddCommand(outboxListCmd, outboxDrainCmd, outboxRemoveCmd)
	RootCmd.AddCommand(outboxCmd)
}
