package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/mneme/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	askRemember  bool
	askSentiment float64
	askStream    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Answer a prompt through the generation provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		out := cmd.OutOrStdout()
		ar := runtime.AskRequest{
			Provider:  providerName,
			Prompt:    strings.Join(args, " "),
			Remember:  askRemember,
			Sentiment: askSentiment,
		}
		streamed := false
		if askStream {
			ar.OnPiece = func(piece string) {
				streamed = true
				fmt.Fprint(out, piece)
			}
		}

		ans, err := s.core.Ask(cmd.Context(), ar)
		if err != nil {
			return err
		}
		switch {
		case ans.Pending:
			fmt.Fprintf(out, "Queued as %s; it will be answered once %s is reachable.\n", ans.ItemID, ans.Provider)
			return nil
		case streamed && !ans.Degraded:
			fmt.Fprintln(out)
		default:
			if streamed {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, ans.Text)
		}
		if ans.Degraded {
			fmt.Fprintln(cmd.ErrOrStderr(), "(answered from memory; provider unavailable)")
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVarP(&askRemember, "remember", "r", false, "Store the turn in memory")
	askCmd.Flags().Float64Var(&askSentiment, "sentiment", 0, "Sentiment of the turn in [-1,1]")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "Print the answer as it streams")
	RootCmd.AddCommand(askCmd)
}
