package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the web through the websearch provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.Context())

		hits, err := s.core.Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(hits) == 0 {
			fmt.Fprintln(out, "No results.")
			return nil
		}
		for i, h := range hits {
			fmt.Fprintf(out, "%d. %s\n   %s\n", i+1, h.Title, h.URL)
			if h.Snippet != "" {
				fmt.Fprintf(out, "   %s\n", h.Snippet)
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum number of results")
	RootCmd.AddCommand(searchCmd)
}
