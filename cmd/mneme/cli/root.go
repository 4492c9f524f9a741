package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	verbose      bool
	ciMode       bool
	providerName string
	ephemeral    bool
	offline      bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "mneme",
	Short: "Resilient memory and provider core",
	Long: `mneme answers prompts through configured model providers, remembers
conversation turns with importance scoring, and parks work in an offline
outbox until the network returns.`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .json or .jsonc); defaults to ~/.mneme/config.yaml")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&ciMode, "ci", false, "CI mode: JSON logs, non-interactive")
	RootCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "generation", "Registered provider to answer with")
	RootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep all state in memory for this run")
	RootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Start disconnected; generation requests are queued")
}
