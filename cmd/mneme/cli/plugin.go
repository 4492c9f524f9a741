package cli

import (
	"github.com/felixgeelhaar/mneme/internal/plugin"
	"github.com/spf13/cobra"
)

var pluginCmd = &cobra.Command{
	Use:    "plugin",
	Short:  "Built-in provider plugins",
	Hidden: true,
}

// pluginEchoCmd serves the echo adapter over the plugin protocol. Point a
// provider of type plugin at this binary with args ["plugin", "echo"].
var pluginEchoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Serve the echo adapter",
	Run: func(cmd *cobra.Command, args []string) {
		plugin.Serve(plugin.EchoRemote{})
	},
}

func init() {
	pluginCmd.AddCommand(pluginEchoCmd)
	RootCmd.AddCommand(pluginCmd)
}
