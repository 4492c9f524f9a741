package cli

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/mneme/internal/config"
	"github.com/felixgeelhaar/mneme/internal/credential"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

// withVault opens storage and the credential vault for settings commands.
func withVault(cmd *cobra.Command, fn func(v *credential.Vault) error) error {
	cfg, err := loadConfig(newObserver(cmd))
	if err != nil {
		return err
	}
	s, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	v, err := openVault(s)
	if err != nil {
		return err
	}
	return fn(v)
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a stored setting; api keys and tokens are encrypted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(v *credential.Vault) error {
			if err := v.Set(args[0], args[1]); err != nil {
				return fmt.Errorf("failed to set config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", args[0])
			return nil
		})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(v *credential.Vault) error {
			val, err := v.Get(args[0])
			if err != nil {
				return err
			}
			if val == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), val)
			}
			return nil
		})
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(v *credential.Vault) error {
			all, err := v.List()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, all[k])
			}
			return nil
		})
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(newObserver(cmd))
		if err != nil {
			return err
		}
		body, err := cfg.Encode()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(body)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		res := cfg.Validate()
		out := cmd.OutOrStdout()
		if path == "" {
			path = "(defaults)"
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		if !res.Valid {
			return fmt.Errorf("%s: %d errors", path, len(res.Errors))
		}
		fmt.Fprintf(out, "%s is valid\n", path)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd, configShowCmd, configValidateCmd)
}
