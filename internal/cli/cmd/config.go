package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/withObsrvr/pypi-ingest/internal/cli/runner"
	"github.com/withObsrvr/pypi-ingest/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect run settings",
	Long:  `Commands for resolving and checking run settings from flags, the environment and config files.`,
}

// showCmd prints the resolved settings
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved settings as YAML",
	Long: `Resolve settings the same way "run" does (flags, then the environment and
env file, then the config file), validate them and print the result as YAML.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd, runner.Options{})
		if err != nil {
			return err
		}
		p, err := r.Parameters()
		if err != nil {
			return err
		}
		out, err := runner.SettingsYAML(p)
		if err != nil {
			return fmt.Errorf("rendering settings: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// keysCmd lists every setting with its flag and environment variable
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List every setting key",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		for _, f := range config.Fields {
			env := f.Env
			if env == "" {
				env = "-"
			}
			usage := f.Usage
			if f.Required {
				usage += color.YellowString(" (required)")
			}
			fmt.Fprintf(out, "%-18s --%-18s %-20s %s\n", f.Key, flagName(f.Key), env, usage)
		}
	},
}

func init() {
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(configCmd)
}
