package cmd

import (
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/withObsrvr/pypi-ingest/internal/cli/runner"
	"github.com/withObsrvr/pypi-ingest/internal/config"
)

var (
	cfgFile string
	envFile string
	verbose bool

	// settings holds one flag value per run setting, keyed by setting key.
	settings = make(map[string]*string, len(config.Fields))

	rootCmd = &cobra.Command{
		Use:   "pypi-ingest",
		Short: "Copy PyPI download statistics out of BigQuery",
		Long: color.CyanString(`pypi-ingest - Query bigquery-public-data.pypi for one package and date window,
stage the rows in DuckDB and write them to local files, S3, GCS or MotherDuck`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file with run settings (yaml, toml or json)")
	flags.StringVar(&envFile, "env-file", runner.DefaultEnvFile, "dotenv file loaded under the process environment")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	for _, f := range config.Fields {
		usage := f.Usage
		if f.Env != "" {
			usage += " [$" + f.Env + "]"
		}
		settings[f.Key] = flags.String(flagName(f.Key), "", usage)
	}
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// explicitSettings returns the setting flags the user actually passed.
func explicitSettings(cmd *cobra.Command) map[string]string {
	out := make(map[string]string)
	for key, value := range settings {
		if f := cmd.Flag(flagName(key)); f != nil && f.Changed {
			out[key] = *value
		}
	}
	return out
}

func newRunner(cmd *cobra.Command, opts runner.Options) (*runner.Runner, error) {
	opts.ConfigFile = cfgFile
	opts.EnvFile = envFile
	opts.Flags = explicitSettings(cmd)
	return runner.New(opts)
}
