package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/withObsrvr/pypi-ingest/internal/cli/runner"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the warehouse query for the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd, runner.Options{})
		if err != nil {
			return err
		}
		p, err := r.Parameters()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), warehouse.BuildQuery(p).SQL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
