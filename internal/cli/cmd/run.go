package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/withObsrvr/pypi-ingest/internal/cli/runner"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse"
)

var (
	dryRun         bool
	pushgatewayURL string
	slackWebhook   string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion",
		Long:  "Query one PyPI project and date window, stage the result and write it to every requested destination",
		Args:  cobra.NoArgs,
		Example: `  pypi-ingest run --pypi-project duckdb --start-date 2023-01-01 --end-date 2023-02-01 \
    --table-name file_downloads --gcp-project my-billing-project \
    --timestamp-column timestamp --destination local,s3 --s3-path s3://bucket/pypi
  pypi-ingest run --config pypi.yaml --destination motherduck
  pypi-ingest run --env-file prod.env --dry-run`,
		RunE: runIngest,
	}
)

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate settings and print the query without running it")
	runCmd.Flags().StringVar(&pushgatewayURL, "pushgateway-url", "", "push run metrics to this Prometheus Pushgateway [$"+runner.PushgatewayEnv+"]")
	runCmd.Flags().StringVar(&slackWebhook, "slack-webhook", "", "post a run summary to this Slack incoming webhook [$SLACK_WEBHOOK_URL]")
	rootCmd.AddCommand(runCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	r, err := newRunner(cmd, runner.Options{
		PushgatewayURL: pushgatewayURL,
		SlackWebhook:   slackWebhook,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dryRun {
		p, err := r.Parameters()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		fmt.Fprintln(out, color.GreenString("✅ Settings are valid"))
		fmt.Fprintf(out, "destinations: %s\n\n", strings.Join(p.DestinationNames(), ", "))
		fmt.Fprintln(out, warehouse.BuildQuery(p).SQL())
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(out, color.GreenString("🚀 Starting ingestion"))
	res, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Fprintln(out, color.GreenString("✅ Ingested %d rows into %s", res.RowsStaged, strings.Join(res.Report.Completed, ", ")))
	return nil
}
