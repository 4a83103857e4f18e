// Package notify posts a run summary to Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/withObsrvr/pypi-ingest/internal/pipeline"
)

// Environment variables read by the CLI to configure notifications.
const (
	WebhookEnv = "SLACK_WEBHOOK_URL"
	TokenEnv   = "SLACK_TOKEN"
	ChannelEnv = "SLACK_CHANNEL"
)

// Notifier sends run summaries through an incoming webhook or, with a bot
// token, to a list of channels.
type Notifier struct {
	webhookURL string
	client     *slack.Client
	channels   []string
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithWebhook posts through an incoming webhook.
func WithWebhook(url string) Option {
	return func(n *Notifier) { n.webhookURL = url }
}

// WithBot posts with a bot token to each channel.
func WithBot(token string, channels []string, opts ...slack.Option) Option {
	return func(n *Notifier) {
		if token == "" {
			return
		}
		n.client = slack.New(token, opts...)
		n.channels = channels
	}
}

// New returns a notifier. It returns nil when nothing is configured.
func New(opts ...Option) *Notifier {
	n := &Notifier{}
	for _, opt := range opts {
		opt(n)
	}
	if n.webhookURL == "" && (n.client == nil || len(n.channels) == 0) {
		return nil
	}
	return n
}

// Notify posts the outcome of a run.
func (n *Notifier) Notify(ctx context.Context, res *pipeline.Result, runErr error) error {
	if n == nil {
		return nil
	}
	text := Summary(res, runErr)

	var errs []error
	if n.webhookURL != "" {
		msg := &slack.WebhookMessage{Text: text}
		if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
			errs = append(errs, fmt.Errorf("error sending slack webhook: %w", err))
		}
	}
	for _, channel := range n.channels {
		_, _, err := n.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
		if err != nil {
			errs = append(errs, fmt.Errorf("error sending slack message to %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// Summary renders a one-message description of a run.
func Summary(res *pipeline.Result, runErr error) string {
	var b strings.Builder
	status := ":white_check_mark: pypi-ingest succeeded"
	if runErr != nil {
		status = ":x: pypi-ingest failed"
	}
	b.WriteString(status)

	if res != nil && res.Params != nil {
		p := res.Params
		fmt.Fprintf(&b, " for %s [%s, %s) into %s", p.PyPIProject, p.StartDate, p.EndDate, p.TableName)
	}
	b.WriteString("\n")

	if res != nil {
		fmt.Fprintf(&b, "rows fetched: %d, rows staged: %d\n", res.RowsFetched, res.RowsStaged)
		if len(res.Report.Completed) > 0 {
			fmt.Fprintf(&b, "destinations written: %s\n", strings.Join(res.Report.Completed, ", "))
		}
		if res.Report.Failed != "" {
			fmt.Fprintf(&b, "destination failed: %s\n", res.Report.Failed)
		}
		if !res.Finished.IsZero() {
			fmt.Fprintf(&b, "duration: %s\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
		}
	}
	if runErr != nil {
		fmt.Fprintf(&b, "error: %v\n", runErr)
	}
	return strings.TrimRight(b.String(), "\n")
}
