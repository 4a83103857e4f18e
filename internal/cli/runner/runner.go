package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/metrics"
	"github.com/withObsrvr/pypi-ingest/internal/notify"
	"github.com/withObsrvr/pypi-ingest/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is loaded when no env file is given. A missing file is not an error.
const DefaultEnvFile = ".env"

// PushgatewayEnv names the Pushgateway used when no URL flag is given.
const PushgatewayEnv = "PUSHGATEWAY_URL"

type Options struct {
	// ConfigFile is an optional YAML, TOML or JSON file with setting keys.
	ConfigFile string
	// EnvFile is a dotenv file merged under the process environment.
	EnvFile string
	// Flags holds explicitly set flag values keyed by setting key.
	Flags map[string]string
	// Lookup reads the process environment. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)

	PushgatewayURL string
	SlackWebhook   string

	// Deps overrides pipeline collaborators. Its Lookup is always replaced.
	Deps pipeline.Deps
}

type Runner struct {
	opts   Options
	dotenv map[string]string
	file   *viper.Viper
	logger *logrus.Entry
}

// New loads the env and config files named in opts.
func New(opts Options) (*Runner, error) {
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.EnvFile == "" {
		opts.EnvFile = DefaultEnvFile
	}
	r := &Runner{
		opts:   opts,
		logger: logrus.WithField("component", "runner"),
	}

	dotenv, err := godotenv.Read(opts.EnvFile)
	switch {
	case err == nil:
		r.dotenv = dotenv
		r.logger.WithField("file", opts.EnvFile).Debug("Loaded env file")
	case os.IsNotExist(err):
		r.dotenv = map[string]string{}
	default:
		return nil, fmt.Errorf("error reading env file %s: %w", opts.EnvFile, err)
	}

	if opts.ConfigFile != "" {
		v := viper.New()
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
		r.file = v
		r.logger.WithField("file", v.ConfigFileUsed()).Debug("Loaded config file")
	}
	return r, nil
}

// Lookup reads the process environment, falling back to the env file.
func (r *Runner) Lookup(key string) (string, bool) {
	if v, ok := r.opts.Lookup(key); ok {
		return v, true
	}
	v, ok := r.dotenv[key]
	return v, ok
}

func (r *Runner) fileSource(key string) (string, bool) {
	if r.file == nil || !r.file.IsSet(key) {
		return "", false
	}
	switch v := r.file.Get(key).(type) {
	case []interface{}:
		return strings.Join(r.file.GetStringSlice(key), ","), true
	case time.Time:
		return v.Format(config.DateLayout), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// Parameters resolves the run parameters: flags, then the environment, then
// the config file.
func (r *Runner) Parameters() (*config.RunParameters, error) {
	return config.Load(
		config.MapSource(r.opts.Flags),
		config.EnvSource(r.Lookup),
		r.fileSource,
	)
}

// Run executes one ingestion and reports the outcome. Reporting failures
// are logged and never change the returned error.
func (r *Runner) Run(ctx context.Context) (*pipeline.Result, error) {
	params, err := r.Parameters()
	if err != nil {
		r.report(ctx, nil, err)
		return nil, err
	}

	deps := r.opts.Deps
	deps.Lookup = r.Lookup
	res, err := pipeline.New(params, deps).Run(ctx)
	r.report(ctx, res, err)
	return res, err
}

func (r *Runner) setting(explicit, env string) string {
	if explicit != "" {
		return explicit
	}
	v, _ := r.Lookup(env)
	return strings.TrimSpace(v)
}

func (r *Runner) report(ctx context.Context, res *pipeline.Result, runErr error) {
	if url := r.setting(r.opts.PushgatewayURL, PushgatewayEnv); url != "" {
		rec, err := metrics.NewRecorder()
		if err == nil {
			rec.Observe(res, runErr)
			err = rec.Push(ctx, url, metrics.DefaultJob, grouping(res))
		}
		if err != nil {
			r.logger.WithError(err).Warn("Failed to push metrics")
		}
	}

	var channels []string
	for _, c := range strings.Split(r.setting("", notify.ChannelEnv), ",") {
		if c = strings.TrimSpace(c); c != "" {
			channels = append(channels, c)
		}
	}
	n := notify.New(
		notify.WithWebhook(r.setting(r.opts.SlackWebhook, notify.WebhookEnv)),
		notify.WithBot(r.setting("", notify.TokenEnv), channels),
	)
	if err := n.Notify(ctx, res, runErr); err != nil {
		r.logger.WithError(err).Warn("Failed to send notification")
	}
}

func grouping(res *pipeline.Result) map[string]string {
	if res == nil || res.Params == nil {
		return nil
	}
	return map[string]string{
		"pypi_project": res.Params.PyPIProject,
		"table":        res.Params.TableName,
	}
}

// SettingsYAML renders resolved parameters as YAML in presentation order.
func SettingsYAML(p *config.RunParameters) ([]byte, error) {
	settings := p.Settings()
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range config.Fields {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: settings[f.Key], Tag: "!!str"},
		)
	}
	return yaml.Marshal(doc)
}
