// Package pipeline runs one ingestion: authenticate, query, validate, stage
// and fan out to the requested destinations.
package pipeline

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/credentials"
	"github.com/withObsrvr/pypi-ingest/internal/destination"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
	"github.com/withObsrvr/pypi-ingest/internal/schema"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse"
)

// Step names reported in Result.Steps.
const (
	StepAuthenticate = "authenticate"
	StepQuery        = "query"
	StepValidate     = "validate"
	StepStage        = "stage"
	StepFanOut       = "fanout"
)

// Deps are the collaborators of a run. Zero values select the production
// implementations.
type Deps struct {
	// Lookup reads the process environment.
	Lookup func(string) (string, bool)
	// Dialer replaces the BigQuery engine.
	Dialer warehouse.Dialer
	// Destinations configures destination collaborators; its Lookup and
	// CredentialsPath are filled in by the pipeline.
	Destinations destination.Options
}

// StepTiming records how long one step took.
type StepTiming struct {
	Name    string
	Elapsed time.Duration
}

// Result describes a finished or failed run.
type Result struct {
	Params      *config.RunParameters
	Query       string
	RowsFetched int64
	RowsStaged  int64
	Steps       []StepTiming
	Report      destination.Report
	Started     time.Time
	Finished    time.Time
}

// Elapsed returns the duration of step name, or zero if it did not run.
func (r *Result) Elapsed(name string) time.Duration {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Elapsed
		}
	}
	return 0
}

// Pipeline runs one ingestion.
type Pipeline struct {
	params *config.RunParameters
	deps   Deps
	logger *logrus.Entry
}

// New returns a pipeline for params.
func New(params *config.RunParameters, deps Deps) *Pipeline {
	return &Pipeline{
		params: params,
		deps:   deps,
		logger: logrus.WithFields(logrus.Fields{
			"component": "pipeline",
			"project":   params.PyPIProject,
			"table":     params.TableName,
		}),
	}
}

func (p *Pipeline) step(res *Result, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	res.Steps = append(res.Steps, StepTiming{Name: name, Elapsed: elapsed})

	log := p.logger.WithFields(logrus.Fields{"step": name, "elapsed": elapsed.String()})
	if err != nil {
		log.WithError(err).Error("Step failed")
		return err
	}
	log.Debug("Step finished")
	return nil
}

// Run executes the pipeline. The returned Result is never nil and holds
// whatever was measured before a failure.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{Params: p.params, Started: time.Now()}
	defer func() { res.Finished = time.Now() }()

	q := warehouse.BuildQuery(p.params)
	res.Query = q.SQL()

	var opts []warehouse.Option
	if p.deps.Dialer != nil {
		opts = append(opts, warehouse.WithDialer(p.deps.Dialer))
	}
	resolver := credentials.NewResolver(p.deps.Lookup)

	var client *warehouse.Client
	var credsPath string
	err := p.step(res, StepAuthenticate, func() error {
		var err error
		credsPath, err = resolver.Resolve(p.params.CredentialsPath)
		if err != nil {
			return err
		}
		client, err = warehouse.Authenticate(ctx, resolver, credsPath, p.params.GCPProject, opts...)
		return err
	})
	if err != nil {
		return res, err
	}
	defer client.Close()

	destOpts := p.deps.Destinations
	destOpts.Lookup = p.deps.Lookup
	destOpts.CredentialsPath = credsPath
	dests := destination.Build(p.params, destOpts)
	if err := destination.Check(dests); err != nil {
		p.logger.WithError(err).Error("Destination precondition failed before querying")
		return res, err
	}

	var tbl arrow.Table
	err = p.step(res, StepQuery, func() error {
		var err error
		tbl, err = client.Execute(ctx, q)
		if err != nil {
			return err
		}
		res.RowsFetched = tbl.NumRows()
		return nil
	})
	if err != nil {
		return res, err
	}
	defer tbl.Release()

	// Validation runs before the staging database is opened so a bad result
	// leaves no tables or files behind.
	err = p.step(res, StepValidate, func() error {
		return schema.Validate(tbl, schema.FileDownloads(p.params.TimestampColumn))
	})
	if err != nil {
		return res, err
	}

	eng, err := staging.Open(ctx, p.params.DuckDBPath)
	if err != nil {
		return res, &errdefs.StagingError{Table: p.params.TableName, Err: err}
	}
	defer func() {
		if err := eng.Close(); err != nil {
			p.logger.WithError(err).Warn("Failed to close staging database")
		}
	}()

	var staged *staging.Table
	err = p.step(res, StepStage, func() error {
		var err error
		staged, err = eng.Stage(ctx, tbl, p.params.TableName)
		if err != nil {
			return err
		}
		res.RowsStaged = staged.Rows
		return nil
	})
	if err != nil {
		return res, err
	}

	err = p.step(res, StepFanOut, func() error {
		var err error
		res.Report, err = destination.FanOut(ctx, eng, staged, dests)
		return err
	})
	if err != nil {
		return res, err
	}

	p.logger.WithFields(logrus.Fields{
		"rows":         res.RowsStaged,
		"destinations": res.Report.Completed,
	}).Info("Pipeline completed")
	return res, nil
}
