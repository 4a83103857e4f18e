// Package warehouse builds and runs the download-events query against BigQuery
// and materializes the result as an Arrow table.
package warehouse

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/credentials"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
	"google.golang.org/api/option"
)

// Engine runs a query remotely and returns its result as one table.
type Engine interface {
	Run(ctx context.Context, q Query) (arrow.Table, error)
	Close() error
}

// Dialer opens an Engine for a billing project with a credentials file.
type Dialer func(ctx context.Context, project, credentialsPath string) (Engine, error)

// Client is an authenticated warehouse handle.
type Client struct {
	project string
	engine  Engine
	logger  *logrus.Entry
}

type clientOptions struct {
	dial   Dialer
	logger *logrus.Entry
}

// Option customizes Authenticate.
type Option func(*clientOptions)

// WithDialer replaces the BigQuery dialer, typically with a fixture engine.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) { o.dial = d }
}

// WithLogger replaces the default component logger.
func WithLogger(l *logrus.Entry) Option {
	return func(o *clientOptions) { o.logger = l }
}

// Authenticate resolves the credentials path and opens a client billed to project.
func Authenticate(ctx context.Context, resolver *credentials.Resolver, explicitPath, project string, opts ...Option) (*Client, error) {
	o := clientOptions{
		dial:   DialBigQuery,
		logger: logrus.WithField("component", "warehouse"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	path, err := resolver.Resolve(explicitPath)
	if err != nil {
		return nil, err
	}

	info, err := credentials.Inspect(path)
	if err != nil {
		return nil, &errdefs.AuthenticationError{Project: project, Err: err}
	}
	o.logger.WithFields(logrus.Fields{
		"project":      project,
		"key_type":     info.Type,
		"key_project":  info.ProjectID,
		"client_email": info.ClientEmail,
	}).Debug("Loaded credentials metadata")

	engine, err := o.dial(ctx, project, path)
	if err != nil {
		return nil, &errdefs.AuthenticationError{Project: project, Err: err}
	}

	return &Client{project: project, engine: engine, logger: o.logger}, nil
}

// Execute runs q once and returns the result table. The caller owns the table
// and must Release it.
func (c *Client) Execute(ctx context.Context, q Query) (arrow.Table, error) {
	text := q.SQL()
	log := c.logger.WithField("project", c.project)
	log.Infof("Executing query:\n%s", text)

	start := time.Now()
	tbl, err := c.engine.Run(ctx, q)
	elapsed := time.Since(start)
	if err != nil {
		log.WithFields(logrus.Fields{
			"elapsed": elapsed.String(),
			"query":   text,
		}).WithError(err).Error("Query failed")
		return nil, &errdefs.QueryExecutionError{Query: text, Elapsed: elapsed, Err: err}
	}

	log.WithFields(logrus.Fields{
		"elapsed": elapsed.String(),
		"rows":    tbl.NumRows(),
	}).Infof("Query executed successfully in %.2f seconds", elapsed.Seconds())
	return tbl, nil
}

// Close releases the underlying engine.
func (c *Client) Close() error {
	if c.engine == nil {
		return nil
	}
	return c.engine.Close()
}

type bigQueryEngine struct {
	client *bigquery.Client
	alloc  memory.Allocator
}

// DialBigQuery opens a BigQuery client with the Storage Read API enabled so
// results stream back as Arrow record batches.
func DialBigQuery(ctx context.Context, project, credentialsPath string) (Engine, error) {
	client, err := bigquery.NewClient(ctx, project, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create BigQuery client")
	}
	if err := client.EnableStorageReadClient(ctx, option.WithCredentialsFile(credentialsPath)); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to enable BigQuery storage read client")
	}
	return &bigQueryEngine{client: client, alloc: memory.NewGoAllocator()}, nil
}

func (e *bigQueryEngine) Run(ctx context.Context, q Query) (arrow.Table, error) {
	text, params := q.Parameterized()
	bq := e.client.Query(text)
	bq.Parameters = params

	job, err := bq.Run(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start query job")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed waiting for query job")
	}
	if err := status.Err(); err != nil {
		return nil, errors.Wrapf(err, "query job %s failed", job.ID())
	}

	// Reading through the job keeps results on the Storage Read API.
	it, err := job.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read query results")
	}
	if !it.IsAccelerated() {
		return nil, errors.New("query results are not served by the storage read API")
	}
	arrowIt, err := it.ArrowIterator()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open arrow iterator")
	}

	rdr, err := ipc.NewReader(bigquery.NewArrowIteratorReader(arrowIt), ipc.WithAllocator(e.alloc))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open arrow stream")
	}
	defer rdr.Release()

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := rdr.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read arrow stream")
	}

	return array.NewTableFromRecords(rdr.Schema(), records), nil
}

func (e *bigQueryEngine) Close() error {
	return e.client.Close()
}
