// Package metrics records run metrics on a per-run Prometheus registry and
// pushes them to a Pushgateway.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/withObsrvr/pypi-ingest/internal/pipeline"
)

const namespace = "pypi_ingest"

// DefaultJob is the Pushgateway job name.
const DefaultJob = "pypi_ingest"

// Recorder holds the collectors of one run.
type Recorder struct {
	reg *prometheus.Registry

	queryDuration       prometheus.Gauge
	rowsFetched         prometheus.Gauge
	rowsStaged          prometheus.Gauge
	stepDuration        *prometheus.GaugeVec
	destinationDuration *prometheus.GaugeVec
	destinationFailures *prometheus.CounterVec
	runsTotal           *prometheus.CounterVec
	lastSuccess         prometheus.Gauge
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		queryDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall-clock duration of the warehouse query.",
		}),
		rowsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_fetched",
			Help:      "Rows returned by the warehouse query.",
		}),
		rowsStaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_staged",
			Help:      "Rows in the staged table.",
		}),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of each pipeline step.",
		}, []string{"step"}),
		destinationDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destination_write_duration_seconds",
			Help:      "Duration of each destination write.",
		}, []string{"destination"}),
		destinationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "destination_failures_total",
			Help:      "Destination writes that failed.",
		}, []string{"destination"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by status.",
		}, []string{"status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}

	collectors := []prometheus.Collector{
		r.queryDuration, r.rowsFetched, r.rowsStaged, r.stepDuration,
		r.destinationDuration, r.destinationFailures, r.runsTotal, r.lastSuccess,
	}
	for _, c := range collectors {
		if err := r.reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return r, nil
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe records the outcome of a run. res may be partial when err is set.
func (r *Recorder) Observe(res *pipeline.Result, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.runsTotal.WithLabelValues(status).Inc()
	if res == nil {
		return
	}

	r.queryDuration.Set(res.Elapsed(pipeline.StepQuery).Seconds())
	r.rowsFetched.Set(float64(res.RowsFetched))
	r.rowsStaged.Set(float64(res.RowsStaged))
	for _, s := range res.Steps {
		r.stepDuration.WithLabelValues(s.Name).Set(s.Elapsed.Seconds())
	}
	for name, d := range res.Report.Durations {
		r.destinationDuration.WithLabelValues(name).Set(d.Seconds())
	}
	if res.Report.Failed != "" {
		r.destinationFailures.WithLabelValues(res.Report.Failed).Inc()
	}
	if err == nil {
		r.lastSuccess.Set(float64(res.Finished.Unix()))
	}
}

// Push sends the registry to the Pushgateway at url, grouped by PyPI project
// and table.
func (r *Recorder) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return fmt.Errorf("metrics: pushgateway URL is required")
	}
	if job == "" {
		job = DefaultJob
	}
	pusher := push.New(url, job).Gatherer(r.reg)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
