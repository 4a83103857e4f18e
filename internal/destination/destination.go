// Package destination writes the staged table to the requested targets.
//
// Destinations run one after another in a fixed order (s3, gcs, motherduck,
// local). The fan-out is fail-fast: the first failing destination stops the
// run, and the returned error names the destinations that completed before it.
package destination

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
)

// Destination writes a staged table somewhere.
type Destination interface {
	Name() string
	Write(ctx context.Context, eng *staging.Engine, tbl *staging.Table) error
}

// Checker is implemented by destinations with preconditions that can be
// verified before any data moves.
type Checker interface {
	Check() error
}

// Run describes the slice of data being written.
type Run struct {
	Project         string
	TimestampColumn string
	StartDate       string
	EndDate         string
	Start           time.Time
	End             time.Time
}

// RunFromParams extracts the write-relevant part of the run parameters.
func RunFromParams(p *config.RunParameters) Run {
	start, end := p.Window()
	return Run{
		Project:         p.PyPIProject,
		TimestampColumn: p.TimestampColumn,
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		Start:           start,
		End:             end,
	}
}

// Report records the outcome of a fan-out.
type Report struct {
	Completed []string
	// Failed is the destination that stopped the fan-out, if any.
	Failed    string
	Durations map[string]time.Duration
}

func rank(d Destination) int {
	if r := config.Destination(d.Name()).Rank(); r >= 0 {
		return r
	}
	return len(config.FanOutOrder)
}

func ordered(dests []Destination) []Destination {
	out := append([]Destination(nil), dests...)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// Check verifies every destination's preconditions in fan-out order and
// returns the first failure.
func Check(dests []Destination) error {
	for _, d := range ordered(dests) {
		c, ok := d.(Checker)
		if !ok {
			continue
		}
		if err := c.Check(); err != nil {
			return wrap(d.Name(), nil, err)
		}
	}
	return nil
}

// FanOut checks all preconditions, then writes tbl to each destination in
// fan-out order, stopping at the first failure.
func FanOut(ctx context.Context, eng *staging.Engine, tbl *staging.Table, dests []Destination) (Report, error) {
	report := Report{Durations: make(map[string]time.Duration)}
	logger := logrus.WithFields(logrus.Fields{
		"component": "destination",
		"table":     tbl.Name,
	})

	if err := Check(dests); err != nil {
		var dwErr *errdefs.DestinationWriteError
		if errors.As(err, &dwErr) {
			report.Failed = dwErr.Destination
		}
		logger.WithError(err).Error("Destination precondition failed; nothing written")
		return report, err
	}

	for _, d := range ordered(dests) {
		name := d.Name()
		log := logger.WithField("destination", name)
		log.Info("Writing destination")

		start := time.Now()
		err := d.Write(ctx, eng, tbl)
		report.Durations[name] = time.Since(start)
		if err != nil {
			report.Failed = name
			err = wrap(name, report.Completed, err)
			log.WithError(err).WithField("completed", report.Completed).Error("Destination write failed")
			return report, err
		}

		report.Completed = append(report.Completed, name)
		log.WithField("elapsed", report.Durations[name].String()).Info("Destination written")
	}
	return report, nil
}

func wrap(name string, completed []string, err error) error {
	done := append([]string(nil), completed...)
	var dwErr *errdefs.DestinationWriteError
	if errors.As(err, &dwErr) && dwErr.Destination == name {
		dwErr.Completed = done
		return dwErr
	}
	return &errdefs.DestinationWriteError{Destination: name, Completed: done, Err: err}
}
