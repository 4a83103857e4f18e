package warehouse

import (
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/withObsrvr/pypi-ingest/internal/config"
)

// PublicDataset is the namespace holding the PyPI tables.
const PublicDataset = "bigquery-public-data.pypi"

const queryTemplate = `SELECT
    *
FROM
    ` + "`%s`" + `
WHERE
    project = %s
    AND %s >= %s
    AND %s < %s`

// Query selects one project's download events over a half-open time window.
type Query struct {
	Table           string
	Project         string
	TimestampColumn string
	StartDate       string
	EndDate         string

	start time.Time
	end   time.Time
}

// BuildQuery derives the query for a run. It performs no I/O.
func BuildQuery(p *config.RunParameters) Query {
	start, end := p.Window()
	return Query{
		Table:           p.TableName,
		Project:         p.PyPIProject,
		TimestampColumn: p.TimestampColumn,
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		start:           start,
		end:             end,
	}
}

// FullTableName returns the fully qualified source table.
func (q Query) FullTableName() string {
	return PublicDataset + "." + q.Table
}

// SQL renders the statement with literal values, as logged and shown to operators.
func (q Query) SQL() string {
	return fmt.Sprintf(queryTemplate,
		q.FullTableName(),
		"'"+q.Project+"'",
		q.TimestampColumn, "'"+q.StartDate+"'",
		q.TimestampColumn, "'"+q.EndDate+"'",
	)
}

// Parameterized renders the statement with named parameters and returns the
// bindings. Only validated identifiers are interpolated.
func (q Query) Parameterized() (string, []bigquery.QueryParameter) {
	text := fmt.Sprintf(queryTemplate,
		q.FullTableName(),
		"@project",
		q.TimestampColumn, "@start_date",
		q.TimestampColumn, "@end_date",
	)
	params := []bigquery.QueryParameter{
		{Name: "project", Value: q.Project},
		{Name: "start_date", Value: q.start},
		{Name: "end_date", Value: q.end},
	}
	return text, params
}

// Window returns the half-open [start, end) bounds of the query.
func (q Query) Window() (time.Time, time.Time) {
	return q.start, q.end
}
