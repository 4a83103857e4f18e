package destination

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse/warehousetest"
)

var januaryRun = Run{
	Project:         "duckdb",
	TimestampColumn: "timestamp",
	StartDate:       "2023-01-01",
	EndDate:         "2023-02-01",
	Start:           time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	End:             time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
}

func fixedNow() time.Time {
	return time.Date(2023, 2, 2, 6, 0, 0, 0, time.UTC)
}

// stage opens an in-memory engine and stages rows as file_downloads.
func stage(t *testing.T, rows []warehousetest.Download) (*staging.Engine, *staging.Table) {
	t.Helper()
	ctx := context.Background()
	eng, err := staging.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	tbl := warehousetest.Table("timestamp", rows)
	defer tbl.Release()

	staged, err := eng.Stage(ctx, tbl, "file_downloads")
	require.NoError(t, err)
	return eng, staged
}

func januaryRows() []warehousetest.Download {
	var rows []warehousetest.Download
	for _, r := range warehousetest.WindowScenario() {
		if r.Project == "duckdb" && !r.Timestamp.Before(januaryRun.Start) && r.Timestamp.Before(januaryRun.End) {
			rows = append(rows, r)
		}
	}
	return rows
}

func countRows(t *testing.T, eng *staging.Engine, query string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, eng.Conn().QueryRowContext(context.Background(), query).Scan(&n))
	return n
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	return n
}
