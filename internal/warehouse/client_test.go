package warehouse_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/credentials"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse/warehousetest"
)

func keyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sa.json")
	body := `{"type":"service_account","project_id":"duckdb-pypi","client_email":"etl@duckdb-pypi.iam.gserviceaccount.com"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func januaryQuery(t *testing.T) warehouse.Query {
	t.Helper()
	p, err := config.Load(config.MapSource(map[string]string{
		config.KeyStartDate:       "2023-01-01",
		config.KeyEndDate:         "2023-02-01",
		config.KeyPyPIProject:     "duckdb",
		config.KeyTableName:       "file_downloads",
		config.KeyGCPProject:      "duckdb-pypi",
		config.KeyTimestampColumn: "timestamp",
		config.KeyDestination:     "local",
	}))
	require.NoError(t, err)
	return warehouse.BuildQuery(p)
}

func timestamps(t *testing.T, tbl arrow.Table) []int64 {
	t.Helper()
	var out []int64
	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()
	for tr.Next() {
		col := tr.Record().Column(0).(*array.Timestamp)
		for i := 0; i < col.Len(); i++ {
			out = append(out, int64(col.Value(i)))
		}
	}
	return out
}

func TestExecuteHalfOpenWindow(t *testing.T) {
	engine := &warehousetest.Engine{Rows: warehousetest.WindowScenario()}
	resolver := credentials.NewResolver(nil)

	client, err := warehouse.Authenticate(context.Background(), resolver, keyFile(t), "duckdb-pypi",
		warehouse.WithDialer(engine.Dialer()))
	require.NoError(t, err)
	defer client.Close()

	q := januaryQuery(t)
	tbl, err := client.Execute(context.Background(), q)
	require.NoError(t, err)
	defer tbl.Release()

	assert.EqualValues(t, 5, tbl.NumRows())

	start, end := q.Window()
	got := timestamps(t, tbl)
	assert.Contains(t, got, start.UnixMicro(), "row at start_date must be included")
	assert.NotContains(t, got, end.UnixMicro(), "row at end_date must be excluded")
	assert.IsIncreasing(t, got, "row order is preserved")

	require.Len(t, engine.Queries(), 1)
	assert.Equal(t, q.SQL(), engine.Queries()[0].SQL())
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	engine := &warehousetest.Engine{}
	resolver := credentials.NewResolver(func(string) (string, bool) { return "", false })

	_, err := warehouse.Authenticate(context.Background(), resolver, "", "duckdb-pypi",
		warehouse.WithDialer(engine.Dialer()))
	assert.ErrorIs(t, err, errdefs.ErrCredentialsNotFound)
}

func TestAuthenticateRejectsMalformedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	engine := &warehousetest.Engine{}
	_, err := warehouse.Authenticate(context.Background(), credentials.NewResolver(nil), path, "duckdb-pypi",
		warehouse.WithDialer(engine.Dialer()))
	assert.ErrorIs(t, err, errdefs.ErrAuthentication)
}

func TestAuthenticateDialFailure(t *testing.T) {
	dial := func(context.Context, string, string) (warehouse.Engine, error) {
		return nil, errors.New("invalid_grant")
	}
	_, err := warehouse.Authenticate(context.Background(), credentials.NewResolver(nil), keyFile(t), "duckdb-pypi",
		warehouse.WithDialer(dial))

	var authErr *errdefs.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "duckdb-pypi", authErr.Project)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestExecuteWrapsFailure(t *testing.T) {
	engine := &warehousetest.Engine{Err: errors.New("Access Denied: Project duckdb-pypi")}
	client, err := warehouse.Authenticate(context.Background(), credentials.NewResolver(nil), keyFile(t), "duckdb-pypi",
		warehouse.WithDialer(engine.Dialer()))
	require.NoError(t, err)

	q := januaryQuery(t)
	_, err = client.Execute(context.Background(), q)

	var qErr *errdefs.QueryExecutionError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, q.SQL(), qErr.Query)
	assert.GreaterOrEqual(t, int64(qErr.Elapsed), int64(0))
	assert.Contains(t, err.Error(), "Access Denied")
	assert.Len(t, engine.Queries(), 1, "no retries")

	require.NoError(t, client.Close())
	assert.True(t, engine.Closed())
}
