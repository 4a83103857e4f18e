package destination

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
)

func TestLocalWritesBothFiles(t *testing.T) {
	eng, tbl := stage(t, januaryRows())
	dir := t.TempDir()

	require.NoError(t, (&Local{Dir: dir}).Write(context.Background(), eng, tbl))

	parquetPath := filepath.Join(dir, LocalParquetFile)
	csvPath := filepath.Join(dir, LocalCSVFile)

	assert.EqualValues(t, 5, countRows(t, eng, "SELECT count(*) FROM read_parquet("+staging.QuoteLiteral(parquetPath)+")"))
	assert.Equal(t, 6, countLines(t, csvPath), "header plus five rows")

	header, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(header), "timestamp,country_code,url,project,"))
}

func TestLocalOverwrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LocalCSVFile), []byte("stale\nstale\nstale\nstale\nstale\nstale\nstale\nstale\n"), 0o644))

	eng, tbl := stage(t, januaryRows()[:2])
	require.NoError(t, (&Local{Dir: dir}).Write(context.Background(), eng, tbl))

	assert.Equal(t, 3, countLines(t, filepath.Join(dir, LocalCSVFile)))
	assert.EqualValues(t, 2, countRows(t, eng,
		"SELECT count(*) FROM read_parquet("+staging.QuoteLiteral(filepath.Join(dir, LocalParquetFile))+")"))
}
