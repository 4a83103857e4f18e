package destination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
)

// Fixed file names written by the local destination.
const (
	LocalParquetFile = "duckdb.parquet"
	LocalCSVFile     = "duckdb.csv"
)

// Local exports the staged table to duckdb.parquet and duckdb.csv in Dir,
// replacing existing files.
type Local struct {
	Dir string
}

func (l *Local) Name() string { return string(config.DestinationLocal) }

func (l *Local) Write(ctx context.Context, eng *staging.Engine, tbl *staging.Table) error {
	dir := l.Dir
	if dir == "" {
		dir = config.DefaultOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	parquetPath := filepath.Join(dir, LocalParquetFile)
	csvPath := filepath.Join(dir, LocalCSVFile)
	stmts := []string{
		fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", staging.QuoteIdent(tbl.Name), staging.QuoteLiteral(parquetPath)),
		fmt.Sprintf("COPY %s TO %s (HEADER, DELIMITER ',')", staging.QuoteIdent(tbl.Name), staging.QuoteLiteral(csvPath)),
	}
	for _, stmt := range stmts {
		if _, err := eng.Conn().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("export %s: %w", tbl.Name, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "destination",
		"parquet":   parquetPath,
		"csv":       csvPath,
		"rows":      tbl.Rows,
	}).Info("Wrote local files")
	return nil
}
