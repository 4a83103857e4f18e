package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/withObsrvr/pypi-ingest/internal/staging"
)

// Partitioned Parquet layout shared by the object-storage destinations.
const (
	PartitionRowGroupSize = 1000000
	PartitionCompression  = "ZSTD"
	manifestDir           = "_manifests"
)

// copyPartitioned exports tbl to target as year/month Hive partitions derived
// from the timestamp column. Existing partition directories are reused and
// same-named files replaced.
func copyPartitioned(ctx context.Context, eng *staging.Engine, tbl *staging.Table, tsColumn, target string) error {
	ts := staging.QuoteIdent(tsColumn)
	stmt := fmt.Sprintf(`COPY (
    SELECT
        *,
        year(%s) AS year,
        month(%s) AS month
    FROM %s
) TO %s (FORMAT PARQUET, PARTITION_BY (year, month), OVERWRITE_OR_IGNORE 1, FILENAME_PATTERN 'data_{i}', COMPRESSION '%s', ROW_GROUP_SIZE %d)`,
		ts, ts, staging.QuoteIdent(tbl.Name), staging.QuoteLiteral(target), PartitionCompression, PartitionRowGroupSize)

	if _, err := eng.Conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("partitioned export to %s: %w", target, err)
	}
	return nil
}

// Manifest summarizes one partitioned export.
type Manifest struct {
	Table           string    `json:"table"`
	Project         string    `json:"project"`
	TimestampColumn string    `json:"timestamp_column"`
	StartDate       string    `json:"start_date"`
	EndDate         string    `json:"end_date"`
	Rows            int64     `json:"rows"`
	Location        string    `json:"location"`
	Files           []string  `json:"files,omitempty"`
	WrittenAt       time.Time `json:"written_at"`
}

func newManifest(run Run, tbl *staging.Table, location string, now time.Time) Manifest {
	return Manifest{
		Table:           tbl.Name,
		Project:         run.Project,
		TimestampColumn: run.TimestampColumn,
		StartDate:       run.StartDate,
		EndDate:         run.EndDate,
		Rows:            tbl.Rows,
		Location:        location,
		WrittenAt:       now.UTC(),
	}
}

// manifestKey is <table>/_manifests/<start>_<end>.json.
func manifestKey(table string, run Run) string {
	return joinKey(table, manifestDir, run.StartDate+"_"+run.EndDate+".json")
}

func writeManifest(ctx context.Context, store ObjectStore, key string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := store.Write(ctx, key, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
