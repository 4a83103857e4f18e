package staging

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// spillRowGroup bounds the rows per Parquet row group in the spill file.
const spillRowGroup = 128 * 1024

// writeParquet writes tbl to path as a single ZSTD-compressed Parquet file.
func writeParquet(tbl arrow.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDataPageSize(1024*1024), // 1MB data pages
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(tbl.Schema(), f, props, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}

	if err := writer.WriteTable(tbl, spillRowGroup); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write table: %w", err)
	}

	// Close finalizes the footer and closes f.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}
