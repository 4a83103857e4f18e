// Package warehousetest provides in-memory download-event fixtures and a
// warehouse engine that answers queries from them.
package warehousetest

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/withObsrvr/pypi-ingest/internal/warehouse"
)

// Download is one row of the file_downloads table.
type Download struct {
	Timestamp   time.Time
	CountryCode string
	URL         string
	Project     string
	File        File
	Details     Details
	TLSProtocol string
	TLSCipher   string
}

type File struct {
	Filename string
	Project  string
	Version  string
	Type     string
}

type Details struct {
	InstallerName     string
	InstallerVersion  string
	Python            string
	Implementation    string
	DistroName        string
	DistroVersion     string
	SystemName        string
	SystemRelease     string
	CPU               string
	OpenSSLVersion    string
	SetuptoolsVersion string
	RustcVersion      string
	CI                bool
}

// NewDownload returns a plausible row for project at ts.
func NewDownload(project string, ts time.Time) Download {
	return Download{
		Timestamp:   ts.UTC(),
		CountryCode: "US",
		URL:         "/packages/cp311/d/" + project + "/" + project + "-0.9.2-cp311-cp311-manylinux_2_17_x86_64.whl",
		Project:     project,
		File: File{
			Filename: project + "-0.9.2-cp311-cp311-manylinux_2_17_x86_64.whl",
			Project:  project,
			Version:  "0.9.2",
			Type:     "bdist_wheel",
		},
		Details: Details{
			InstallerName:     "pip",
			InstallerVersion:  "23.3.1",
			Python:            "3.11.6",
			Implementation:    "CPython",
			DistroName:        "Ubuntu",
			DistroVersion:     "22.04",
			SystemName:        "Linux",
			SystemRelease:     "5.15.0",
			CPU:               "x86_64",
			OpenSSLVersion:    "OpenSSL 3.0.2 15 Mar 2022",
			SetuptoolsVersion: "68.2.2",
			RustcVersion:      "",
			CI:                false,
		},
		TLSProtocol: "TLSv1.3",
		TLSCipher:   "TLS_AES_128_GCM_SHA256",
	}
}

var (
	nameVersion = arrow.StructOf(
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "version", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	systemType = arrow.StructOf(
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "release", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	fileType = arrow.StructOf(
		arrow.Field{Name: "filename", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "project", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "version", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "type", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	detailsType = arrow.StructOf(
		arrow.Field{Name: "installer", Type: nameVersion, Nullable: true},
		arrow.Field{Name: "python", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "implementation", Type: nameVersion, Nullable: true},
		arrow.Field{Name: "distro", Type: nameVersion, Nullable: true},
		arrow.Field{Name: "system", Type: systemType, Nullable: true},
		arrow.Field{Name: "cpu", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "openssl_version", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "setuptools_version", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "rustc_version", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "ci", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	)
)

// Schema mirrors the Arrow schema BigQuery returns for file_downloads, with the
// timestamp column named tsColumn.
func Schema(tsColumn string) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: tsColumn, Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		{Name: "country_code", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "url", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "project", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "file", Type: fileType, Nullable: true},
		{Name: "details", Type: detailsType, Nullable: true},
		{Name: "tls_protocol", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "tls_cipher", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
}

// Table builds a file_downloads table from rows, preserving their order.
func Table(tsColumn string, rows []Download) arrow.Table {
	schema := Schema(tsColumn)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()

	for _, r := range rows {
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(r.Timestamp.UnixMicro()))
		b.Field(1).(*array.StringBuilder).Append(r.CountryCode)
		b.Field(2).(*array.StringBuilder).Append(r.URL)
		b.Field(3).(*array.StringBuilder).Append(r.Project)

		fb := b.Field(4).(*array.StructBuilder)
		fb.Append(true)
		appendStrings(fb, r.File.Filename, r.File.Project, r.File.Version, r.File.Type)

		db := b.Field(5).(*array.StructBuilder)
		db.Append(true)
		appendPair(db.FieldBuilder(0).(*array.StructBuilder), r.Details.InstallerName, r.Details.InstallerVersion)
		db.FieldBuilder(1).(*array.StringBuilder).Append(r.Details.Python)
		appendPair(db.FieldBuilder(2).(*array.StructBuilder), r.Details.Implementation, "")
		appendPair(db.FieldBuilder(3).(*array.StructBuilder), r.Details.DistroName, r.Details.DistroVersion)
		appendPair(db.FieldBuilder(4).(*array.StructBuilder), r.Details.SystemName, r.Details.SystemRelease)
		db.FieldBuilder(5).(*array.StringBuilder).Append(r.Details.CPU)
		db.FieldBuilder(6).(*array.StringBuilder).Append(r.Details.OpenSSLVersion)
		db.FieldBuilder(7).(*array.StringBuilder).Append(r.Details.SetuptoolsVersion)
		if r.Details.RustcVersion == "" {
			db.FieldBuilder(8).AppendNull()
		} else {
			db.FieldBuilder(8).(*array.StringBuilder).Append(r.Details.RustcVersion)
		}
		db.FieldBuilder(9).(*array.BooleanBuilder).Append(r.Details.CI)

		b.Field(6).(*array.StringBuilder).Append(r.TLSProtocol)
		b.Field(7).(*array.StringBuilder).Append(r.TLSCipher)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}

func appendStrings(sb *array.StructBuilder, values ...string) {
	for i, v := range values {
		sb.FieldBuilder(i).(*array.StringBuilder).Append(v)
	}
}

func appendPair(sb *array.StructBuilder, name, version string) {
	sb.Append(true)
	appendStrings(sb, name, version)
}

// WindowScenario returns ten rows for project "duckdb": five inside
// [2023-01-01, 2023-02-01) including one exactly at the start, and five
// outside it including one exactly at the end and one for another project.
func WindowScenario() []Download {
	at := func(s string) time.Time {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			panic(err)
		}
		return t
	}
	return []Download{
		NewDownload("duckdb", at("2023-01-01T00:00:00Z")),
		NewDownload("duckdb", at("2023-01-05T08:30:00Z")),
		NewDownload("duckdb", at("2023-01-15T12:00:00Z")),
		NewDownload("duckdb", at("2023-01-20T23:59:59Z")),
		NewDownload("duckdb", at("2023-01-31T23:59:59Z")),
		NewDownload("duckdb", at("2022-12-31T23:59:59Z")),
		NewDownload("duckdb", at("2023-02-01T00:00:00Z")),
		NewDownload("duckdb", at("2023-03-10T10:00:00Z")),
		NewDownload("duckdb", at("2022-06-01T00:00:00Z")),
		NewDownload("polars", at("2023-01-10T00:00:00Z")),
	}
}

// Engine answers queries from Rows, honoring the project filter and the
// half-open time window. It records every query it receives.
type Engine struct {
	Rows []Download
	// Column overrides the timestamp column name of returned tables.
	Column string
	// Err, when set, is returned by every Run.
	Err error

	mu      sync.Mutex
	queries []warehouse.Query
	closed  bool
}

func (e *Engine) Run(ctx context.Context, q warehouse.Query) (arrow.Table, error) {
	e.mu.Lock()
	e.queries = append(e.queries, q)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}

	start, end := q.Window()
	var matched []Download
	for _, r := range e.Rows {
		if r.Project != q.Project {
			continue
		}
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		matched = append(matched, r)
	}

	column := q.TimestampColumn
	if e.Column != "" {
		column = e.Column
	}
	return Table(column, matched), nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Queries returns the queries run so far.
func (e *Engine) Queries() []warehouse.Query {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]warehouse.Query(nil), e.queries...)
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Dialer returns a dialer that always hands out e.
func (e *Engine) Dialer() warehouse.Dialer {
	return func(context.Context, string, string) (warehouse.Engine, error) {
		return e, nil
	}
}
