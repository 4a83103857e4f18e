// Package schema checks query results against the expected file_downloads shape.
package schema

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
)

// Kind is the logical type of an expected column.
type Kind int

const (
	KindTimestamp Kind = iota
	KindString
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindTimestamp:
		return "TIMESTAMP"
	case KindString:
		return "STRING"
	case KindStruct:
		return "STRUCT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) matches(dt arrow.DataType) bool {
	switch k {
	case KindTimestamp:
		return dt.ID() == arrow.TIMESTAMP
	case KindString:
		return dt.ID() == arrow.STRING || dt.ID() == arrow.LARGE_STRING || dt.ID() == arrow.STRING_VIEW
	case KindStruct:
		return dt.ID() == arrow.STRUCT
	}
	return false
}

// Column is one expected top-level column. Children lists the field names a
// struct column must carry.
type Column struct {
	Name     string
	Kind     Kind
	Children []string
}

// Expected is the set of columns a result must carry. Extra columns are allowed.
type Expected struct {
	Columns []Column
}

// FileDownloads returns the expected shape of bigquery-public-data.pypi.file_downloads
// with the time column named timestampColumn.
func FileDownloads(timestampColumn string) Expected {
	return Expected{Columns: []Column{
		{Name: timestampColumn, Kind: KindTimestamp},
		{Name: "country_code", Kind: KindString},
		{Name: "url", Kind: KindString},
		{Name: "project", Kind: KindString},
		{Name: "file", Kind: KindStruct, Children: []string{"filename", "project", "version", "type"}},
		{Name: "details", Kind: KindStruct, Children: []string{
			"installer", "python", "implementation", "distro", "system", "cpu",
			"openssl_version", "setuptools_version", "rustc_version", "ci",
		}},
		{Name: "tls_protocol", Kind: KindString},
		{Name: "tls_cipher", Kind: KindString},
	}}
}

// Validate checks tbl against exp and reports every problem at once.
func Validate(tbl arrow.Table, exp Expected) error {
	return ValidateSchema(tbl.Schema(), exp)
}

// ValidateSchema is Validate for a bare schema.
func ValidateSchema(s *arrow.Schema, exp Expected) error {
	var problems []string
	for _, col := range exp.Columns {
		idx := s.FieldIndices(col.Name)
		if len(idx) == 0 {
			problems = append(problems, fmt.Sprintf("missing column %q", col.Name))
			continue
		}
		field := s.Field(idx[0])
		if !col.Kind.matches(field.Type) {
			problems = append(problems, fmt.Sprintf("column %q: expected %s, got %s", col.Name, col.Kind, field.Type))
			continue
		}
		if col.Kind != KindStruct {
			continue
		}
		st := field.Type.(*arrow.StructType)
		for _, child := range col.Children {
			if _, ok := st.FieldIdx(child); !ok {
				problems = append(problems, fmt.Sprintf("column %q: missing field %q", col.Name, child))
			}
		}
	}
	if len(problems) > 0 {
		return &errdefs.SchemaValidationError{Problems: problems}
	}
	return nil
}
