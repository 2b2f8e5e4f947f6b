// Package core defines the contract between the ingestion pipeline and the
// warehouse that stores the synchronized tables.
//
// The pipeline depends on exactly three warehouse operations: a scalar query
// (watermark read), a schema query (column names and types of a table) and a
// tabular load in replace or append mode. Any warehouse exposing them can be
// plugged in through the registry.
package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/civicsync/civicsync/pkg/models"
)

// FieldType represents the data type of a column
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeDate      FieldType = "date"
	FieldTypeJSON      FieldType = "json"
	FieldTypeOther     FieldType = "other"
)

// Column is one column of a destination table.
type Column struct {
	Name string
	Type FieldType
}

// Schema is the ordered list of columns defined on a destination table.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the schema defines a column called name.
func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the column called name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// WriteMode selects how a load treats existing table contents.
type WriteMode string

const (
	// WriteModeReplace supersedes both schema and contents of the table.
	WriteModeReplace WriteMode = "replace"
	// WriteModeAppend adds rows without touching existing ones.
	WriteModeAppend WriteMode = "append"
)

// ParseWriteMode parses "replace" or "append".
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(strings.ToLower(strings.TrimSpace(s))) {
	case WriteModeReplace:
		return WriteModeReplace, nil
	case WriteModeAppend:
		return WriteModeAppend, nil
	default:
		return "", fmt.Errorf("unknown write mode %q", s)
	}
}

// LoadRequest describes one tabular load.
type LoadRequest struct {
	Table string
	Mode  WriteMode
	Batch *models.Batch
	// Schema is the destination schema. For replace loads it is inferred
	// from the batch; for append loads it was read from the table before
	// the write and the batch columns are a subset of it.
	Schema Schema
}

// LoadResult reports what a load wrote.
type LoadResult struct {
	Table      string
	Mode       WriteMode
	RowsLoaded int64
	JobID      string
}

// Warehouse is the collaborator surface the ingestion core depends on.
type Warehouse interface {
	// Kind identifies the warehouse technology (e.g. "bigquery").
	Kind() string

	// QualifiedName renders table the way the warehouse addresses it.
	QualifiedName(table string) string

	// QueryScalar runs query and returns the first column of the first
	// row, or nil when the result is empty.
	QueryScalar(ctx context.Context, query string) (interface{}, error)

	// MaxTimestampQuery builds the scalar query returning the greatest
	// value of column in table, tolerant of mixed timestamp encodings.
	MaxTimestampQuery(table, column string) string

	// TableColumns returns the schema of table. Implementations wrap
	// syncerrors.ErrTableNotFound when the table does not exist.
	TableColumns(ctx context.Context, table string) (Schema, error)

	// Load writes the request's batch to its table.
	Load(ctx context.Context, req *LoadRequest) (*LoadResult, error)

	// Close releases client resources.
	Close() error
}

// TimestampScanner is implemented by warehouses that cannot parse the
// accepted timestamp encodings in SQL. MaxTimestamp reads the stored values
// of column, skips the ones that do not parse and returns the latest instant,
// or nil when none parse.
type TimestampScanner interface {
	MaxTimestamp(ctx context.Context, table, column string) (models.Watermark, error)
}

// InferSchema derives a destination schema from the batch itself, used when
// a replace load (re)defines a table. A column whose non-null values are all
// booleans becomes bool, all numbers becomes float, anything else (including
// all-null columns) becomes string.
func InferSchema(batch *models.Batch) Schema {
	schema := make(Schema, 0, len(batch.Columns))
	for _, col := range batch.Columns {
		var sawBool, sawFloat, sawOther bool
		for _, row := range batch.Rows {
			switch row[col].(type) {
			case nil:
			case bool:
				sawBool = true
			case float64:
				sawFloat = true
			default:
				sawOther = true
			}
		}
		ft := FieldTypeString
		switch {
		case sawOther:
		case sawBool && !sawFloat:
			ft = FieldTypeBool
		case sawFloat && !sawBool:
			ft = FieldTypeFloat
		}
		schema = append(schema, Column{Name: col, Type: ft})
	}
	return schema
}

// CoerceValue converts v so that it can be written into a column of type
// ft. Only string columns need conversion: non-string scalars are rendered
// the way the source API would have rendered them. Other column types rely
// on the warehouse's own parsing of the value.
func CoerceValue(v interface{}, ft FieldType) interface{} {
	if v == nil || ft != FieldTypeString {
		return v
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
