package sqlwarehouse

import (
	"strconv"
	"strings"

	"github.com/civicsync/civicsync/pkg/connector/core"
)

// dialect captures the SQL differences between supported databases.
type dialect struct {
	kind   string
	driver string
	// columnsQuery lists (name, type) of a table in ordinal order; the
	// single parameter is the table name.
	columnsQuery string
	typeNames    map[core.FieldType]string
	placeholder  func(i int) string
}

var sqliteDialect = dialect{
	kind:         "sqlite",
	driver:       "sqlite",
	columnsQuery: `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`,
	typeNames: map[core.FieldType]string{
		core.FieldTypeString:    "TEXT",
		core.FieldTypeInt:       "INTEGER",
		core.FieldTypeFloat:     "REAL",
		core.FieldTypeBool:      "BOOLEAN",
		core.FieldTypeTimestamp: "TIMESTAMP",
		core.FieldTypeDate:      "DATE",
		core.FieldTypeJSON:      "JSON",
	},
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	kind:   "postgres",
	driver: "pgx",
	columnsQuery: `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`,
	typeNames: map[core.FieldType]string{
		core.FieldTypeString:    "TEXT",
		core.FieldTypeInt:       "BIGINT",
		core.FieldTypeFloat:     "DOUBLE PRECISION",
		core.FieldTypeBool:      "BOOLEAN",
		core.FieldTypeTimestamp: "TIMESTAMP",
		core.FieldTypeDate:      "DATE",
		core.FieldTypeJSON:      "JSONB",
	},
	placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
}

func (d dialect) typeName(ft core.FieldType) string {
	if name, ok := d.typeNames[ft]; ok {
		return name
	}
	return d.typeNames[core.FieldTypeString]
}

// parseType maps a declared column type to a field type using SQLite's
// affinity rules, which also cover the PostgreSQL type names.
func parseType(declared string) core.FieldType {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "JSON"):
		return core.FieldTypeJSON
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATETIME"):
		return core.FieldTypeTimestamp
	case t == "DATE":
		return core.FieldTypeDate
	case strings.Contains(t, "BOOL"):
		return core.FieldTypeBool
	case strings.Contains(t, "INT"):
		return core.FieldTypeInt
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return core.FieldTypeString
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return core.FieldTypeFloat
	default:
		return core.FieldTypeOther
	}
}

// quoteIdent double-quotes an identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
