package bigquery

import (
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/civicsync/civicsync/pkg/connector/core"
	jsonpool "github.com/civicsync/civicsync/pkg/json"
)

// timestampFormats are tried in order by the watermark query; Socrata and
// earlier loads wrote both separators, some with a zone offset.
var timestampFormats = []string{
	"%Y-%m-%d %H:%M:%E*S",
	"%Y-%m-%dT%H:%M:%E*S",
	"%Y-%m-%d %H:%M:%E*S%Ez",
	"%Y-%m-%dT%H:%M:%E*S%Ez",
}

// maxTimestampSQL builds the watermark query for a column whose values may
// be stored with either encoding. The first format that parses a row wins
// and the maximum is taken over all rows.
func maxTimestampSQL(qualifiedTable, column string) string {
	col := fmt.Sprintf("CAST(%s AS STRING)", quoteIdent(column))
	parsers := make([]string, len(timestampFormats))
	for i, f := range timestampFormats {
		parsers[i] = fmt.Sprintf("SAFE.PARSE_TIMESTAMP('%s', %s)", f, col)
	}
	return fmt.Sprintf(
		"SELECT MAX(COALESCE(%s)) AS latest FROM %s WHERE %s IS NOT NULL",
		strings.Join(parsers, ", "), quoteIdent(qualifiedTable), quoteIdent(column))
}

// quoteIdent wraps a BigQuery identifier in backticks.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

// toBigQuerySchema converts core schema to BigQuery schema. Every column is
// nullable: source records omit fields freely.
func toBigQuerySchema(schema core.Schema) bigquery.Schema {
	bqSchema := make(bigquery.Schema, 0, len(schema))
	for _, c := range schema {
		bqSchema = append(bqSchema, &bigquery.FieldSchema{
			Name: c.Name,
			Type: mapFieldTypeToBigQuery(c.Type),
		})
	}
	return bqSchema
}

func fromBigQuerySchema(schema bigquery.Schema) core.Schema {
	out := make(core.Schema, 0, len(schema))
	for _, f := range schema {
		out = append(out, core.Column{Name: f.Name, Type: mapBigQueryToFieldType(f.Type)})
	}
	return out
}

// mapFieldTypeToBigQuery maps core field types to BigQuery types
func mapFieldTypeToBigQuery(fieldType core.FieldType) bigquery.FieldType {
	switch fieldType {
	case core.FieldTypeString:
		return bigquery.StringFieldType
	case core.FieldTypeInt:
		return bigquery.IntegerFieldType
	case core.FieldTypeFloat:
		return bigquery.FloatFieldType
	case core.FieldTypeBool:
		return bigquery.BooleanFieldType
	case core.FieldTypeTimestamp:
		return bigquery.TimestampFieldType
	case core.FieldTypeDate:
		return bigquery.DateFieldType
	case core.FieldTypeJSON:
		return bigquery.JSONFieldType
	default:
		return bigquery.StringFieldType
	}
}

func mapBigQueryToFieldType(t bigquery.FieldType) core.FieldType {
	switch t {
	case bigquery.StringFieldType:
		return core.FieldTypeString
	case bigquery.IntegerFieldType:
		return core.FieldTypeInt
	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		return core.FieldTypeFloat
	case bigquery.BooleanFieldType:
		return core.FieldTypeBool
	case bigquery.TimestampFieldType, bigquery.DateTimeFieldType:
		return core.FieldTypeTimestamp
	case bigquery.DateFieldType:
		return core.FieldTypeDate
	case bigquery.JSONFieldType:
		return core.FieldTypeJSON
	default:
		return core.FieldTypeOther
	}
}

// encodeNDJSON writes one JSON object per row, restricted to the batch
// columns, with values coerced to the request schema.
func encodeNDJSON(w io.Writer, req *core.LoadRequest) error {
	types := make(map[string]core.FieldType, len(req.Schema))
	for _, c := range req.Schema {
		types[c.Name] = c.Type
	}

	enc := jsonpool.NewNDJSONWriter(w)
	for _, row := range req.Batch.Rows {
		obj := make(map[string]interface{}, len(req.Batch.Columns))
		for _, col := range req.Batch.Columns {
			v := row[col]
			if ft, ok := types[col]; ok {
				v = core.CoerceValue(v, ft)
			}
			obj[col] = v
		}
		if err := enc.Write(obj); err != nil {
			return err
		}
	}
	return nil
}
