// Package sqlwarehouse implements the warehouse contract over database/sql
// for SQLite and PostgreSQL. It serves local development and small
// deployments that do not need BigQuery.
package sqlwarehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/civicsync/civicsync/pkg/timestamps"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Warehouse stores synchronized tables in a SQL database.
type Warehouse struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// Open connects to the database of the given kind ("sqlite" or "postgres").
func Open(ctx context.Context, kind, dsn string, logger *zap.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var d dialect
	switch kind {
	case sqliteDialect.kind:
		d = sqliteDialect
	case postgresDialect.kind:
		d = postgresDialect
	default:
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConfig, "unsupported SQL warehouse %q", kind)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to open database")
	}
	if d.kind == sqliteDialect.kind {
		// One writer at a time; also keeps :memory: databases on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to connect to database")
	}

	logger.Info("SQL warehouse initialized", zap.String("dialect", d.kind))
	return &Warehouse{db: db, dialect: d, logger: logger}, nil
}

// Kind implements core.Warehouse.
func (w *Warehouse) Kind() string {
	return w.dialect.kind
}

// QualifiedName returns the table name; tables live in the default schema.
func (w *Warehouse) QualifiedName(table string) string {
	return table
}

// QueryScalar returns the first column of the first row, or nil.
func (w *Warehouse) QueryScalar(ctx context.Context, query string) (interface{}, error) {
	var v interface{}
	err := w.db.QueryRowContext(ctx, query).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	return v, nil
}

// MaxTimestampQuery lists the distinct non-null values of column as text.
// Neither dialect parses every accepted encoding, so MaxTimestamp orders
// them in Go.
func (w *Warehouse) MaxTimestampQuery(table, column string) string {
	col := quoteIdent(column)
	return fmt.Sprintf(
		"SELECT DISTINCT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL",
		col, quoteIdent(table), col)
}

// MaxTimestamp implements core.TimestampScanner. Values that match no
// accepted layout are skipped.
func (w *Warehouse) MaxTimestamp(ctx context.Context, table, column string) (models.Watermark, error) {
	rows, err := w.db.QueryContext(ctx, w.MaxTimestampQuery(table, column))
	if err != nil {
		return nil, fmt.Errorf("query timestamp values: %w", err)
	}
	defer rows.Close()

	var (
		latest  time.Time
		found   bool
		skipped int
	)
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan timestamp value: %w", err)
		}
		t, ok := timestamps.Parse(raw.String)
		if !ok {
			skipped++
			continue
		}
		if !found || t.After(latest) {
			latest, found = t, true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timestamp values: %w", err)
	}

	if skipped > 0 {
		w.logger.Warn("skipped unparsable timestamp values",
			zap.String("table", table),
			zap.String("column", column),
			zap.Int("distinct_values", skipped))
	}
	if !found {
		return nil, nil
	}
	return models.NewWatermark(latest), nil
}

// TableColumns lists the table's columns. A table without columns does
// not exist.
func (w *Warehouse) TableColumns(ctx context.Context, table string) (core.Schema, error) {
	rows, err := w.db.QueryContext(ctx, w.dialect.columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("query table columns: %w", err)
	}
	defer rows.Close()

	var schema core.Schema
	for rows.Next() {
		var name, declared string
		if err := rows.Scan(&name, &declared); err != nil {
			return nil, fmt.Errorf("scan table columns: %w", err)
		}
		schema = append(schema, core.Column{Name: name, Type: parseType(declared)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table columns: %w", err)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%s: %w", table, syncerrors.ErrTableNotFound)
	}
	return schema, nil
}

// Load writes the batch in a single transaction. Replace drops and
// recreates the table from the request schema; append inserts into the
// existing table.
func (w *Warehouse) Load(ctx context.Context, req *core.LoadRequest) (*core.LoadResult, error) {
	if !tableNameRe.MatchString(req.Table) {
		return nil, fmt.Errorf("invalid table name %q", req.Table)
	}
	result := &core.LoadResult{Table: req.Table, Mode: req.Mode}
	if req.Batch.Len() == 0 {
		return result, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if req.Mode == core.WriteModeReplace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(req.Table)); err != nil {
			return nil, fmt.Errorf("drop table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, w.createTableSQL(req.Table, req.Schema)); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, w.insertSQL(req.Table, req.Batch.Columns))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	types := make(map[string]core.FieldType, len(req.Schema))
	for _, c := range req.Schema {
		types[c.Name] = c.Type
	}

	for _, row := range req.Batch.Rows {
		args := make([]interface{}, len(req.Batch.Columns))
		for i, col := range req.Batch.Columns {
			args[i] = core.CoerceValue(row[col], types[col])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("insert row: %w", err)
		}
		result.RowsLoaded++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	w.logger.Info("SQL load committed",
		zap.String("table", req.Table),
		zap.String("mode", string(req.Mode)),
		zap.Int64("rows", result.RowsLoaded))
	return result, nil
}

func (w *Warehouse) createTableSQL(table string, schema core.Schema) string {
	defs := make([]string, len(schema))
	for i, c := range schema {
		defs[i] = quoteIdent(c.Name) + " " + w.dialect.typeName(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
}

func (w *Warehouse) insertSQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
		params[i] = w.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(params, ", "))
}

// Close closes the database handle.
func (w *Warehouse) Close() error {
	return w.db.Close()
}
