package pipeline

import (
	"context"

	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"go.uber.org/zap"
)

// Loader writes batches to the warehouse.
type Loader struct {
	warehouse core.Warehouse
	logger    *zap.Logger
}

// NewLoader creates a loader for warehouse.
func NewLoader(warehouse core.Warehouse, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{warehouse: warehouse, logger: logger}
}

// Load writes batch to table.
//
// In replace mode the schema is inferred from the batch and any schema
// argument is ignored; the table is created or truncated. In append mode
// schema must be the destination schema resolved before the write and the
// batch columns a subset of it; values are coerced to the column types.
// An empty batch is not sent to the warehouse.
func (l *Loader) Load(ctx context.Context, table string, batch *models.Batch, mode core.WriteMode, schema core.Schema) (*core.LoadResult, error) {
	if batch.Len() == 0 {
		l.logger.Info("empty batch, nothing to load", zap.String("table", table))
		return &core.LoadResult{Table: table, Mode: mode}, nil
	}

	var loadSchema core.Schema
	switch mode {
	case core.WriteModeReplace:
		loadSchema = core.InferSchema(batch)
	case core.WriteModeAppend:
		if len(schema) == 0 {
			return nil, syncerrors.LoadError(nil, "append load needs the destination schema").
				WithDetail("table", table)
		}
		loadSchema = schema
		batch = coerceBatch(batch, schema)
	default:
		return nil, syncerrors.LoadError(nil, "unknown write mode").
			WithDetail("table", table).
			WithDetail("mode", string(mode))
	}

	res, err := l.warehouse.Load(ctx, &core.LoadRequest{
		Table:  table,
		Mode:   mode,
		Batch:  batch,
		Schema: loadSchema,
	})
	if err != nil {
		if syncerrors.IsType(err, syncerrors.ErrorTypeLoad) {
			return nil, err
		}
		return nil, syncerrors.LoadError(err, "load batch").
			WithDetail("table", l.warehouse.QualifiedName(table)).
			WithDetail("mode", string(mode)).
			WithDetail("rows", batch.Len())
	}

	l.logger.Info("loaded batch",
		zap.String("table", l.warehouse.QualifiedName(table)),
		zap.String("mode", string(mode)),
		zap.Int64("rows", res.RowsLoaded),
		zap.String("job_id", res.JobID))
	return res, nil
}

func coerceBatch(batch *models.Batch, schema core.Schema) *models.Batch {
	out := &models.Batch{
		Columns: batch.Columns,
		Rows:    make([]models.Record, len(batch.Rows)),
	}
	types := make(map[string]core.FieldType, len(batch.Columns))
	for _, col := range batch.Columns {
		if c, ok := schema.Lookup(col); ok {
			types[col] = c.Type
		}
	}
	for i, row := range batch.Rows {
		r := make(models.Record, len(row))
		for k, v := range row {
			r[k] = core.CoerceValue(v, types[k])
		}
		out.Rows[i] = r
	}
	return out
}
