package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/civicsync/civicsync/pkg/timestamps"
	"go.uber.org/zap"
)

// WatermarkResolver reads the latest ingestion time stored in a table.
type WatermarkResolver struct {
	warehouse core.Warehouse
	field     string
	logger    *zap.Logger
}

// NewWatermarkResolver creates a resolver reading field from warehouse tables.
func NewWatermarkResolver(warehouse core.Warehouse, field string, logger *zap.Logger) *WatermarkResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatermarkResolver{
		warehouse: warehouse,
		field:     field,
		logger:    logger,
	}
}

// Resolve returns the greatest value of the timestamp field in table, or a
// nil watermark when the table has no such column or no usable value. A
// missing table and a failed query are query errors: an incremental run
// must not guess where the stored data ends.
func (r *WatermarkResolver) Resolve(ctx context.Context, table string) (models.Watermark, error) {
	schema, err := r.warehouse.TableColumns(ctx, table)
	if err != nil {
		qerr := syncerrors.QueryError(err, "read table schema").
			WithDetail("table", r.warehouse.QualifiedName(table))
		if errors.Is(err, syncerrors.ErrTableNotFound) {
			qerr = qerr.WithDetail("hint", "run with --full-refresh to create the table")
		}
		return nil, qerr
	}

	if !schema.Has(r.field) {
		r.logger.Info("timestamp field not in table, no watermark",
			zap.String("table", table),
			zap.String("field", r.field))
		return nil, nil
	}

	wm, err := r.maxTimestamp(ctx, table)
	if err != nil {
		return nil, err
	}

	if wm == nil {
		r.logger.Info("no watermark value stored", zap.String("table", table))
	} else {
		r.logger.Info("resolved watermark",
			zap.String("table", table),
			zap.Time("watermark", *wm))
	}
	return wm, nil
}

func (r *WatermarkResolver) maxTimestamp(ctx context.Context, table string) (models.Watermark, error) {
	if scanner, ok := r.warehouse.(core.TimestampScanner); ok {
		wm, err := scanner.MaxTimestamp(ctx, table, r.field)
		if err != nil {
			return nil, syncerrors.QueryError(err, "query watermark").
				WithDetail("table", r.warehouse.QualifiedName(table)).
				WithDetail("field", r.field)
		}
		return wm, nil
	}

	query := r.warehouse.MaxTimestampQuery(table, r.field)
	value, err := r.warehouse.QueryScalar(ctx, query)
	if err != nil {
		return nil, syncerrors.QueryError(err, "query watermark").
			WithDetail("table", r.warehouse.QualifiedName(table)).
			WithDetail("field", r.field)
	}

	wm, err := scalarToWatermark(value)
	if err != nil {
		return nil, syncerrors.QueryError(err, "unusable watermark value").
			WithDetail("table", r.warehouse.QualifiedName(table)).
			WithDetail("field", r.field)
	}
	return wm, nil
}

func scalarToWatermark(value interface{}) (models.Watermark, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		return models.NewWatermark(v.UTC()), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil, nil
		}
		return models.NewWatermark(v.UTC()), nil
	case []byte:
		return parseWatermark(string(v))
	case string:
		return parseWatermark(v)
	default:
		return nil, fmt.Errorf("unexpected watermark type %T", value)
	}
}

func parseWatermark(s string) (models.Watermark, error) {
	if s == "" {
		return nil, nil
	}
	t, ok := timestamps.Parse(s)
	if !ok {
		return nil, fmt.Errorf("cannot parse watermark %q", s)
	}
	return models.NewWatermark(t), nil
}
