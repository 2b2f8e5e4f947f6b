package bigquery

import (
	"context"

	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/connector/registry"
	"go.uber.org/zap"
)

func init() {
	// Register the BigQuery warehouse in the global registry
	_ = registry.Register(Kind, func(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (core.Warehouse, error) {
		wh, err := New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return wh, nil
	})
}
