package sqlwarehouse

import (
	"context"

	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/connector/registry"
	"go.uber.org/zap"
)

func init() {
	for _, kind := range []string{sqliteDialect.kind, postgresDialect.kind} {
		kind := kind
		_ = registry.Register(kind, func(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (core.Warehouse, error) {
			wh, err := Open(ctx, kind, cfg.DSN, logger)
			if err != nil {
				return nil, err
			}
			return wh, nil
		})
	}
}
