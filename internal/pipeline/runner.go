package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/metrics"
	"go.uber.org/zap"
)

// Runner runs configured datasets one after another against a shared source
// and warehouse.
type Runner struct {
	cfg       *config.Config
	source    Fetcher
	warehouse core.Warehouse
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewRunner creates a runner. A nil collector gets a private one.
func NewRunner(cfg *config.Config, source Fetcher, warehouse core.Warehouse, collector *metrics.Collector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Runner{
		cfg:       cfg,
		source:    source,
		warehouse: warehouse,
		metrics:   collector,
		logger:    logger,
	}
}

// Metrics returns the collector shared by every run.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// RunDatasets runs the named datasets, or all configured datasets when names
// is empty. A failed dataset does not stop the others; the returned error
// joins every failure. Metrics are pushed after the last run when a
// Pushgateway is configured.
func (r *Runner) RunDatasets(ctx context.Context, names []string, opts Options) ([]*RunResult, error) {
	if len(names) == 0 {
		names = r.cfg.DatasetNames()
	}

	datasets := make([]config.DatasetConfig, 0, len(names))
	for _, name := range names {
		ds, err := r.cfg.Dataset(name)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, *ds)
	}

	var (
		results []*RunResult
		errs    []error
	)
	for _, ds := range datasets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.runOne(ctx, ds, opts)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("dataset %s: %w", ds.Name, err))
		}
	}

	if url := r.cfg.Metrics.PushgatewayURL; url != "" {
		if err := r.metrics.Push(ctx, url, r.cfg.Metrics.Job); err != nil {
			r.logger.Warn("failed to push metrics", zap.Error(err))
		}
	}

	return results, errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, ds config.DatasetConfig, opts Options) (*RunResult, error) {
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}
	return New(ds, r.source, r.warehouse, r.metrics, opts, r.logger).Run(ctx)
}
