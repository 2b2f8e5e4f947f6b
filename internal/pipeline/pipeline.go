// Package pipeline runs one incremental or snapshot sync of a Socrata
// dataset into a warehouse table.
//
// A run is strictly sequential:
//
//	resolve watermark -> plan -> fetch -> normalize -> dedupe -> reconcile -> load
//
// Incremental datasets read the stored watermark and fetch only newer
// records, appending them to the existing table. The first population of a
// table (no watermark) replaces it. Snapshot datasets skip the watermark,
// stamp every row with the load time and replace the table on every run.
//
// Every stage is traced and timed; run outcomes are recorded in the metrics
// collector and logged with the run ID.
package pipeline

import (
	"context"
	"time"

	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/connector/sources/socrata"
	"github.com/civicsync/civicsync/pkg/logger"
	"github.com/civicsync/civicsync/pkg/metrics"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/observability"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Stage names used for spans and the stage duration histogram.
const (
	StageWatermark = "watermark"
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageDedupe    = "dedupe"
	StageReconcile = "reconcile"
	StageLoad      = "load"
)

// Fetcher plans and executes source requests.
type Fetcher interface {
	Plan(resourceID, field string, wm models.Watermark, limit int) (*socrata.FetchPlan, error)
	Fetch(ctx context.Context, plan *socrata.FetchPlan) ([]models.Record, error)
}

// Options alter how a run behaves.
type Options struct {
	// FullRefresh fetches everything and replaces the table without reading
	// a watermark. Source timestamps are kept.
	FullRefresh bool
	// DryRun stops before the load.
	DryRun bool
	// Now returns the stamp for snapshot loads; defaults to time.Now.
	Now func() time.Time
}

// RunResult summarizes one dataset run.
type RunResult struct {
	RunID      string
	Dataset    string
	Table      string
	Mode       config.DatasetMode
	WriteMode  core.WriteMode
	Watermark  models.Watermark
	URL        string
	Fetched    int
	AfterDedup int
	// Truncated is set when the page was full, meaning newer rows may
	// remain at the source until the next run.
	Truncated         bool
	InvalidTimestamps int
	Dropped           []string
	Loaded            int64
	JobID             string
	UpToDate          bool
	DryRun            bool
	Duration          time.Duration
}

// Pipeline syncs one dataset.
type Pipeline struct {
	dataset   config.DatasetConfig
	source    Fetcher
	warehouse core.Warehouse
	metrics   *metrics.Collector
	opts      Options
	logger    *zap.Logger

	resolver   *WatermarkResolver
	normalizer *Normalizer
	dedup      *Deduplicator
	loader     *Loader
}

// New creates a pipeline for dataset. A nil collector gets a private one.
func New(dataset config.DatasetConfig, source Fetcher, warehouse core.Warehouse, collector *metrics.Collector, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if dataset.TimestampField == "" {
		dataset.TimestampField = config.DefaultTimestampField
	}
	dsLog := log.With(zap.String("dataset", dataset.Name))

	return &Pipeline{
		dataset:    dataset,
		source:     source,
		warehouse:  warehouse,
		metrics:    collector,
		opts:       opts,
		logger:     log,
		resolver:   NewWatermarkResolver(warehouse, dataset.TimestampField, dsLog),
		normalizer: NewNormalizer(dataset.TimestampColumns, dsLog),
		dedup:      NewDeduplicator(dataset.NaturalKey, dsLog),
		loader:     NewLoader(warehouse, dsLog),
	}
}

// snapshot reports whether this run replaces the table without reading a
// watermark.
func (p *Pipeline) snapshot() bool {
	return p.dataset.Mode == config.ModeSnapshot || p.opts.FullRefresh
}

// Run executes the dataset sync. "No new rows" and "no rows after dedup"
// are successful runs with UpToDate set. On error the partial result is
// returned alongside it; no load has happened when the error is a query or
// fetch error.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		RunID:   uuid.NewString(),
		Dataset: p.dataset.Name,
		Table:   p.dataset.Table,
		Mode:    p.dataset.Mode,
		DryRun:  p.opts.DryRun,
	}

	ctx = logger.WithRunID(ctx, result.RunID)
	ctx = logger.WithDataset(ctx, p.dataset.Name)
	log := logger.FromContext(ctx, p.logger)

	ctx, span := observability.StartSpan(ctx, "civicsync.run",
		attribute.String("dataset", p.dataset.Name),
		attribute.String("table", p.dataset.Table),
		attribute.String("mode", string(p.dataset.Mode)),
		attribute.Bool("full_refresh", p.opts.FullRefresh))

	err := p.run(ctx, log, result)
	result.Duration = time.Since(start)
	observability.EndSpan(span, err)

	switch {
	case err != nil:
		p.metrics.RunFinished(p.dataset.Name, metrics.StatusFailure)
		log.Error("run failed",
			zap.Error(err),
			zap.String("error_type", string(syncerrors.TypeOf(err))),
			zap.Duration("duration", result.Duration))
	case result.UpToDate:
		p.metrics.RunFinished(p.dataset.Name, metrics.StatusUpToDate)
		log.Info("no new data", zap.Duration("duration", result.Duration))
	default:
		p.metrics.RunFinished(p.dataset.Name, metrics.StatusSuccess)
		log.Info("run completed",
			zap.String("write_mode", string(result.WriteMode)),
			zap.Int("fetched", result.Fetched),
			zap.Int("after_dedup", result.AfterDedup),
			zap.Int64("loaded", result.Loaded),
			zap.Bool("dry_run", result.DryRun),
			zap.Duration("duration", result.Duration))
	}
	return result, err
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, result *RunResult) error {
	var wm models.Watermark
	if !p.snapshot() {
		err := p.stage(ctx, StageWatermark, func(ctx context.Context) error {
			var err error
			wm, err = p.resolver.Resolve(ctx, p.dataset.Table)
			return err
		})
		if err != nil {
			return err
		}
		result.Watermark = wm
	}

	plan, err := p.source.Plan(p.dataset.ResourceID, p.dataset.TimestampField, wm, p.dataset.PageLimit)
	if err != nil {
		return err
	}
	result.URL = plan.URL

	var records []models.Record
	err = p.stage(ctx, StageFetch, func(ctx context.Context) error {
		var err error
		records, err = p.source.Fetch(ctx, plan)
		return err
	})
	if err != nil {
		return err
	}
	result.Fetched = len(records)
	p.metrics.RowsFetched(p.dataset.Name, len(records))
	log.Info("fetched records",
		zap.Int("rows", len(records)),
		zap.Bool("bounded", plan.Bounded()))

	if len(records) == 0 {
		result.UpToDate = true
		return nil
	}
	if len(records) >= plan.Limit {
		result.Truncated = true
		log.Warn("page limit reached, remaining rows are fetched on the next run",
			zap.Int("limit", plan.Limit))
	}

	var batch *models.Batch
	err = p.stage(ctx, StageNormalize, func(context.Context) error {
		batch = p.normalizer.Normalize(records)
		return nil
	})
	if err != nil {
		return err
	}
	result.InvalidTimestamps = p.normalizer.Stats().InvalidTimestamps
	p.metrics.InvalidTimestamps(p.dataset.Name, result.InvalidTimestamps)

	if p.dataset.Mode == config.ModeSnapshot {
		StampTimestamp(batch, p.dataset.TimestampField, p.opts.Now)
	}

	err = p.stage(ctx, StageDedupe, func(context.Context) error {
		batch = p.dedup.Deduplicate(batch)
		return nil
	})
	if err != nil {
		return err
	}
	result.AfterDedup = batch.Len()
	p.metrics.RowsAfterDedup(p.dataset.Name, batch.Len())
	if batch.Len() == 0 {
		result.UpToDate = true
		return nil
	}

	mode := core.WriteModeReplace
	var schema core.Schema
	if wm != nil {
		mode = core.WriteModeAppend
		err = p.stage(ctx, StageReconcile, func(ctx context.Context) error {
			var err error
			schema, err = p.warehouse.TableColumns(ctx, p.dataset.Table)
			if err != nil {
				return syncerrors.QueryError(err, "read destination schema").
					WithDetail("table", p.warehouse.QualifiedName(p.dataset.Table))
			}
			var dropped []string
			batch, dropped = Reconcile(batch, schema)
			result.Dropped = dropped
			return nil
		})
		if err != nil {
			return err
		}
		if len(result.Dropped) > 0 {
			p.metrics.ColumnsDropped(p.dataset.Name, len(result.Dropped))
			log.Warn("dropping columns absent from destination",
				zap.Strings("columns", result.Dropped))
		}
	}
	result.WriteMode = mode

	if p.opts.DryRun {
		log.Info("dry run, skipping load",
			zap.String("table", p.warehouse.QualifiedName(p.dataset.Table)),
			zap.String("write_mode", string(mode)),
			zap.Int("rows", batch.Len()))
		return nil
	}

	var res *core.LoadResult
	err = p.stage(ctx, StageLoad, func(ctx context.Context) error {
		var err error
		res, err = p.loader.Load(ctx, p.dataset.Table, batch, mode, schema)
		return err
	})
	if err != nil {
		return err
	}
	result.Loaded = res.RowsLoaded
	result.JobID = res.JobID
	p.metrics.RowsLoaded(p.dataset.Name, string(mode), res.RowsLoaded)
	log.Info("inserted rows",
		zap.Int64("rows", res.RowsLoaded),
		zap.String("table", p.warehouse.QualifiedName(p.dataset.Table)))
	return nil
}

// stage runs fn in a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	timer := metrics.NewTimer(name)
	err := observability.TraceStage(ctx, name, fn, attribute.String("dataset", p.dataset.Name))
	p.metrics.ObserveStage(timer.Name(), timer.Stop())
	return err
}
