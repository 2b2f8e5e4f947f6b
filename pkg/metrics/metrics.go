// Package metrics tracks ingestion runs with Prometheus metrics.
//
// # Overview
//
// Each process owns one Collector backed by a private registry. A batch job
// has no scrape window, so the registry is pushed to a Pushgateway at the
// end of every run when a gateway is configured.
//
// # Basic Usage
//
//	c := metrics.NewCollector()
//	c.RowsFetched("building_permits", len(records))
//
//	timer := metrics.NewTimer("fetch")
//	records, err := src.Fetch(ctx, plan)
//	c.ObserveStage(timer.Name(), timer.Stop())
//
//	if err := c.Push(ctx, "http://pushgateway:9091", "civicsync"); err != nil {
//	    logger.Warn("metrics push failed", zap.Error(err))
//	}
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "civicsync"

// Run outcomes for RunFinished.
const (
	StatusSuccess  = "success"
	StatusUpToDate = "up_to_date"
	StatusFailure  = "failure"
)

// Collector holds the civicsync metrics.
type Collector struct {
	reg *prometheus.Registry

	rowsFetched       *prometheus.CounterVec   // rows returned by the source
	rowsAfterDedup    *prometheus.GaugeVec     // rows left in the last batch after dedup
	rowsLoaded        *prometheus.CounterVec   // rows written to the warehouse
	columnsDropped    *prometheus.CounterVec   // batch columns absent from the destination
	invalidTimestamps *prometheus.CounterVec   // timestamp values nulled by the normalizer
	runs              *prometheus.CounterVec   // runs by outcome
	lastSuccess       *prometheus.GaugeVec     // unix time of the last successful run
	stageDuration     *prometheus.HistogramVec // duration of each pipeline stage
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		rowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Rows returned by the source API.",
		}, []string{"dataset"}),
		rowsAfterDedup: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_after_dedup",
			Help:      "Rows remaining in the most recent batch after natural-key deduplication.",
		}, []string{"dataset"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows written to the warehouse.",
		}, []string{"dataset", "mode"}),
		columnsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_dropped_total",
			Help:      "Batch columns dropped because the destination table does not define them.",
		}, []string{"dataset"}),
		invalidTimestamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_timestamps_total",
			Help:      "Timestamp values that could not be parsed and were replaced by null.",
		}, []string{"dataset"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"dataset", "status"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"dataset"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
	}

	c.reg.MustRegister(
		c.rowsFetched,
		c.rowsAfterDedup,
		c.rowsLoaded,
		c.columnsDropped,
		c.invalidTimestamps,
		c.runs,
		c.lastSuccess,
		c.stageDuration,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// RowsFetched adds n fetched rows.
func (c *Collector) RowsFetched(dataset string, n int) {
	c.rowsFetched.WithLabelValues(dataset).Add(float64(n))
}

// RowsAfterDedup sets the post-dedup row count of the current batch.
func (c *Collector) RowsAfterDedup(dataset string, n int) {
	c.rowsAfterDedup.WithLabelValues(dataset).Set(float64(n))
}

// RowsLoaded adds n loaded rows.
func (c *Collector) RowsLoaded(dataset, mode string, n int64) {
	c.rowsLoaded.WithLabelValues(dataset, mode).Add(float64(n))
}

// ColumnsDropped adds n dropped columns.
func (c *Collector) ColumnsDropped(dataset string, n int) {
	c.columnsDropped.WithLabelValues(dataset).Add(float64(n))
}

// InvalidTimestamps adds n unparsable timestamp values.
func (c *Collector) InvalidTimestamps(dataset string, n int) {
	c.invalidTimestamps.WithLabelValues(dataset).Add(float64(n))
}

// RunFinished records a run outcome.
func (c *Collector) RunFinished(dataset, status string) {
	c.runs.WithLabelValues(dataset, status).Inc()
	if status != StatusFailure {
		c.lastSuccess.WithLabelValues(dataset).SetToCurrentTime()
	}
}

// ObserveStage records the duration of a pipeline stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Push sends the registry to the Pushgateway at url under job. The push
// replaces any earlier metrics of the same job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = namespace
	}
	if err := push.New(url, job).Gatherer(c.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Timer measures the duration of a pipeline stage.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the stage name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
