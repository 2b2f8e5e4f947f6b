// Package bigquery implements the BigQuery warehouse: watermark queries,
// table metadata reads and atomic load jobs.
package bigquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Kind is the registry key of this warehouse.
const Kind = "bigquery"

const defaultJobTimeout = 10 * time.Minute

// Warehouse is a BigQuery dataset holding the synchronized tables.
type Warehouse struct {
	config    config.WarehouseConfig
	projectID string

	client  *bigquery.Client
	dataset *bigquery.Dataset
	stager  *gcsStager

	logger *zap.Logger
}

// New connects to BigQuery. Credentials come from cfg.CredentialsFile when
// set, otherwise from Application Default Credentials; an empty project ID
// is taken from those credentials.
func New(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DatasetID == "" {
		return nil, syncerrors.New(syncerrors.ErrorTypeConfig, "bigquery dataset_id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	projectID, err := resolveProjectID(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to create BigQuery client")
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	w := &Warehouse{
		config:    cfg,
		projectID: client.Project(),
		client:    client,
		dataset:   client.Dataset(cfg.DatasetID),
		logger:    logger,
	}

	if cfg.StagingBucket != "" {
		w.stager, err = newGCSStager(ctx, cfg.StagingBucket, cfg.StagingPrefix, logger, opts...)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	logger.Info("BigQuery warehouse initialized",
		zap.String("project_id", w.projectID),
		zap.String("dataset_id", cfg.DatasetID),
		zap.Bool("gcs_staging", w.stager != nil))
	return w, nil
}

// resolveProjectID returns the configured project or the one attached to
// the credentials. bigquery.DetectProjectID is the last resort and lets the
// client library look at the environment itself.
func resolveProjectID(ctx context.Context, cfg config.WarehouseConfig) (string, error) {
	if cfg.ProjectID != "" {
		return cfg.ProjectID, nil
	}

	var creds *google.Credentials
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile) //nolint:gosec // G304: path comes from configuration
		if err != nil {
			return "", syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to read credentials file")
		}
		creds, err = google.CredentialsFromJSON(ctx, data, bigquery.Scope)
		if err != nil {
			return "", syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "invalid credentials file")
		}
	} else {
		var err error
		creds, err = google.FindDefaultCredentials(ctx, bigquery.Scope)
		if err != nil {
			return "", syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "no application default credentials")
		}
	}

	if creds.ProjectID != "" {
		return creds.ProjectID, nil
	}
	return bigquery.DetectProjectID, nil
}

// Kind implements core.Warehouse.
func (w *Warehouse) Kind() string {
	return Kind
}

// QualifiedName returns project.dataset.table.
func (w *Warehouse) QualifiedName(table string) string {
	return fmt.Sprintf("%s.%s.%s", w.projectID, w.config.DatasetID, table)
}

// QueryScalar runs query and returns the first column of the first row.
// TIMESTAMP results arrive as time.Time.
func (w *Warehouse) QueryScalar(ctx context.Context, query string) (interface{}, error) {
	q := w.client.Query(query)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}

	var row []bigquery.Value
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read query result: %w", err)
	}
	if len(row) == 0 {
		return nil, nil
	}
	return row[0], nil
}

// MaxTimestampQuery implements core.Warehouse.
func (w *Warehouse) MaxTimestampQuery(table, column string) string {
	return maxTimestampSQL(w.QualifiedName(table), column)
}

// TableColumns reads the table schema from its metadata.
func (w *Warehouse) TableColumns(ctx context.Context, table string) (core.Schema, error) {
	md, err := w.dataset.Table(table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", w.QualifiedName(table), syncerrors.ErrTableNotFound)
		}
		return nil, fmt.Errorf("read table metadata: %w", err)
	}
	return fromBigQuerySchema(md.Schema), nil
}

// Load writes the batch with a single load job, which either lands every
// row or none. Replace loads truncate the table and supersede its schema
// (creating the table when needed); append loads require the table.
func (w *Warehouse) Load(ctx context.Context, req *core.LoadRequest) (*core.LoadResult, error) {
	result := &core.LoadResult{Table: w.QualifiedName(req.Table), Mode: req.Mode}
	if req.Batch.Len() == 0 {
		return result, nil
	}

	if req.Mode == core.WriteModeReplace {
		if err := w.ensureDataset(ctx); err != nil {
			return nil, err
		}
	}

	buf := &bytes.Buffer{}
	if err := encodeNDJSON(buf, req); err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	jobID := newJobID(req.Table)
	result.JobID = jobID

	var (
		source bigquery.LoadSource
		fc     *bigquery.FileConfig
	)
	if w.stager != nil {
		object := w.stager.objectName(jobID)
		uri, err := w.stager.Upload(ctx, object, buf.Bytes())
		if err != nil {
			return nil, err
		}
		defer w.stager.Delete(context.WithoutCancel(ctx), object)

		ref := bigquery.NewGCSReference(uri)
		source, fc = ref, &ref.FileConfig
	} else {
		rs := bigquery.NewReaderSource(bytes.NewReader(buf.Bytes()))
		source, fc = rs, &rs.FileConfig
	}
	fc.SourceFormat = bigquery.JSON
	if req.Mode == core.WriteModeReplace {
		fc.Schema = toBigQuerySchema(req.Schema)
	}

	loader := w.dataset.Table(req.Table).LoaderFrom(source)
	loader.JobID = jobID
	configureLoader(loader, req)
	loader.Labels = jobLabels(req)

	w.logger.Info("Submitting BigQuery load job",
		zap.String("job_id", jobID),
		zap.String("table", result.Table),
		zap.String("mode", string(req.Mode)),
		zap.Int("record_count", req.Batch.Len()),
		zap.Int("bytes", buf.Len()))

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit load job: %w", err)
	}

	timeout := w.config.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, err := job.Wait(jobCtx)
	if err != nil {
		return nil, fmt.Errorf("load job %s failed or timed out: %w", jobID, err)
	}
	if status.Err() != nil {
		for i, jobErr := range status.Errors {
			w.logger.Error("Load job error detail",
				zap.String("job_id", jobID),
				zap.Int("error_index", i),
				zap.String("message", jobErr.Message),
				zap.String("reason", jobErr.Reason),
				zap.String("location", jobErr.Location))
		}
		return nil, fmt.Errorf("load job %s: %w", jobID, status.Err())
	}

	result.RowsLoaded = int64(req.Batch.Len())
	if status.Statistics != nil {
		if loadStats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			result.RowsLoaded = loadStats.OutputRows
			w.logger.Info("BigQuery load job completed",
				zap.String("job_id", jobID),
				zap.Int64("input_file_bytes", loadStats.InputFileBytes),
				zap.Int64("output_rows", loadStats.OutputRows))
		}
	}
	return result, nil
}

func (w *Warehouse) ensureDataset(ctx context.Context) error {
	_, err := w.dataset.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("read dataset metadata: %w", err)
	}

	w.logger.Info("creating dataset", zap.String("dataset_id", w.config.DatasetID))
	err = w.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: w.config.Location})
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

// Close closes the BigQuery and storage clients.
func (w *Warehouse) Close() error {
	var errs []error
	if w.stager != nil {
		errs = append(errs, w.stager.Close())
	}
	if w.client != nil {
		errs = append(errs, w.client.Close())
	}
	return errors.Join(errs...)
}

func configureLoader(loader *bigquery.Loader, req *core.LoadRequest) {
	if req.Mode == core.WriteModeReplace {
		loader.WriteDisposition = bigquery.WriteTruncate
		loader.CreateDisposition = bigquery.CreateIfNeeded
		return
	}
	// Append writes into the existing schema; rows only carry columns
	// that the table already defines.
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateNever
}

func newJobID(table string) string {
	return fmt.Sprintf("civicsync_%s_%s", table, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// jobLabels tags load jobs for cost attribution in the BigQuery console.
func jobLabels(req *core.LoadRequest) map[string]string {
	return map[string]string{
		"source":     "civicsync",
		"type":       "load",
		"table":      labelValue(req.Table),
		"mode":       string(req.Mode),
		"records":    fmt.Sprintf("%d", req.Batch.Len()),
		"created_at": fmt.Sprintf("%d", time.Now().Unix()),
	}
}

// labelValue lowercases s and replaces characters labels do not accept.
func labelValue(s string) string {
	s = strings.ToLower(s)
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(b) < 63; i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			b = append(b, c)
		} else {
			b = append(b, '_')
		}
	}
	return string(b)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
