package bigquery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// gcsStager uploads load files to Cloud Storage so the load job reads them
// by reference instead of through a media upload.
type gcsStager struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func newGCSStager(ctx context.Context, bucket, prefix string, logger *zap.Logger, opts ...option.ClientOption) (*gcsStager, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to create storage client")
	}
	return &gcsStager{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}, nil
}

func (s *gcsStager) objectName(jobID string) string {
	return path.Join(s.prefix, jobID+".json")
}

func (s *gcsStager) uri(object string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, object)
}

// Upload writes data to object and returns its gs:// URI.
func (s *gcsStager) Upload(ctx context.Context, object string, data []byte) (string, error) {
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", s.uri(object), err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", s.uri(object), err)
	}

	s.logger.Debug("staged load file", zap.String("uri", s.uri(object)), zap.Int("bytes", len(data)))
	return s.uri(object), nil
}

// Delete removes a staged object. Failures are logged only; the load has
// already finished by then.
func (s *gcsStager) Delete(ctx context.Context, object string) {
	if err := s.client.Bucket(s.bucket).Object(object).Delete(ctx); err != nil {
		s.logger.Warn("failed to delete staged load file", zap.String("uri", s.uri(object)), zap.Error(err))
	}
}

func (s *gcsStager) Close() error {
	return s.client.Close()
}
