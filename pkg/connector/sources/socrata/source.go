// Package socrata fetches records from a Socrata Open Data (SODA) API.
package socrata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/civicsync/civicsync/pkg/clients"
	jsonpool "github.com/civicsync/civicsync/pkg/json"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"go.uber.org/zap"
)

// maxErrorBody caps the response excerpt attached to fetch errors.
const maxErrorBody = 512

// Config configures a Socrata source.
type Config struct {
	BaseURL   string
	AppToken  string
	UserAgent string
	Timeout   time.Duration
}

// Source reads one page of records per request.
type Source struct {
	config Config
	client *clients.HTTPClient
	logger *zap.Logger
}

// NewSource creates a source backed by a tuned HTTP client.
func NewSource(config Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpCfg := clients.DefaultHTTPConfig()
	if config.Timeout > 0 {
		httpCfg.RequestTimeout = config.Timeout
	}
	if config.UserAgent != "" {
		httpCfg.UserAgent = config.UserAgent
	}
	if config.AppToken != "" {
		httpCfg.Headers = map[string]string{"X-App-Token": config.AppToken}
	}

	return &Source{
		config: config,
		client: clients.NewHTTPClient(httpCfg, logger),
		logger: logger.With(zap.String("source", "socrata")),
	}
}

// Plan builds a fetch plan against the configured base URL.
func (s *Source) Plan(resourceID, field string, wm models.Watermark, limit int) (*FetchPlan, error) {
	return PlanFetch(s.config.BaseURL, resourceID, field, wm, limit)
}

// Fetch executes plan and returns the decoded records in response order.
// A non-2xx status, a transport failure and an undecodable body are all
// fetch errors; an empty array is a successful empty result.
func (s *Source) Fetch(ctx context.Context, plan *FetchPlan) ([]models.Record, error) {
	start := time.Now()

	resp, err := s.client.Get(ctx, plan.URL, nil)
	if err != nil {
		return nil, syncerrors.FetchError(err, "request failed").
			WithDetail("resource_id", plan.ResourceID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, syncerrors.FetchError(nil, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDetail("resource_id", plan.ResourceID).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", strings.TrimSpace(string(excerpt)))
	}

	rows, err := jsonpool.DecodeArray(resp.Body)
	if err != nil {
		return nil, syncerrors.FetchError(err, "undecodable response").
			WithDetail("resource_id", plan.ResourceID)
	}

	records := make([]models.Record, len(rows))
	for i, row := range rows {
		records[i] = models.Record(row)
	}

	s.logger.Debug("fetched page",
		zap.String("resource_id", plan.ResourceID),
		zap.Bool("bounded", plan.Bounded()),
		zap.Int("rows", len(records)),
		zap.Duration("duration", time.Since(start)))
	return records, nil
}

// Close releases idle connections.
func (s *Source) Close() error {
	return s.client.Close()
}
