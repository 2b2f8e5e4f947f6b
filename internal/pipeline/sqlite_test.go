package pipeline

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/connector/destinations/sqlwarehouse"
	"github.com/civicsync/civicsync/pkg/connector/sources/socrata"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLiteBootstrapThenIncremental(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	wh, err := sqlwarehouse.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "civic.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	srv := newSocrataServer(t, http.StatusOK, `[
		{"permit_number":"1","status":"filed","data_loaded_at":"2024-01-01T00:00:00.000"},
		{"permit_number":"2","status":"filed","data_loaded_at":"2024-01-01T12:00:00.000"}
	]`)
	src := socrata.NewSource(socrata.Config{BaseURL: srv.URL + "/resource"}, logger)
	ds := permitsDataset(config.ModeIncremental)

	res, err := New(ds, src, wh, nil, Options{FullRefresh: true}, logger).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.WriteModeReplace, res.WriteMode)
	assert.Equal(t, int64(2), res.Loaded)

	srv.mu.Lock()
	srv.body = `[
		{"permit_number":"3","status":"issued","data_loaded_at":"2024-01-02T08:00:00.000","extra":"dropped"}
	]`
	srv.mu.Unlock()

	res, err = New(ds, src, wh, nil, Options{}, logger).Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Watermark)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), *res.Watermark)
	assert.Equal(t, "data_loaded_at > '2024-01-01T12:00:00'", srv.wheres[1])
	assert.Equal(t, core.WriteModeAppend, res.WriteMode)
	assert.Equal(t, []string{"extra"}, res.Dropped)

	count, err := wh.QueryScalar(ctx, `SELECT COUNT(*) FROM "permits"`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestWatermarkResolverSQLiteParsesStoredValues(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	wh, err := sqlwarehouse.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "civic.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	batch := models.NewBatch([]models.Record{
		{"permit_number": "1", "data_loaded_at": "2024-01-01 23:00:00-05:00"},
		{"permit_number": "2", "data_loaded_at": "2024-01-02 01:00:00"},
		{"permit_number": "3", "data_loaded_at": "unknown"},
	})
	_, err = wh.Load(ctx, &core.LoadRequest{
		Table:  "permits",
		Mode:   core.WriteModeReplace,
		Batch:  batch,
		Schema: core.InferSchema(batch),
	})
	require.NoError(t, err)

	wm, err := NewWatermarkResolver(wh, "data_loaded_at", logger).Resolve(ctx, "permits")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC), *wm)
}
