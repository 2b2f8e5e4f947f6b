package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/civicsync/civicsync/pkg/timestamps"
)

type fakeTable struct {
	schema core.Schema
	rows   []models.Record
}

// fakeWarehouse keeps tables in memory and evaluates its own max-timestamp
// queries.
type fakeWarehouse struct {
	mu     sync.Mutex
	tables map[string]*fakeTable

	columnsErr error
	queryErr   error
	loadErr    error
	scalar     interface{} // overrides the computed max when set

	columnCalls int
	queries     []string
	loads       []*core.LoadRequest
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{tables: make(map[string]*fakeTable)}
}

func (w *fakeWarehouse) seed(table string, schema core.Schema, rows ...models.Record) {
	w.tables[table] = &fakeTable{schema: schema, rows: rows}
}

func (w *fakeWarehouse) rows(table string) []models.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tables[table]; ok {
		return t.rows
	}
	return nil
}

func (w *fakeWarehouse) Kind() string { return "fake" }

func (w *fakeWarehouse) QualifiedName(table string) string { return "fake." + table }

func (w *fakeWarehouse) MaxTimestampQuery(table, column string) string {
	return "MAX " + table + " " + column
}

func (w *fakeWarehouse) QueryScalar(ctx context.Context, query string) (interface{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queries = append(w.queries, query)
	if w.queryErr != nil {
		return nil, w.queryErr
	}
	if w.scalar != nil {
		return w.scalar, nil
	}

	parts := strings.Fields(query)
	if len(parts) != 3 || parts[0] != "MAX" {
		return nil, fmt.Errorf("unsupported query %q", query)
	}
	t, ok := w.tables[parts[1]]
	if !ok {
		return nil, syncerrors.ErrTableNotFound
	}
	var latest *time.Time
	for _, row := range t.rows {
		s, _ := row[parts[2]].(string)
		ts, ok := timestamps.Parse(s)
		if !ok {
			continue
		}
		if latest == nil || ts.After(*latest) {
			latest = &ts
		}
	}
	if latest == nil {
		return nil, nil
	}
	return *latest, nil
}

func (w *fakeWarehouse) TableColumns(ctx context.Context, table string) (core.Schema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.columnCalls++
	if w.columnsErr != nil {
		return nil, w.columnsErr
	}
	t, ok := w.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", table, syncerrors.ErrTableNotFound)
	}
	return t.schema, nil
}

func (w *fakeWarehouse) Load(ctx context.Context, req *core.LoadRequest) (*core.LoadResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loads = append(w.loads, req)
	if w.loadErr != nil {
		return nil, w.loadErr
	}

	switch req.Mode {
	case core.WriteModeReplace:
		w.tables[req.Table] = &fakeTable{
			schema: req.Schema,
			rows:   append([]models.Record(nil), req.Batch.Rows...),
		}
	case core.WriteModeAppend:
		t, ok := w.tables[req.Table]
		if !ok {
			return nil, syncerrors.ErrTableNotFound
		}
		for _, col := range req.Batch.Columns {
			if !t.schema.Has(col) {
				return nil, fmt.Errorf("no such column: %s", col)
			}
		}
		t.rows = append(t.rows, req.Batch.Rows...)
	}
	return &core.LoadResult{
		Table:      req.Table,
		Mode:       req.Mode,
		RowsLoaded: int64(req.Batch.Len()),
		JobID:      fmt.Sprintf("job-%d", len(w.loads)),
	}, nil
}

func (w *fakeWarehouse) Close() error { return nil }

var _ core.Warehouse = (*fakeWarehouse)(nil)
