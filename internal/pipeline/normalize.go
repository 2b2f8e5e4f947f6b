package pipeline

import (
	"math"
	"strings"
	"time"

	jsonpool "github.com/civicsync/civicsync/pkg/json"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/timestamps"
	"go.uber.org/zap"
)

// nullStrings are string values treated as missing, compared after
// trimming and lowercasing.
var nullStrings = map[string]struct{}{
	"":     {},
	"nan":  {},
	"null": {},
	"none": {},
	"nat":  {},
}

// NormalizeStats counts the values a normalization pass rewrote.
type NormalizeStats struct {
	Nulled            int
	Serialized        int
	InvalidTimestamps int
}

// Normalizer turns fetched records into a batch of scalar rows.
type Normalizer struct {
	timestampColumns map[string]struct{}
	logger           *zap.Logger

	lastStats NormalizeStats
}

// NewNormalizer creates a normalizer that re-renders the given columns as
// canonical timestamps.
func NewNormalizer(timestampColumns []string, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cols := make(map[string]struct{}, len(timestampColumns))
	for _, c := range timestampColumns {
		cols[c] = struct{}{}
	}
	return &Normalizer{timestampColumns: cols, logger: logger}
}

// Normalize builds a batch from records. Every row gets every batch column,
// null-like values become nil, nested values become compact JSON strings and
// timestamp columns are rendered in the canonical layout. Unparsable
// timestamps become nil. Columns are never dropped or renamed.
func (n *Normalizer) Normalize(records []models.Record) *models.Batch {
	batch := models.NewBatch(records)
	stats := NormalizeStats{}

	rows := make([]models.Record, len(records))
	for i, rec := range records {
		row := make(models.Record, len(batch.Columns))
		for _, col := range batch.Columns {
			v, ok := rec[col]
			if !ok {
				row[col] = nil
				continue
			}
			v = n.normalizeValue(v, &stats)
			if _, isTS := n.timestampColumns[col]; isTS && v != nil {
				v = n.normalizeTimestamp(v, &stats)
			}
			row[col] = v
		}
		rows[i] = row
	}
	batch.Rows = rows

	n.lastStats = stats
	if stats.InvalidTimestamps > 0 {
		n.logger.Warn("unparsable timestamps set to null",
			zap.Int("count", stats.InvalidTimestamps))
	}
	n.logger.Debug("normalized batch",
		zap.Int("rows", batch.Len()),
		zap.Int("columns", len(batch.Columns)),
		zap.Int("nulled", stats.Nulled),
		zap.Int("serialized", stats.Serialized))
	return batch
}

// Stats returns the counters of the most recent Normalize call.
func (n *Normalizer) Stats() NormalizeStats {
	return n.lastStats
}

func (n *Normalizer) normalizeValue(v interface{}, stats *NormalizeStats) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if _, null := nullStrings[strings.ToLower(strings.TrimSpace(t))]; null {
			stats.Nulled++
			return nil
		}
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			stats.Nulled++
			return nil
		}
		return t
	case bool:
		return t
	default:
		// nested objects and arrays, e.g. Socrata location columns
		s, err := jsonpool.Compact(t)
		if err != nil {
			n.logger.Warn("cannot serialize nested value", zap.Error(err))
			stats.Nulled++
			return nil
		}
		stats.Serialized++
		return s
	}
}

func (n *Normalizer) normalizeTimestamp(v interface{}, stats *NormalizeStats) interface{} {
	s, ok := v.(string)
	if !ok {
		stats.InvalidTimestamps++
		return nil
	}
	t, ok := timestamps.Parse(s)
	if !ok {
		stats.InvalidTimestamps++
		return nil
	}
	return timestamps.Format(t)
}

// StampTimestamp sets field to now on every row, adding the column when the
// batch lacks it.
func StampTimestamp(batch *models.Batch, field string, now func() time.Time) {
	value := timestamps.Format(now())
	batch.AddColumn(field)
	for _, row := range batch.Rows {
		row[field] = value
	}
}
