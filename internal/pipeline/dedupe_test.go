package pipeline

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/civicsync/civicsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyOf(row models.Record, cols []string) string {
	vals := make([]interface{}, len(cols))
	for i, c := range cols {
		vals[i] = row[c]
	}
	return fmt.Sprintf("%#v", vals)
}

func TestDeduplicateNaturalKey(t *testing.T) {
	key := []string{"permit_number", "status"}
	batch := NewNormalizer(nil, nil).Normalize([]models.Record{
		{"permit_number": "1", "status": "filed", "note": "first"},
		{"permit_number": "2", "status": "filed"},
		{"permit_number": "1", "status": "filed", "note": "second"},
		{"permit_number": "1", "status": "issued"},
		{"permit_number": "2", "status": "filed"},
		{"status": "filed"},
		{"permit_number": nil, "status": "filed", "note": "missing equals nil"},
	})

	out := NewDeduplicator(key, nil).Deduplicate(batch)

	require.Equal(t, 4, out.Len())
	assert.Equal(t, "first", out.Rows[0]["note"], "first occurrence wins")
	assert.Equal(t, "2", out.Rows[1]["permit_number"])
	assert.Equal(t, "issued", out.Rows[2]["status"])
	assert.Nil(t, out.Rows[3]["permit_number"])
	assert.Equal(t, 7, batch.Len(), "input untouched")

	// uniqueness
	seen := map[string]bool{}
	for _, row := range out.Rows {
		k := keyOf(row, key)
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	// coverage
	for _, row := range batch.Rows {
		assert.True(t, seen[keyOf(row, key)])
	}
}

func TestDeduplicateWholeRow(t *testing.T) {
	batch := NewNormalizer(nil, nil).Normalize([]models.Record{
		{"a": "1", "b": 2.0},
		{"a": "1", "b": 2.0},
		{"a": "1", "b": "2"},
		{"a": "1", "b": 3.0},
	})

	out := NewDeduplicator(nil, nil).Deduplicate(batch)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, 2.0, out.Rows[0]["b"])
	assert.Equal(t, "2", out.Rows[1]["b"], "string and number are distinct")
	assert.Equal(t, 3.0, out.Rows[2]["b"])
}

func TestDeduplicateIdempotent(t *testing.T) {
	d := NewDeduplicator([]string{"id"}, nil)
	batch := NewNormalizer(nil, nil).Normalize([]models.Record{
		{"id": "a"}, {"id": "b"}, {"id": "a"}, {"id": "c"}, {"id": "b"},
	})

	once := d.Deduplicate(batch)
	twice := d.Deduplicate(once)
	assert.Equal(t, once.Rows, twice.Rows)
	assert.Equal(t, once.Columns, twice.Columns)
}

func TestDeduplicateEmpty(t *testing.T) {
	out := NewDeduplicator([]string{"id"}, nil).Deduplicate(&models.Batch{})
	assert.Equal(t, 0, out.Len())
}

func TestDeduplicateSignedZero(t *testing.T) {
	batch := models.NewBatch([]models.Record{
		{"k": 0.0, "note": "first"},
		{"k": math.Copysign(0, -1), "note": "second"},
	})
	out := NewDeduplicator([]string{"k"}, nil).Deduplicate(batch)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "first", out.Rows[0]["note"])

	var a, b bytes.Buffer
	encodeKey(&a, batch.Rows[0], []string{"k"})
	encodeKey(&b, batch.Rows[1], []string{"k"})
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestEncodeKeyIsUnambiguous(t *testing.T) {
	cols := []string{"x", "y"}
	var a, b bytes.Buffer
	encodeKey(&a, models.Record{"x": "a", "y": "bc"}, cols)
	encodeKey(&b, models.Record{"x": "ab", "y": "c"}, cols)
	assert.NotEqual(t, a.Bytes(), b.Bytes())

	a.Reset()
	b.Reset()
	encodeKey(&a, models.Record{"x": nil, "y": "1"}, cols)
	encodeKey(&b, models.Record{"x": "", "y": "1"}, cols)
	assert.NotEqual(t, a.Bytes(), b.Bytes())
}
