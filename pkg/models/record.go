// Package models provides the record and batch types that flow through an
// ingestion run.
//
// A Record is one JSON object returned by the source API. Field presence
// varies between records, so records stay maps and unknown fields are carried
// along until the destination schema narrows them. A Batch is the ordered set
// of records fetched in one run together with the ordered union of their
// columns.
package models

import (
	"sort"
	"time"
)

// Record maps field names to scalar values (string, float64, bool or nil).
type Record map[string]interface{}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Watermark is the ingestion time of the most recently stored record.
// A nil Watermark means the destination holds no usable value.
type Watermark = *time.Time

// NewWatermark returns a Watermark for t.
func NewWatermark(t time.Time) Watermark {
	return &t
}

// Batch is an ordered sequence of records with a stable column order.
type Batch struct {
	// Columns is the ordered union of the record keys.
	Columns []string
	// Rows keeps fetch order.
	Rows []Record
}

// NewBatch builds a batch from records. Columns are discovered in first-seen
// order: the first record's keys sorted by name, then each later record's
// new keys sorted by name and appended.
func NewBatch(records []Record) *Batch {
	b := &Batch{Rows: records}
	seen := make(map[string]struct{})
	for _, r := range records {
		var fresh []string
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		b.Columns = append(b.Columns, fresh...)
	}
	return b
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// HasColumn reports whether name is one of the batch columns.
func (b *Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends name to the column list if it is not present yet.
func (b *Batch) AddColumn(name string) {
	if !b.HasColumn(name) {
		b.Columns = append(b.Columns, name)
	}
}

// Project returns a new batch restricted to columns, in the given order.
// Rows are copied so the receiver is left untouched.
func (b *Batch) Project(columns []string) *Batch {
	out := &Batch{
		Columns: append([]string(nil), columns...),
		Rows:    make([]Record, len(b.Rows)),
	}
	for i, r := range b.Rows {
		row := make(Record, len(columns))
		for _, c := range columns {
			row[c] = r[c]
		}
		out.Rows[i] = row
	}
	return out
}

// Values returns the row's values in column order; missing fields are nil.
func (b *Batch) Values(row Record) []interface{} {
	vals := make([]interface{}, len(b.Columns))
	for i, c := range b.Columns {
		vals[i] = row[c]
	}
	return vals
}
