package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	jsonpool "github.com/civicsync/civicsync/pkg/json"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Key encoding tags. Each value is written as tag, then for non-nil values a
// uvarint length and the payload, so ("a","bc") and ("ab","c") differ.
const (
	tagNil byte = iota
	tagString
	tagFloat
	tagBool
	tagOther
)

// Deduplicator removes rows sharing a natural key, keeping the first.
type Deduplicator struct {
	key    []string
	logger *zap.Logger
}

// NewDeduplicator creates a deduplicator over the ordered natural key. An
// empty key compares whole rows.
func NewDeduplicator(naturalKey []string, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		key:    append([]string(nil), naturalKey...),
		logger: logger,
	}
}

// Deduplicate returns a batch holding the first row of every distinct key
// in fetch order. The input batch is not modified.
func (d *Deduplicator) Deduplicate(batch *models.Batch) *models.Batch {
	keyCols := d.key
	if len(keyCols) == 0 {
		keyCols = batch.Columns
	}

	out := &models.Batch{
		Columns: append([]string(nil), batch.Columns...),
		Rows:    make([]models.Record, 0, batch.Len()),
	}

	buf := jsonpool.GetBuffer()
	defer jsonpool.PutBuffer(buf)

	// hash -> indexes into out.Rows with that hash
	seen := make(map[uint64][]int, batch.Len())
	for _, row := range batch.Rows {
		buf.Reset()
		encodeKey(buf, row, keyCols)
		h := xxh3.Hash(buf.Bytes())

		dup := false
		for _, idx := range seen[h] {
			if sameKey(out.Rows[idx], row, keyCols) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(seen[h], len(out.Rows))
		out.Rows = append(out.Rows, row)
	}

	d.logger.Info("deduplicated batch",
		zap.Int("rows_in", batch.Len()),
		zap.Int("rows_after_dedup", out.Len()),
		zap.Strings("natural_key", d.key))
	return out
}

func encodeKey(buf *bytes.Buffer, row models.Record, cols []string) {
	var scratch [binary.MaxVarintLen64]byte
	writeBytes := func(tag byte, b []byte) {
		buf.WriteByte(tag)
		n := binary.PutUvarint(scratch[:], uint64(len(b)))
		buf.Write(scratch[:n])
		buf.Write(b)
	}

	for _, col := range cols {
		switch v := row[col].(type) {
		case nil:
			buf.WriteByte(tagNil)
		case string:
			writeBytes(tagString, []byte(v))
		case float64:
			if v == 0 {
				v = 0 // -0 equals 0 under sameKey
			}
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
			writeBytes(tagFloat, b[:])
		case bool:
			b := []byte{0}
			if v {
				b[0] = 1
			}
			writeBytes(tagBool, b)
		default:
			writeBytes(tagOther, []byte(fmt.Sprintf("%v", v)))
		}
	}
}

func sameKey(a, b models.Record, cols []string) bool {
	for _, col := range cols {
		av, bv := a[col], b[col]
		if av == nil && bv == nil {
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
