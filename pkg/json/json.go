// Package json wraps goccy/go-json with the encoding conventions civicsync
// needs: no HTML escaping, sorted map keys and pooled buffers for NDJSON.
package json

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Compact renders v as compact JSON without HTML escaping. Map keys are
// sorted, so equal values always render identically.
func Compact(v interface{}) (string, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DecodeArray decodes a JSON array of objects from r.
func DecodeArray(r io.Reader) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	dec := gojson.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode JSON array: %w", err)
	}
	return out, nil
}

// NDJSONWriter writes one compact JSON document per line.
type NDJSONWriter struct {
	enc   *gojson.Encoder
	count int64
}

// NewNDJSONWriter creates a writer emitting newline-delimited JSON to w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &NDJSONWriter{enc: enc}
}

// Write encodes v followed by a newline.
func (w *NDJSONWriter) Write(v interface{}) error {
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of documents written.
func (w *NDJSONWriter) Count() int64 {
	return w.count
}
