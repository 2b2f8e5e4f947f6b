// Package timestamps parses and renders the timestamp strings found in
// Socrata datasets and in previously loaded warehouse rows.
//
// Stored values come in more than one encoding: "2024-01-02 03:04:05"
// (space separated, written by earlier snapshot loads), "2024-01-02T03:04:05.000"
// (Socrata floating timestamps) and RFC 3339 with a zone. Parse tries each
// accepted layout in order and the first one that matches wins.
package timestamps

import (
	"strings"
	"time"
)

// Canonical is the layout every normalized timestamp column is rendered in.
const Canonical = "2006-01-02T15:04:05.000"

// Watermark is the layout of the watermark literal sent to the source API:
// second precision, no fractional part, no zone suffix.
const Watermark = "2006-01-02T15:04:05"

// Layouts are the accepted input layouts in match order. Fractional seconds
// are accepted after the seconds field even though the layouts omit them.
var Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02",
}

// Parse parses s with the first matching layout in Layouts. Values without
// a zone are interpreted as UTC; the result is always in UTC.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Format renders t in the canonical layout (UTC).
func Format(t time.Time) string {
	return t.UTC().Format(Canonical)
}

// FormatWatermark renders t for a source API filter.
func FormatWatermark(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(Watermark)
}
