package timestamps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
		ok    bool
	}{
		{"space separated", "2024-01-02 03:04:05", want, true},
		{"T separated", "2024-01-02T03:04:05", want, true},
		{"T separated with millis", "2024-01-02T03:04:05.000", want, true},
		{"fractional", "2024-01-02T03:04:05.250", want.Add(250 * time.Millisecond), true},
		{"rfc3339 zulu", "2024-01-02T03:04:05Z", want, true},
		{"rfc3339 offset", "2024-01-02T05:04:05+02:00", want, true},
		{"bigquery string cast", "2024-01-02 03:04:05+00", want, true},
		{"date only", "2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"surrounding space", "  2024-01-02 03:04:05 ", want, true},
		{"empty", "", time.Time{}, false},
		{"garbage", "not a date", time.Time{}, false},
		{"month out of range", "2024-13-02T03:04:05", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func TestFormat(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.FixedZone("PST", -8*3600))
	assert.Equal(t, "2024-01-02T11:04:05.123", Format(ts))
	assert.Equal(t, "2024-01-02T11:04:05", FormatWatermark(ts))
}

func TestFormatRoundTrip(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)
	got, ok := Parse(Format(ts))
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
}
