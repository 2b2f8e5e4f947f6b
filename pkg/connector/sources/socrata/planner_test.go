package socrata

import (
	"net/url"
	"testing"
	"time"

	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sfBase = "https://data.sfgov.org/resource"

func TestPlanFetchWithoutWatermark(t *testing.T) {
	plan, err := PlanFetch(sfBase, "wv5m-vpq2", "data_loaded_at", nil, 50000)
	require.NoError(t, err)

	assert.Equal(t, "https://data.sfgov.org/resource/wv5m-vpq2.json?$limit=50000", plan.URL)
	assert.False(t, plan.Bounded())
	assert.Empty(t, plan.Where)
}

func TestPlanFetchWithWatermark(t *testing.T) {
	wm := models.NewWatermark(time.Date(2024, 3, 1, 8, 15, 0, 0, time.UTC))
	plan, err := PlanFetch(sfBase+"/", "i98e-djp9", "data_loaded_at", wm, 100000)
	require.NoError(t, err)

	assert.True(t, plan.Bounded())
	assert.Equal(t, "data_loaded_at > '2024-03-01T08:15:00'", plan.Where)

	u, err := url.Parse(plan.URL)
	require.NoError(t, err)
	assert.Equal(t, "/resource/i98e-djp9.json", u.Path)
	q := u.Query()
	assert.Equal(t, "100000", q.Get("$limit"))
	assert.Equal(t, "data_loaded_at > '2024-03-01T08:15:00'", q.Get("$where"))
}

func TestPlanFetchWatermarkNormalization(t *testing.T) {
	pst := time.FixedZone("PST", -8*3600)
	wm := models.NewWatermark(time.Date(2024, 3, 1, 0, 15, 0, 987654321, pst))

	plan, err := PlanFetch(sfBase, "i98e-djp9", "data_loaded_at", wm, 10)
	require.NoError(t, err)
	assert.Equal(t, "data_loaded_at > '2024-03-01T08:15:00'", plan.Where)
}

func TestPlanFetchValidation(t *testing.T) {
	wm := models.NewWatermark(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name     string
		base, id string
		field    string
		wm       models.Watermark
		limit    int
	}{
		{"zero limit", sfBase, "i98e-djp9", "data_loaded_at", nil, 0},
		{"negative limit", sfBase, "i98e-djp9", "data_loaded_at", nil, -5},
		{"bad resource", sfBase, "../etc", "data_loaded_at", nil, 10},
		{"relative base", "resource", "i98e-djp9", "data_loaded_at", nil, 10},
		{"injected field", sfBase, "i98e-djp9", "x' OR '1'='1", wm, 10},
		{"empty field with watermark", sfBase, "i98e-djp9", "", wm, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlanFetch(tt.base, tt.id, tt.field, tt.wm, tt.limit)
			require.Error(t, err)
			assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeValidation))
		})
	}
}

func TestPlanFetchFieldIgnoredWithoutWatermark(t *testing.T) {
	_, err := PlanFetch(sfBase, "i98e-djp9", "", nil, 10)
	assert.NoError(t, err)
}
