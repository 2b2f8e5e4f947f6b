package bigquery

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	jsonpool "github.com/civicsync/civicsync/pkg/json"
	"github.com/civicsync/civicsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

func testWarehouse() *Warehouse {
	return &Warehouse{
		config:    config.WarehouseConfig{Kind: Kind, DatasetID: "DataSF_Project"},
		projectID: "civic-project",
		logger:    zap.NewNop(),
	}
}

func TestQualifiedName(t *testing.T) {
	w := testWarehouse()
	assert.Equal(t, "civic-project.DataSF_Project.building_permits", w.QualifiedName("building_permits"))
	assert.Equal(t, Kind, w.Kind())
}

func TestMaxTimestampQuery(t *testing.T) {
	sql := testWarehouse().MaxTimestampQuery("building_permits", "data_loaded_at")

	assert.True(t, strings.HasPrefix(sql, "SELECT MAX(COALESCE(SAFE.PARSE_TIMESTAMP('%Y-%m-%d %H:%M:%E*S', CAST(`data_loaded_at` AS STRING))"))
	assert.Contains(t, sql, "SAFE.PARSE_TIMESTAMP('%Y-%m-%dT%H:%M:%E*S', CAST(`data_loaded_at` AS STRING))")
	assert.Contains(t, sql, "%Ez")
	assert.Contains(t, sql, "FROM `civic-project.DataSF_Project.building_permits`")
	assert.True(t, strings.HasSuffix(sql, "WHERE `data_loaded_at` IS NOT NULL"))
	assert.Equal(t, len(timestampFormats), strings.Count(sql, "SAFE.PARSE_TIMESTAMP"))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`plain`", quoteIdent("plain"))
	assert.Equal(t, "`a\\`b`", quoteIdent("a`b"))
}

func TestFieldTypeMapping(t *testing.T) {
	tests := []struct {
		coreType core.FieldType
		bqType   bigquery.FieldType
	}{
		{core.FieldTypeString, bigquery.StringFieldType},
		{core.FieldTypeInt, bigquery.IntegerFieldType},
		{core.FieldTypeFloat, bigquery.FloatFieldType},
		{core.FieldTypeBool, bigquery.BooleanFieldType},
		{core.FieldTypeTimestamp, bigquery.TimestampFieldType},
		{core.FieldTypeDate, bigquery.DateFieldType},
		{core.FieldTypeJSON, bigquery.JSONFieldType},
		{"unknown", bigquery.StringFieldType}, // Default case
	}

	for _, tt := range tests {
		t.Run(string(tt.coreType), func(t *testing.T) {
			assert.Equal(t, tt.bqType, mapFieldTypeToBigQuery(tt.coreType))
		})
	}
}

func TestFromBigQuerySchema(t *testing.T) {
	schema := fromBigQuerySchema(bigquery.Schema{
		{Name: "permit_number", Type: bigquery.StringFieldType},
		{Name: "estimated_cost", Type: bigquery.NumericFieldType},
		{Name: "data_loaded_at", Type: bigquery.TimestampFieldType},
		{Name: "geom", Type: bigquery.GeographyFieldType},
	})

	assert.Equal(t, core.Schema{
		{Name: "permit_number", Type: core.FieldTypeString},
		{Name: "estimated_cost", Type: core.FieldTypeFloat},
		{Name: "data_loaded_at", Type: core.FieldTypeTimestamp},
		{Name: "geom", Type: core.FieldTypeOther},
	}, schema)
}

func TestToBigQuerySchemaIsNullable(t *testing.T) {
	bq := toBigQuerySchema(core.Schema{{Name: "a", Type: core.FieldTypeBool}})
	require.Len(t, bq, 1)
	assert.Equal(t, "a", bq[0].Name)
	assert.Equal(t, bigquery.BooleanFieldType, bq[0].Type)
	assert.False(t, bq[0].Required)
}

func TestEncodeNDJSON(t *testing.T) {
	batch := models.NewBatch([]models.Record{
		{"permit_number": "1", "estimated_cost": 1200.5, "extra": "dropped-by-batch"},
		{"permit_number": "2", "estimated_cost": nil},
	})
	batch = batch.Project([]string{"permit_number", "estimated_cost"})

	var buf bytes.Buffer
	err := encodeNDJSON(&buf, &core.LoadRequest{
		Table: "building_permits",
		Mode:  core.WriteModeAppend,
		Batch: batch,
		Schema: core.Schema{
			{Name: "permit_number", Type: core.FieldTypeString},
			{Name: "estimated_cost", Type: core.FieldTypeString},
		},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, jsonpool.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, map[string]interface{}{"permit_number": "1", "estimated_cost": "1200.5"}, first)
	assert.Equal(t, `{"estimated_cost":null,"permit_number":"2"}`, lines[1])
}

func TestConfigureLoader(t *testing.T) {
	batch := models.NewBatch([]models.Record{{"a": "x"}})

	replace := &bigquery.Loader{}
	configureLoader(replace, &core.LoadRequest{Mode: core.WriteModeReplace, Batch: batch})
	assert.Equal(t, bigquery.WriteTruncate, replace.WriteDisposition)
	assert.Equal(t, bigquery.CreateIfNeeded, replace.CreateDisposition)

	appendLoader := &bigquery.Loader{}
	configureLoader(appendLoader, &core.LoadRequest{Mode: core.WriteModeAppend, Batch: batch})
	assert.Equal(t, bigquery.WriteAppend, appendLoader.WriteDisposition)
	assert.Equal(t, bigquery.CreateNever, appendLoader.CreateDisposition)
}

func TestJobLabels(t *testing.T) {
	batch := models.NewBatch([]models.Record{{"a": "x"}, {"a": "y"}})
	labels := jobLabels(&core.LoadRequest{Table: "Building_Permits", Mode: core.WriteModeAppend, Batch: batch})

	assert.Equal(t, "civicsync", labels["source"])
	assert.Equal(t, "building_permits", labels["table"])
	assert.Equal(t, "append", labels["mode"])
	assert.Equal(t, "2", labels["records"])
}

func TestLabelValue(t *testing.T) {
	assert.Equal(t, "real_estate-v2_x", labelValue("Real_Estate-V2.X"))
	assert.Len(t, labelValue(strings.Repeat("a", 100)), 63)
}

func TestNewJobID(t *testing.T) {
	a := newJobID("building_permits")
	b := newJobID("building_permits")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "civicsync_building_permits_"))
	assert.NotContains(t, a, "-")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&googleapi.Error{Code: 404}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 404})))
	assert.False(t, isNotFound(&googleapi.Error{Code: 403}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestStagerNaming(t *testing.T) {
	s := &gcsStager{bucket: "civic-staging", prefix: "civicsync/loads"}
	obj := s.objectName("civicsync_permits_abc")
	assert.Equal(t, "civicsync/loads/civicsync_permits_abc.json", obj)
	assert.Equal(t, "gs://civic-staging/civicsync/loads/civicsync_permits_abc.json", s.uri(obj))

	bare := &gcsStager{bucket: "b"}
	assert.Equal(t, "job.json", bare.objectName("job"))
}
