package core

import (
	"testing"

	"github.com/civicsync/civicsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferSchema(t *testing.T) {
	batch := models.NewBatch([]models.Record{
		{"permit_number": "2024-001", "estimated_cost": 1200.5, "voluntary": true, "unit": nil},
		{"permit_number": "2024-002", "estimated_cost": nil, "voluntary": false, "unit": nil},
	})
	batch.AddColumn("mixed")
	batch.Rows[0]["mixed"] = 1.0
	batch.Rows[1]["mixed"] = "x"

	schema := InferSchema(batch)
	require.Len(t, schema, 5)

	types := map[string]FieldType{}
	for _, c := range schema {
		types[c.Name] = c.Type
	}
	assert.Equal(t, FieldTypeString, types["permit_number"])
	assert.Equal(t, FieldTypeFloat, types["estimated_cost"])
	assert.Equal(t, FieldTypeBool, types["voluntary"])
	assert.Equal(t, FieldTypeString, types["unit"])
	assert.Equal(t, FieldTypeString, types["mixed"])
	assert.Equal(t, batch.Columns, schema.Names())
}

func TestSchemaLookup(t *testing.T) {
	s := Schema{{Name: "a", Type: FieldTypeString}, {Name: "b", Type: FieldTypeInt}}
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("c"))

	c, ok := s.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, FieldTypeInt, c.Type)
}

func TestCoerceValue(t *testing.T) {
	assert.Equal(t, "1200.5", CoerceValue(1200.5, FieldTypeString))
	assert.Equal(t, "3", CoerceValue(3.0, FieldTypeString))
	assert.Equal(t, "true", CoerceValue(true, FieldTypeString))
	assert.Equal(t, "x", CoerceValue("x", FieldTypeString))
	assert.Nil(t, CoerceValue(nil, FieldTypeString))
	assert.Equal(t, 3.0, CoerceValue(3.0, FieldTypeFloat))
	assert.Equal(t, "12", CoerceValue("12", FieldTypeInt))
}

func TestParseWriteMode(t *testing.T) {
	m, err := ParseWriteMode(" Replace ")
	require.NoError(t, err)
	assert.Equal(t, WriteModeReplace, m)

	m, err = ParseWriteMode("append")
	require.NoError(t, err)
	assert.Equal(t, WriteModeAppend, m)

	_, err = ParseWriteMode("merge")
	assert.Error(t, err)
}
