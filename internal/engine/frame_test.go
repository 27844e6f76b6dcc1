package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

func TestBuildFrame(t *testing.T) {
	records := []model.LogRecord{
		{Timestamp: 300, Body: "c", Severity: "info", ID: "3", Attributes: map[string]interface{}{"n": 3}},
		{Timestamp: 100, Body: "a", Severity: "error", ID: "1"},
		{Timestamp: 200, Body: "b1", Severity: "info", ID: "2a"},
		{Timestamp: 200, Body: "b2", Severity: "info", ID: "2b"},
	}
	target := model.QueryTarget{ID: "A", FilterText: "service=api", ResultLimit: 50}

	frame := BuildFrame(records, target)

	assert.Equal(t, "A", frame.TargetID)
	cols := frame.Columns
	require.Equal(t, len(records), cols.Len())
	assert.Len(t, cols.Body, len(records))
	assert.Len(t, cols.Severity, len(records))
	assert.Len(t, cols.ID, len(records))
	assert.Len(t, cols.Attributes, len(records))

	assert.Equal(t, []int64{100, 200, 200, 300}, cols.Timestamp)
	assert.Equal(t, []string{"1", "2a", "2b", "3"}, cols.ID, "ties keep source order")
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, cols.Body)
	assert.Equal(t, []string{"error", "info", "info", "info"}, cols.Severity)
	assert.Equal(t, map[string]interface{}{"n": 3}, cols.Attributes[3])
	assert.NotNil(t, cols.Attributes[0], "missing attributes become an empty map")

	assert.Equal(t, model.FrameMeta{
		Type:              "log-lines",
		ResultLimit:       50,
		SearchTerms:       []string{"service=api"},
		VisualizationHint: "logs",
	}, frame.Meta)

	// input untouched
	assert.Equal(t, int64(300), records[0].Timestamp)
}

func TestBuildFrameEmpty(t *testing.T) {
	frame := BuildFrame(nil, model.QueryTarget{ID: "A"})

	assert.Equal(t, 0, frame.Columns.Len())
	assert.NotNil(t, frame.Columns.Timestamp)
	assert.NotNil(t, frame.Columns.Attributes)
	assert.Equal(t, []string{""}, frame.Meta.SearchTerms)
}

func TestBuildFrameCopiesAttributes(t *testing.T) {
	nested := map[string]interface{}{"key": "value 1"}
	records := []model.LogRecord{{
		Timestamp:  1,
		Attributes: map[string]interface{}{"objectField": nested, "list": []interface{}{"x"}},
	}}

	frame := BuildFrame(records, model.QueryTarget{ID: "A"})
	nested["key"] = "changed"
	records[0].Attributes["stringField"] = "late"

	attrs := frame.Columns.Attributes[0]
	assert.Equal(t, "value 1", attrs["objectField"].(map[string]interface{})["key"])
	assert.NotContains(t, attrs, "stringField")
}

func TestBuildFrameTimestampsNonDecreasing(t *testing.T) {
	records := make([]model.LogRecord, 0, 200)
	for i := 0; i < 200; i++ {
		records = append(records, model.LogRecord{Timestamp: int64((i * 7919) % 113)})
	}

	frame := BuildFrame(records, model.QueryTarget{})

	require.Equal(t, 200, frame.Columns.Len())
	for i := 1; i < len(frame.Columns.Timestamp); i++ {
		assert.LessOrEqual(t, frame.Columns.Timestamp[i-1], frame.Columns.Timestamp[i])
	}
}
