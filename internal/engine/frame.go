package engine

import (
	"sort"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

const (
	frameTypeLogLines = "log-lines"
	visualizationLogs = "logs"
)

// BuildFrame converts records into a columnar log frame for target.
// Rows are ordered by timestamp ascending; ties keep source order. The input slice
// is not modified and attribute maps are copied, so the frame owns all of its data.
func BuildFrame(records []model.LogRecord, target model.QueryTarget) model.ResultFrame {
	rows := make([]model.LogRecord, len(records))
	copy(rows, records)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp < rows[j].Timestamp
	})

	n := len(rows)
	cols := model.Columns{
		Timestamp:  make([]int64, 0, n),
		Body:       make([]string, 0, n),
		Severity:   make([]string, 0, n),
		ID:         make([]string, 0, n),
		Attributes: make([]map[string]interface{}, 0, n),
	}
	for _, r := range rows {
		cols.Timestamp = append(cols.Timestamp, r.Timestamp)
		cols.Body = append(cols.Body, r.Body)
		cols.Severity = append(cols.Severity, r.Severity)
		cols.ID = append(cols.ID, r.ID)
		cols.Attributes = append(cols.Attributes, cloneAttributes(r.Attributes))
	}

	return model.ResultFrame{
		TargetID: target.ID,
		Columns:  cols,
		Meta: model.FrameMeta{
			Type:              frameTypeLogLines,
			ResultLimit:       target.ResultLimit,
			SearchTerms:       []string{target.FilterText},
			VisualizationHint: visualizationLogs,
		},
	}
}

// cloneAttributes deep-copies nested maps and slices; scalar values are immutable.
func cloneAttributes(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneAttributes(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
