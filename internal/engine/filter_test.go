package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

func TestApplyFilterAction(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		action model.FilterAction
		want   string
	}{
		{"add filter", "timeout", model.FilterAction{Type: model.AddFilter, Key: "service", Value: "api"}, "timeout service=api"},
		{"add filter out", "timeout", model.FilterAction{Type: model.AddFilterOut, Key: "service", Value: "api"}, "timeout service!=api"},
		{"empty filter", "", model.FilterAction{Type: model.AddFilter, Key: "severity", Value: "error"}, "severity=error"},
		{"quoted value", "", model.FilterAction{Type: model.AddFilter, Key: "body", Value: "hello world"}, `body="hello world"`},
		{"keyword value", "", model.FilterAction{Type: model.AddFilterOut, Key: "op", Value: "and"}, `op!="and"`},
		{"missing key", "timeout", model.FilterAction{Type: model.AddFilter, Value: "api"}, "timeout"},
		{"missing value", "timeout", model.FilterAction{Type: model.AddFilterOut, Key: "service"}, "timeout"},
		{"unknown action", "timeout", model.FilterAction{Type: "ADD_SORT", Key: "service", Value: "api"}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := model.QueryTarget{ID: "A", FilterText: tt.filter, ResultLimit: 10}
			got := ApplyFilterAction(target, tt.action)

			assert.Equal(t, tt.want, got.FilterText)
			assert.Equal(t, "A", got.ID)
			assert.Equal(t, 10, got.ResultLimit)
			assert.Equal(t, tt.filter, target.FilterText, "original target unchanged")
		})
	}
}

func TestApplyFilterActionIsAdditive(t *testing.T) {
	action := model.FilterAction{Type: model.AddFilter, Key: "host", Value: "web-1"}
	target := model.QueryTarget{FilterText: "q"}

	prev := len(target.FilterText)
	for i := 0; i < 3; i++ {
		target = ApplyFilterAction(target, action)
		assert.Greater(t, len(target.FilterText), prev)
		prev = len(target.FilterText)
	}
	assert.Equal(t, "q host=web-1 host=web-1 host=web-1", target.FilterText)
}

func TestApplyFilterActionWithoutKeyIsIdempotent(t *testing.T) {
	action := model.FilterAction{Type: model.AddFilterOut}
	target := model.QueryTarget{FilterText: "q"}

	once := ApplyFilterAction(target, action)
	twice := ApplyFilterAction(once, action)

	assert.Equal(t, once, twice)
}
