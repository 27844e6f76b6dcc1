package engine

import (
	"time"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

// DefaultContextWindow is the look-around span of a context query.
const DefaultContextWindow = 6 * time.Hour

// ContextResolver derives a bounded look-around query from an anchor record.
type ContextResolver struct {
	Window time.Duration
}

// Resolve builds the context request for row. The anchor is always one boundary of
// the window: Forward looks back to earlier records, Backward looks ahead to later ones.
// A nil original target means there is nothing to execute and Resolve returns nil.
func (r ContextResolver) Resolve(row model.LogRecord, dir model.Direction, original *model.QueryTarget) *model.ContextRequest {
	if original == nil {
		return nil
	}

	window := r.Window
	if window <= 0 {
		window = DefaultContextWindow
	}
	span := window.Milliseconds()

	rng := model.TimeRange{From: row.Timestamp, To: model.SaturatingAdd(row.Timestamp, span)}
	if dir == model.Forward {
		rng = model.TimeRange{From: model.SaturatingAdd(row.Timestamp, -span), To: row.Timestamp}
	}

	target := *original
	target.ID = "context-" + original.ID
	target.Hidden = false

	return &model.ContextRequest{Target: target, Range: rng}
}
