package engine

import (
	"context"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

// LogSource fetches up to limit records with timestamps in [from, to] matching filterText.
// Implementations bound their own latency; the engine treats every returned error as a
// failed fetch.
type LogSource interface {
	Fetch(ctx context.Context, limit int, from, to int64, filterText string) ([]model.LogRecord, error)
}

// LogSourceFunc adapts a plain function to LogSource.
type LogSourceFunc func(ctx context.Context, limit int, from, to int64, filterText string) ([]model.LogRecord, error)

// Fetch implements LogSource.
func (f LogSourceFunc) Fetch(ctx context.Context, limit int, from, to int64, filterText string) ([]model.LogRecord, error) {
	return f(ctx, limit, from, to, filterText)
}

// Pinger is implemented by sources that can report their own availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Queryable executes log queries in one-shot or streaming mode.
type Queryable interface {
	Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error)
	Stream(ctx context.Context, req model.QueryRequest) (*Stream, error)
}

// ContextAware resolves and runs look-around queries for a single log row.
type ContextAware interface {
	ContextQuery(ctx context.Context, row model.LogRecord, dir model.Direction, original *model.QueryTarget) (*model.QueryResponse, error)
}
