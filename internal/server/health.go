package server

import (
	"context"
	"time"

	"github.com/alexliesenfeld/health"

	"github.com/coffersTech/nanolog/datasource/internal/engine"
)

// newChecker wraps the source ping. Without a pinger the checker always reports up.
func newChecker(p engine.Pinger) health.Checker {
	opts := []health.CheckerOption{
		health.WithCacheDuration(time.Second),
		health.WithTimeout(10 * time.Second),
	}
	if p != nil {
		opts = append(opts, health.WithCheck(health.Check{
			Name:    "log-source",
			Timeout: 5 * time.Second,
			Check:   func(ctx context.Context) error { return p.Ping(ctx) },
		}))
	}
	return health.NewChecker(opts...)
}
