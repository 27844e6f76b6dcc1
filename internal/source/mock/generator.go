// Package mock provides a LogSource producing synthetic records, for demos and tests.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

// DefaultLatency is the simulated round trip of a fetch.
const DefaultLatency = 300 * time.Millisecond

// Generator synthesizes limit records with random timestamps inside the
// requested window. The filter text is ignored.
type Generator struct {
	Latency time.Duration
	Rand    *rand.Rand // nil uses a time-seeded source

	mu sync.Mutex
}

// NewGenerator returns a Generator with the default latency.
func NewGenerator() *Generator {
	return &Generator{Latency: DefaultLatency}
}

// Fetch implements engine.LogSource.
func (g *Generator) Fetch(ctx context.Context, limit int, from, to int64, _ string) ([]model.LogRecord, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d is after to %d", model.ErrInvalidRange, from, to)
	}
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return g.Generate(limit, from, to), nil
}

// Ping implements engine.Pinger. The generator is always available.
func (g *Generator) Ping(context.Context) error { return nil }

// Generate builds count records without the simulated latency.
func (g *Generator) Generate(count int, from, to int64) []model.LogRecord {
	if count <= 0 {
		return []model.LogRecord{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Rand == nil {
		g.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	records := make([]model.LogRecord, 0, count)
	for i := 0; i < count; i++ {
		ts := randomIn(g.Rand, from, to)
		id := fmt.Sprintf("id %d%d%d", from, to, i)
		severity := "info"
		if i%5 == 1 {
			severity = "error"
		}
		number := i + 1000
		str := fmt.Sprintf("string %d", i)

		records = append(records, model.LogRecord{
			Timestamp: ts,
			Body:      fmt.Sprintf("timestamp=%d line=%d id=%s number=%d string=%s", ts, i, id, number, str),
			Severity:  severity,
			ID:        id,
			Attributes: map[string]interface{}{
				"stringField": str,
				"numberField": number,
				"objectField": map[string]interface{}{"key": fmt.Sprintf("value %d", i)},
			},
		})
	}
	return records
}

// randomIn draws a timestamp uniformly from [from, to]. The span is computed in
// uint64 so that windows wider than MaxInt64 do not overflow.
func randomIn(r *rand.Rand, from, to int64) int64 {
	span := uint64(to) - uint64(from)
	if span < math.MaxInt64 {
		return from + r.Int63n(int64(span)+1)
	}
	if span == math.MaxUint64 {
		return int64(r.Uint64())
	}
	return int64(uint64(from) + r.Uint64()%(span+1))
}
