package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

func TestGenerate(t *testing.T) {
	g := &Generator{Rand: rand.New(rand.NewSource(1))}

	records := g.Generate(7, 1000, 2000)
	require.Len(t, records, 7)

	for i, r := range records {
		assert.GreaterOrEqual(t, r.Timestamp, int64(1000))
		assert.LessOrEqual(t, r.Timestamp, int64(2000))
		assert.Equal(t, fmt.Sprintf("id 10002000%d", i), r.ID)
		assert.Equal(t, fmt.Sprintf("timestamp=%d line=%d id=%s number=%d string=string %d", r.Timestamp, i, r.ID, i+1000, i), r.Body)
		assert.Equal(t, i+1000, r.Attributes["numberField"])
		assert.Equal(t, fmt.Sprintf("string %d", i), r.Attributes["stringField"])
	}
	assert.Equal(t, "info", records[0].Severity)
	assert.Equal(t, "error", records[1].Severity)
	assert.Equal(t, "error", records[6].Severity)
	assert.Equal(t, map[string]interface{}{"key": "value 2"}, records[2].Attributes["objectField"])
}

func TestGenerateEmpty(t *testing.T) {
	g := &Generator{}
	assert.Empty(t, g.Generate(0, 0, 10))
}

func TestFetchHonorsContext(t *testing.T) {
	g := &Generator{Latency: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Fetch(ctx, 5, 0, 10, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchInvalidRange(t *testing.T) {
	g := &Generator{}
	_, err := g.Fetch(context.Background(), 5, 10, 0, "")
	assert.ErrorIs(t, err, model.ErrInvalidRange)
}

func TestFetch(t *testing.T) {
	g := &Generator{Latency: time.Millisecond}
	records, err := g.Fetch(context.Background(), 3, 0, 10, "ignored")
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.NoError(t, g.Ping(context.Background()))
}

func TestGenerateWideRanges(t *testing.T) {
	g := &Generator{Rand: rand.New(rand.NewSource(7))}

	ranges := []model.TimeRange{
		{From: -1, To: math.MaxInt64},
		{From: math.MinInt64, To: math.MaxInt64},
		{From: math.MinInt64, To: 0},
		{From: math.MinInt64, To: -1},
		{From: 42, To: 42},
	}
	for _, rng := range ranges {
		t.Run(fmt.Sprintf("%d..%d", rng.From, rng.To), func(t *testing.T) {
			var records []model.LogRecord
			require.NotPanics(t, func() {
				var err error
				records, err = g.Fetch(context.Background(), 50, rng.From, rng.To, "")
				require.NoError(t, err)
			})
			require.Len(t, records, 50)
			for _, r := range records {
				assert.GreaterOrEqual(t, r.Timestamp, rng.From)
				assert.LessOrEqual(t, r.Timestamp, rng.To)
			}
		})
	}
}
