package storage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/pkg/nanoql"
)

// HistogramPoint is the number of matching records in the bucket starting at Time.
type HistogramPoint struct {
	Time  int64 `json:"time"`
	Count int   `json:"count"`
}

// Histogram counts records in [from, to] matching filter, bucketed by interval
// milliseconds. Points are sorted by time; empty buckets are omitted.
func (s *Store) Histogram(ctx context.Context, from, to, interval int64, filter string) ([]HistogramPoint, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("histogram interval must be positive, got %d", interval)
	}
	match, err := nanoql.Compile(filter)
	if err != nil {
		return nil, &FilterError{Filter: filter, Err: err}
	}

	buckets := make(map[int64]int)
	count := func(r model.LogRecord) bool {
		if match(r) {
			buckets[floorDiv(r.Timestamp, interval)*interval]++
		}
		return false
	}

	tables, segments, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	for _, mt := range tables {
		if _, err := mt.Scan(from, to, count); err != nil {
			return nil, err
		}
	}

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seg.maxTs < from || seg.minTs > to {
			continue
		}
		mt, err := s.reader.ReadSegment(seg.path)
		if err != nil {
			s.logger.Warn("skipping unreadable segment", zap.String("segment", seg.name), zap.Error(err))
			continue
		}
		if _, err := mt.Scan(from, to, count); err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.name, err)
		}
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: t, Count: c})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time < points[j].Time })
	return points, nil
}

// floorDiv rounds toward negative infinity so pre-epoch timestamps bucket correctly.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
