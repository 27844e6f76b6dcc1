package storage

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

// RunCleaner periodically removes segments whose newest record is older than
// the retention period. It blocks until ctx is done.
func (s *Store) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("cleaner started", zap.Duration("retention", s.opts.Retention), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.opts.Retention <= 0 {
				continue
			}
			if _, err := s.PurgeExpired(time.Now()); err != nil {
				s.logger.Warn("cleaner run failed", zap.Error(err))
			}
		}
	}
}

// PurgeExpired deletes the segments that fell out of retention at now and
// returns how many were removed.
func (s *Store) PurgeExpired(now time.Time) (int, error) {
	if s.opts.Retention <= 0 {
		return 0, nil
	}
	threshold := now.Add(-s.opts.Retention).UnixMilli()

	// serialized with flushes; Fetch skips segments that vanish under it
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	segments, err := s.segments()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, seg := range segments {
		if seg.maxTs >= threshold {
			continue
		}
		if err := os.Remove(seg.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete segment", zap.String("segment", seg.name), zap.Error(err))
			continue
		}
		removed++
		s.logger.Info("expired segment deleted", zap.String("segment", seg.name))
	}
	return removed, nil
}
