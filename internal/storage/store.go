package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/pkg/nanoql"
)

const (
	DefaultMaxTableRows = 10000
	walFileName         = "wal.log"
	segmentExt          = ".nano"
	stagingExt          = ".staged"
)

// Options configure a Store.
type Options struct {
	MaxTableRows int           // flush threshold of the memtable
	Retention    time.Duration // segments older than this are purged; 0 keeps everything
	Logger       *zap.Logger
}

// FilterError reports a filter text that does not parse.
type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter %q: %v", e.Filter, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// StatusCode makes filter errors surface as bad requests.
func (e *FilterError) StatusCode() int { return 400 }

// Stats is a point-in-time summary of a Store.
type Stats struct {
	MemRows   int   `json:"mem_rows"`
	Segments  int   `json:"segments"`
	DiskUsage int64 `json:"disk_usage"`
}

// Store keeps recent records in a MemTable backed by a WAL and flushes them
// to immutable .nano segments named log_<minTs>_<maxTs>.nano.
type Store struct {
	dir    string
	opts   Options
	logger *zap.Logger

	writer *ColumnWriter
	reader *ColumnReader
	wal    *WAL

	// mu protects the mt and flushing pointers and orders WAL writes against resets.
	mu       sync.RWMutex
	mt       *MemTable
	flushing *MemTable

	flushMu sync.Mutex
}

// Open opens the store in dir, creating it when needed and replaying the WAL.
func Open(dir string, opts Options) (*Store, error) {
	if opts.MaxTableRows <= 0 {
		opts.MaxTableRows = DefaultMaxTableRows
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	writer, err := NewColumnWriter()
	if err != nil {
		return nil, err
	}
	reader, err := NewColumnReader()
	if err != nil {
		return nil, err
	}
	// segments staged by a flush that never published; their rows are still in the WAL
	if stale, _ := filepath.Glob(filepath.Join(dir, "*"+segmentExt+stagingExt)); len(stale) > 0 {
		for _, f := range stale {
			os.Remove(f)
		}
	}

	wal, err := OpenWAL(filepath.Join(dir, walFileName))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	s := &Store{
		dir:    dir,
		opts:   opts,
		logger: opts.Logger,
		writer: writer,
		reader: reader,
		wal:    wal,
		mt:     NewMemTable(),
	}

	recovered, err := wal.Replay()
	if err != nil {
		s.logger.Warn("wal replay stopped early", zap.Error(err), zap.Int("recovered", len(recovered)))
	}
	if len(recovered) > 0 {
		if _, err := s.mt.Append(recovered...); err != nil {
			return nil, err
		}
		s.logger.Info("replayed wal", zap.Int("records", len(recovered)))
	}
	return s, nil
}

// Append stores records. The memtable is flushed once it holds MaxTableRows rows.
func (s *Store) Append(records ...model.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.RLock()
	if err := s.wal.Write(records...); err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("wal write: %w", err)
	}
	n, err := s.mt.Append(records...)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if n >= s.opts.MaxTableRows {
		return s.Flush()
	}
	return nil
}

// Sync forces the WAL to disk.
func (s *Store) Sync() error {
	return s.wal.Sync()
}

// Flush writes the memtable to a new segment. Records stay visible to Fetch
// while the segment is written.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	old := s.mt
	if old.Len() == 0 {
		s.mu.Unlock()
		return nil
	}
	s.mt = NewMemTable()
	s.flushing = old
	s.mu.Unlock()

	minTs, maxTs := old.Bounds()
	path := s.segmentPath(minTs, maxTs)
	staged := path + stagingExt
	werr := s.writer.WriteSegment(staged, old)

	s.mu.Lock()
	defer s.mu.Unlock()
	if werr == nil {
		// publish the segment and retire the flushing table in one step, so a
		// reader sees the rows in exactly one of the two
		werr = os.Rename(staged, path)
	}
	if werr != nil {
		os.Remove(staged)
	}
	s.flushing = nil

	if werr != nil {
		// put the rows back in front of whatever arrived meanwhile
		pending, _ := s.mt.Scan(minInt64, maxInt64, nil)
		reverse(pending)
		if _, err := old.Append(pending...); err != nil {
			s.logger.Error("restoring memtable after failed flush", zap.Error(err))
		}
		s.mt = old
		return fmt.Errorf("write segment %s: %w", filepath.Base(path), werr)
	}

	// the WAL now only has to cover the rows appended during the write
	pending, err := s.mt.Scan(minInt64, maxInt64, nil)
	if err == nil {
		reverse(pending)
		err = s.wal.Reset()
	}
	if err == nil {
		err = s.wal.Write(pending...)
	}
	if err != nil {
		s.logger.Error("wal reset failed", zap.Error(err))
	}

	s.logger.Info("flushed to disk", zap.String("segment", filepath.Base(path)), zap.Int("rows", old.Len()))
	return nil
}

// Fetch returns up to limit records with a timestamp in [from, to] matching the
// NanoQL filter, newest first. A limit <= 0 returns every match.
func (s *Store) Fetch(ctx context.Context, limit int, from, to int64, filter string) ([]model.LogRecord, error) {
	match, err := nanoql.Compile(filter)
	if err != nil {
		return nil, &FilterError{Filter: filter, Err: err}
	}
	pred := func(r model.LogRecord) bool { return match(r) }

	tables, segments, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	var result []model.LogRecord
	for _, mt := range tables {
		rows, err := mt.Scan(from, to, pred)
		if err != nil {
			return nil, err
		}
		result = append(result, rows...)
	}
	result = newestFirst(result, limit)

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seg.maxTs < from || seg.minTs > to {
			continue
		}
		if limit > 0 && len(result) >= limit && seg.maxTs < result[len(result)-1].Timestamp {
			break
		}

		mt, err := s.reader.ReadSegment(seg.path)
		if err != nil {
			s.logger.Warn("skipping unreadable segment", zap.String("segment", seg.name), zap.Error(err))
			continue
		}
		rows, err := mt.Scan(from, to, pred)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.name, err)
		}
		result = newestFirst(append(result, rows...), limit)
	}

	if result == nil {
		result = []model.LogRecord{}
	}
	return result, nil
}

// Ping reports whether the data directory is usable.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

// Stats summarizes the store.
func (s *Store) Stats() (Stats, error) {
	st := Stats{}
	tables, segments, err := s.snapshot()
	if err != nil {
		return st, err
	}
	for _, mt := range tables {
		st.MemRows += mt.Len()
	}
	st.Segments = len(segments)
	for _, seg := range segments {
		st.DiskUsage += seg.size
	}
	return st, nil
}

// Close flushes pending records and releases the WAL.
func (s *Store) Close() error {
	ferr := s.Flush()
	if err := s.wal.Close(); err != nil && ferr == nil {
		return err
	}
	return ferr
}

type segmentInfo struct {
	name         string
	path         string
	minTs, maxTs int64
	size         int64
}

// snapshot returns the in-memory tables and the segment list as of one instant.
// Flush publishes a segment under the write lock, so no row shows up in both.
func (s *Store) snapshot() ([]*MemTable, []segmentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := []*MemTable{s.mt}
	if s.flushing != nil {
		tables = append(tables, s.flushing)
	}
	segments, err := s.segments()
	if err != nil {
		return nil, nil, err
	}
	return tables, segments, nil
}

// segments lists the segment files, newest maxTs first.
func (s *Store) segments() ([]segmentInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), segmentExt) {
			continue
		}
		seg := segmentInfo{name: entry.Name(), path: filepath.Join(s.dir, entry.Name())}
		if info, err := entry.Info(); err == nil {
			seg.size = info.Size()
		}
		var ok bool
		if seg.minTs, seg.maxTs, ok = parseSegmentName(seg.name); !ok {
			footer, err := s.reader.ReadFooter(seg.path)
			if err != nil {
				s.logger.Warn("ignoring unknown file", zap.String("file", seg.name), zap.Error(err))
				continue
			}
			seg.minTs, seg.maxTs = footer.MinTs, footer.MaxTs
		}
		out = append(out, seg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].maxTs != out[j].maxTs {
			return out[i].maxTs > out[j].maxTs
		}
		return out[i].name > out[j].name
	})
	return out, nil
}

func (s *Store) segmentPath(minTs, maxTs int64) string {
	base := fmt.Sprintf("log_%d_%d", minTs, maxTs)
	path := filepath.Join(s.dir, base+segmentExt)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", base, i, segmentExt))
	}
}

// parseSegmentName extracts the bounds from log_<min>_<max>[_<seq>].nano.
func parseSegmentName(name string) (minTs, maxTs int64, ok bool) {
	if !strings.HasPrefix(name, "log_") || !strings.HasSuffix(name, segmentExt) {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, "log_"), segmentExt), "_")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, false
	}
	minTs, err1 := strconv.ParseInt(parts[0], 10, 64)
	maxTs, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return minTs, maxTs, true
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// newestFirst sorts records by descending timestamp and trims them to limit.
func newestFirst(records []model.LogRecord, limit int) []model.LogRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

func reverse(records []model.LogRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
