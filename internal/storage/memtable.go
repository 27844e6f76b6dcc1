package storage

import (
	"encoding/json"
	"sync"

	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/pkg/logjson"
)

// MemTable stores records in columnar format until they are flushed to a segment.
// Columns are exported for the segment writer.
type MemTable struct {
	mu sync.RWMutex

	TsCol   []int64  // Timestamp (epoch ms)
	SevCol  []string // Severity
	IDCol   []string // Record id
	BodyCol []string // Body
	AttrCol [][]byte // Attributes as a JSON object, nil when empty

	minTs, maxTs int64
	sizeBytes    int64
}

// NewMemTable initializes a MemTable with pre-allocated capacity.
func NewMemTable() *MemTable {
	const capacity = 4096
	return &MemTable{
		TsCol:   make([]int64, 0, capacity),
		SevCol:  make([]string, 0, capacity),
		IDCol:   make([]string, 0, capacity),
		BodyCol: make([]string, 0, capacity),
		AttrCol: make([][]byte, 0, capacity),
	}
}

// Append adds records and returns the resulting row count.
func (mt *MemTable) Append(records ...model.LogRecord) (int, error) {
	attrs := make([][]byte, len(records))
	for i, r := range records {
		if len(r.Attributes) == 0 {
			continue
		}
		b, err := json.Marshal(r.Attributes)
		if err != nil {
			return 0, err
		}
		attrs[i] = b
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	for i, r := range records {
		if len(mt.TsCol) == 0 || r.Timestamp < mt.minTs {
			mt.minTs = r.Timestamp
		}
		if len(mt.TsCol) == 0 || r.Timestamp > mt.maxTs {
			mt.maxTs = r.Timestamp
		}
		mt.TsCol = append(mt.TsCol, r.Timestamp)
		mt.SevCol = append(mt.SevCol, r.Severity)
		mt.IDCol = append(mt.IDCol, r.ID)
		mt.BodyCol = append(mt.BodyCol, r.Body)
		mt.AttrCol = append(mt.AttrCol, attrs[i])
		mt.sizeBytes += int64(8 + len(r.Severity) + len(r.ID) + len(r.Body) + len(attrs[i]))
	}
	return len(mt.TsCol), nil
}

// Len returns the number of rows.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.TsCol)
}

// Size returns the estimated memory usage in bytes.
func (mt *MemTable) Size() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.sizeBytes
}

// Bounds returns the smallest and largest timestamp held.
func (mt *MemTable) Bounds() (minTs, maxTs int64) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.minTs, mt.maxTs
}

// Scan returns the rows with a timestamp in [from, to] accepted by match,
// newest insertion first.
func (mt *MemTable) Scan(from, to int64, match func(model.LogRecord) bool) ([]model.LogRecord, error) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	var result []model.LogRecord
	for i := len(mt.TsCol) - 1; i >= 0; i-- {
		ts := mt.TsCol[i]
		if ts < from || ts > to {
			continue
		}
		rec, err := mt.row(i)
		if err != nil {
			return result, err
		}
		if match != nil && !match(rec) {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

func (mt *MemTable) row(i int) (model.LogRecord, error) {
	attrs, err := logjson.ParseAttributes(mt.AttrCol[i])
	if err != nil {
		return model.LogRecord{}, err
	}
	return model.LogRecord{
		Timestamp:  mt.TsCol[i],
		Severity:   mt.SevCol[i],
		ID:         mt.IDCol[i],
		Body:       mt.BodyCol[i],
		Attributes: attrs,
	}, nil
}
