package storage

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/pkg/logjson"
)

// WAL handles write-ahead logging of records that have not reached a segment yet.
type WAL struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenWAL opens or creates a WAL file at the specified path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{file: f, path: path}, nil
}

// Write appends records as [Len uint32][JSON Bytes] entries.
func (w *WAL) Write(records ...model.LogRecord) error {
	var buf []byte
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.file.Write(buf)
	return err
}

// Sync flushes the WAL file buffers to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Reset truncates the WAL file.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Replay reads every record in the WAL. A torn trailing entry ends the replay
// with the records read so far and an error.
func (w *WAL) Replay() ([]model.LogRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(w.file)

	var records []model.LogRecord
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenBuf); err == io.EOF {
			break
		} else if err != nil {
			return records, fmt.Errorf("wal replay: length: %w", err)
		}

		data := make([]byte, binary.LittleEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(r, data); err != nil {
			return records, fmt.Errorf("wal replay: data: %w", err)
		}
		recs, err := logjson.ParseRecords(data)
		if err != nil {
			return records, fmt.Errorf("wal replay: decode: %w", err)
		}
		records = append(records, recs...)
	}
	return records, nil
}
