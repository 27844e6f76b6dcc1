package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// MagicHeader opens every .nano segment.
var MagicHeader = []byte("NANOLOG2")

// footerSize is RowCount(4) + MinTs(8) + MaxTs(8).
const footerSize = 20

// ColumnWriter writes MemTables as .nano segments. Each column is a single
// zstd block prefixed with its compressed size:
//
//	header | ts | severity | id | body | attributes | footer
type ColumnWriter struct {
	encoder *zstd.Encoder
}

func NewColumnWriter() (*ColumnWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &ColumnWriter{encoder: enc}, nil
}

// WriteSegment writes mt to filename. The file appears atomically.
func (cw *ColumnWriter) WriteSegment(filename string, mt *MemTable) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".segment-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := cw.write(w, mt); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

func (cw *ColumnWriter) write(w io.Writer, mt *MemTable) error {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	if _, err := w.Write(MagicHeader); err != nil {
		return err
	}

	rowCount := uint32(len(mt.TsCol))
	if rowCount == 0 {
		return writeFooter(w, 0, 0, 0)
	}

	if err := cw.writeInt64Col(w, mt.TsCol); err != nil {
		return err
	}
	for _, col := range [][]string{mt.SevCol, mt.IDCol, mt.BodyCol} {
		if err := cw.writeStringCol(w, col); err != nil {
			return err
		}
	}
	if err := cw.writeBytesCol(w, mt.AttrCol); err != nil {
		return err
	}
	return writeFooter(w, rowCount, mt.minTs, mt.maxTs)
}

func (cw *ColumnWriter) writeInt64Col(w io.Writer, data []int64) error {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return cw.compressAndWrite(w, buf)
}

// writeStringCol serializes [Len uint32][Bytes]... per row.
func (cw *ColumnWriter) writeStringCol(w io.Writer, data []string) error {
	buf := new(bytes.Buffer)
	for _, s := range data {
		binary.Write(buf, binary.LittleEndian, uint32(len(s)))
		buf.WriteString(s)
	}
	return cw.compressAndWrite(w, buf.Bytes())
}

func (cw *ColumnWriter) writeBytesCol(w io.Writer, data [][]byte) error {
	buf := new(bytes.Buffer)
	for _, b := range data {
		binary.Write(buf, binary.LittleEndian, uint32(len(b)))
		buf.Write(b)
	}
	return cw.compressAndWrite(w, buf.Bytes())
}

func (cw *ColumnWriter) compressAndWrite(w io.Writer, raw []byte) error {
	compressed := cw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	if err := binary.Write(w, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func writeFooter(w io.Writer, rowCount uint32, minTs, maxTs int64) error {
	if err := binary.Write(w, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, maxTs)
}
