package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrInvalidHeader = errors.New("invalid .nano file header")
	ErrCorrupted     = errors.New("corrupted .nano file")
)

// Footer is the trailer of a segment.
type Footer struct {
	RowCount int
	MinTs    int64
	MaxTs    int64
}

type ColumnReader struct {
	decoder *zstd.Decoder
}

func NewColumnReader() (*ColumnReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ColumnReader{decoder: dec}, nil
}

// ReadFooter validates the header of filename and returns its footer.
func (cr *ColumnReader) ReadFooter(filename string) (Footer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Footer{}, err
	}
	defer f.Close()
	return readFooter(f)
}

// ReadSegment loads a whole segment back into a MemTable.
func (cr *ColumnReader) ReadSegment(filename string) (*MemTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	footer, err := readFooter(f)
	if err != nil {
		return nil, err
	}
	mt := NewMemTable()
	if footer.RowCount == 0 {
		return mt, nil
	}

	if _, err := f.Seek(int64(len(MagicHeader)), io.SeekStart); err != nil {
		return nil, err
	}

	tsData, err := cr.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	mt.TsCol = bytesToInt64Slice(tsData)

	for _, col := range []*[]string{&mt.SevCol, &mt.IDCol, &mt.BodyCol} {
		data, err := cr.readAndDecompress(f)
		if err != nil {
			return nil, err
		}
		if *col, err = bytesToStringSlice(data); err != nil {
			return nil, err
		}
	}

	attrData, err := cr.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	if mt.AttrCol, err = bytesToBytesSlice(attrData); err != nil {
		return nil, err
	}

	n := footer.RowCount
	if len(mt.TsCol) != n || len(mt.SevCol) != n || len(mt.IDCol) != n || len(mt.BodyCol) != n || len(mt.AttrCol) != n {
		return nil, fmt.Errorf("%w: column length mismatch", ErrCorrupted)
	}
	mt.minTs, mt.maxTs = footer.MinTs, footer.MaxTs
	return mt, nil
}

func readFooter(f *os.File) (Footer, error) {
	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return Footer{}, err
	}
	if !bytes.Equal(header, MagicHeader) {
		return Footer{}, ErrInvalidHeader
	}

	info, err := f.Stat()
	if err != nil {
		return Footer{}, err
	}
	if info.Size() < int64(len(MagicHeader)+footerSize) {
		return Footer{}, fmt.Errorf("%w: file too small", ErrCorrupted)
	}

	buf := make([]byte, footerSize)
	if _, err := f.ReadAt(buf, info.Size()-footerSize); err != nil {
		return Footer{}, err
	}
	return Footer{
		RowCount: int(binary.LittleEndian.Uint32(buf[0:4])),
		MinTs:    int64(binary.LittleEndian.Uint64(buf[4:12])),
		MaxTs:    int64(binary.LittleEndian.Uint64(buf[12:20])),
	}, nil
}

// readAndDecompress reads a compressed block (size + data) and decompresses it.
func (cr *ColumnReader) readAndDecompress(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}
	return cr.decoder.DecodeAll(compressed, nil)
}

// bytesToInt64Slice converts a byte slice to []int64 (LittleEndian).
func bytesToInt64Slice(data []byte) []int64 {
	result := make([]int64, len(data)/8)
	for i := range result {
		result[i] = int64(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return result
}

// bytesToBytesSlice splits a [Len uint32][Bytes]... column. Zero-length
// entries decode as nil.
func bytesToBytesSlice(data []byte) ([][]byte, error) {
	var result [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated length", ErrCorrupted)
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if len(data) < n {
			return nil, fmt.Errorf("%w: truncated value", ErrCorrupted)
		}
		var item []byte
		if n > 0 {
			item = data[:n:n]
		}
		result = append(result, item)
		data = data[n:]
	}
	return result, nil
}

func bytesToStringSlice(data []byte) ([]string, error) {
	raw, err := bytesToBytesSlice(data)
	if err != nil {
		return nil, err
	}
	result := make([]string, len(raw))
	for i, b := range raw {
		result[i] = string(b)
	}
	return result, nil
}
