package pointcloud

import (
	"fmt"
	"io"
	"os"
)

// Reader streams point records from an uncompressed LAS file in bounded
// chunks. It never holds more than one chunk in memory.
type Reader struct {
	f      *os.File
	header *Header
	read   uint64 // points consumed so far
}

// Open parses the file's header and positions the reader at the first point
// record.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	h, err := ParseHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if h.Compressed {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, ErrCompressed)
	}
	if _, err := f.Seek(int64(h.PointDataOffset), io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}
	return &Reader{f: f, header: h}, nil
}

// Header returns the parsed header.
func (r *Reader) Header() *Header { return r.header }

// ReadChunk fills buf with whole point records and returns the number of
// points read. buf's length must be a multiple of the record length. Returns
// 0, io.EOF when the declared point count is exhausted.
func (r *Reader) ReadChunk(buf []byte) (int, error) {
	recLen := uint64(r.header.PointRecordLen)
	if uint64(len(buf))%recLen != 0 {
		return 0, fmt.Errorf("chunk buffer length %d is not a multiple of record length %d", len(buf), recLen)
	}
	remaining := r.header.PointCount - r.read
	if remaining == 0 {
		return 0, io.EOF
	}
	want := uint64(len(buf)) / recLen
	if want > remaining {
		want = remaining
		buf = buf[:want*recLen]
	}
	if _, err := io.ReadFull(r.f, buf); err != nil {
		return 0, fmt.Errorf("read points: %w", err)
	}
	r.read += want
	return int(want), nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
