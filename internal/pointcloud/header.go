// Package pointcloud implements streaming LAS point-cloud I/O and the
// out-of-core tile splitter. Files are processed in bounded chunks so peak
// memory stays constant regardless of input size.
package pointcloud

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Header field offsets in the LAS public header block.
const (
	offVersionMajor    = 24
	offVersionMinor    = 25
	offHeaderSize      = 94
	offPointDataOffset = 96
	offPointFormat     = 104
	offPointRecordLen  = 105
	offLegacyCount     = 107
	offScaleX          = 131
	offOffsetX         = 155
	offMaxX            = 179
	offMinX            = 187
	offMaxY            = 195
	offMinY            = 203
	offMaxZ            = 211
	offMinZ            = 219
	off14PointCount    = 247

	minHeaderSize = 227 // LAS 1.0-1.2
)

// ErrCompressed marks LAZ-compressed input, which the splitter does not
// decode. Callers list both .las and .laz but must feed the splitter
// uncompressed data. The index scanner reads headers of compressed files
// just fine.
var ErrCompressed = errors.New("point file is laszip-compressed")

// ErrNotLAS marks input without the LASF signature.
var ErrNotLAS = errors.New("not a LAS file")

// Header is the parsed LAS public header block. Prelude holds the verbatim
// bytes from file start to the point data offset (header plus VLRs), so tile
// files can start from an exact copy and keep CRS records intact.
type Header struct {
	VersionMajor    uint8
	VersionMinor    uint8
	HeaderSize      uint16
	PointDataOffset uint32
	PointFormat     uint8
	PointRecordLen  uint16
	PointCount      uint64
	Compressed      bool

	ScaleX, ScaleY, ScaleZ    float64
	OffsetX, OffsetY, OffsetZ float64
	MinX, MaxX                float64
	MinY, MaxY                float64
	MinZ, MaxZ                float64

	Prelude []byte
}

// ParseHeader reads and validates the public header block and captures the
// prelude for tile writing. Use ParseHeaderInfo when only the metadata is
// needed, for instance from a ranged fetch that stops short of the VLRs.
func ParseHeader(r io.ReaderAt) (*Header, error) {
	h, err := ParseHeaderInfo(r)
	if err != nil {
		return nil, err
	}
	h.Prelude = make([]byte, h.PointDataOffset)
	if _, err := r.ReadAt(h.Prelude, 0); err != nil {
		return nil, fmt.Errorf("read header prelude: %w", err)
	}
	return h, nil
}

// ParseHeaderInfo reads the public header block without the prelude. It
// accepts laszip-compressed files; callers that need raw point data check
// the Compressed flag.
func ParseHeaderInfo(r io.ReaderAt) (*Header, error) {
	base := make([]byte, minHeaderSize)
	if _, err := r.ReadAt(base, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(base[0:4]) != "LASF" {
		return nil, ErrNotLAS
	}

	h := &Header{
		VersionMajor:    base[offVersionMajor],
		VersionMinor:    base[offVersionMinor],
		HeaderSize:      binary.LittleEndian.Uint16(base[offHeaderSize:]),
		PointDataOffset: binary.LittleEndian.Uint32(base[offPointDataOffset:]),
		PointFormat:     base[offPointFormat],
		PointRecordLen:  binary.LittleEndian.Uint16(base[offPointRecordLen:]),
		PointCount:      uint64(binary.LittleEndian.Uint32(base[offLegacyCount:])),
		ScaleX:          f64(base, offScaleX),
		ScaleY:          f64(base, offScaleX+8),
		ScaleZ:          f64(base, offScaleX+16),
		OffsetX:         f64(base, offOffsetX),
		OffsetY:         f64(base, offOffsetX+8),
		OffsetZ:         f64(base, offOffsetX+16),
		MaxX:            f64(base, offMaxX),
		MinX:            f64(base, offMinX),
		MaxY:            f64(base, offMaxY),
		MinY:            f64(base, offMinY),
		MaxZ:            f64(base, offMaxZ),
		MinZ:            f64(base, offMinZ),
	}

	// Bits 6-7 of the point format flag laszip compression.
	if h.PointFormat&0xC0 != 0 {
		h.Compressed = true
		h.PointFormat &^= 0xC0
	}
	if h.PointRecordLen == 0 {
		return nil, fmt.Errorf("header declares zero point record length")
	}
	if uint32(h.HeaderSize) > h.PointDataOffset {
		return nil, fmt.Errorf("point data offset %d before header end %d", h.PointDataOffset, h.HeaderSize)
	}

	// LAS 1.4 moves the authoritative count past the legacy field.
	if h.VersionMajor == 1 && h.VersionMinor >= 4 {
		ext := make([]byte, off14PointCount+8)
		if _, err := r.ReadAt(ext, 0); err != nil {
			return nil, fmt.Errorf("read 1.4 header: %w", err)
		}
		if c := binary.LittleEndian.Uint64(ext[off14PointCount:]); c != 0 {
			h.PointCount = c
		}
	}
	return h, nil
}

// Coord converts a raw record's integer coordinates to projected values
// using the header's linear scale and offset (the only coordinate transform
// this pipeline performs).
func (h *Header) Coord(record []byte) (x, y, z float64) {
	xi := int32(binary.LittleEndian.Uint32(record[0:]))
	yi := int32(binary.LittleEndian.Uint32(record[4:]))
	zi := int32(binary.LittleEndian.Uint32(record[8:]))
	x = float64(xi)*h.ScaleX + h.OffsetX
	y = float64(yi)*h.ScaleY + h.OffsetY
	z = float64(zi)*h.ScaleZ + h.OffsetZ
	return x, y, z
}

func f64(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}
