package pointcloud

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// tileWriter appends raw point records to one output tile. The source file's
// prelude (header plus VLRs) is copied verbatim on creation; the point
// count and extent fields are patched on Close once the final values are
// known.
type tileWriter struct {
	path   string
	f      *os.File
	src    *Header
	count  uint64
	minX   float64
	maxX   float64
	minY   float64
	maxY   float64
	minZ   float64
	maxZ   float64
}

func newTileWriter(path string, src *Header) (*tileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create tile %s: %w", path, err)
	}
	if _, err := f.Write(src.Prelude); err != nil {
		f.Close()
		return nil, fmt.Errorf("write tile header %s: %w", path, err)
	}
	return &tileWriter{
		path: path,
		f:    f,
		src:  src,
		minX: math.Inf(1), maxX: math.Inf(-1),
		minY: math.Inf(1), maxY: math.Inf(-1),
		minZ: math.Inf(1), maxZ: math.Inf(-1),
	}, nil
}

// writeRecord appends one raw point record whose projected coordinates the
// caller already computed for routing.
func (w *tileWriter) writeRecord(record []byte, x, y, z float64) error {
	if _, err := w.f.Write(record); err != nil {
		return fmt.Errorf("append to tile %s: %w", w.path, err)
	}
	w.count++
	w.minX = math.Min(w.minX, x)
	w.maxX = math.Max(w.maxX, x)
	w.minY = math.Min(w.minY, y)
	w.maxY = math.Max(w.maxY, y)
	w.minZ = math.Min(w.minZ, z)
	w.maxZ = math.Max(w.maxZ, z)
	return nil
}

// close patches the header's count and extent fields and closes the file.
func (w *tileWriter) close() error {
	patch := func(off int64, b []byte) error {
		_, err := w.f.WriteAt(b, off)
		return err
	}

	u32 := make([]byte, 4)
	legacy := w.count
	if legacy > math.MaxUint32 {
		legacy = 0 // too many points for the legacy field; 1.4 count carries it
	}
	binary.LittleEndian.PutUint32(u32, uint32(legacy))
	if err := patch(offLegacyCount, u32); err != nil {
		w.f.Close()
		return fmt.Errorf("patch tile %s: %w", w.path, err)
	}

	for _, fp := range []struct {
		off int64
		v   float64
	}{
		{offMaxX, w.maxX}, {offMinX, w.minX},
		{offMaxY, w.maxY}, {offMinY, w.minY},
		{offMaxZ, w.maxZ}, {offMinZ, w.minZ},
	} {
		u64 := make([]byte, 8)
		binary.LittleEndian.PutUint64(u64, math.Float64bits(fp.v))
		if err := patch(fp.off, u64); err != nil {
			w.f.Close()
			return fmt.Errorf("patch tile %s: %w", w.path, err)
		}
	}

	if w.src.VersionMajor == 1 && w.src.VersionMinor >= 4 {
		u64 := make([]byte, 8)
		binary.LittleEndian.PutUint64(u64, w.count)
		if err := patch(off14PointCount, u64); err != nil {
			w.f.Close()
			return fmt.Errorf("patch tile %s: %w", w.path, err)
		}
	}

	return w.f.Close()
}
