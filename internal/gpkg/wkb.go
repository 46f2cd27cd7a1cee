// Package gpkg reads and writes GeoPackage files: sqlite databases with the
// OGC metadata tables and WKB-encoded geometry blobs. The pipeline stores
// footprints and extracted building attributes in this format.
package gpkg

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// GeometryKind enumerates the geometry types the pipeline handles.
type GeometryKind int

const (
	KindPoint GeometryKind = iota
	KindPolygon
	KindMultiPolygon
)

// Geometry is a 2D geometry. For polygons, Rings holds one slice per
// polygon, each starting with the exterior ring followed by holes. Z values
// in the source encoding are dropped on parse.
type Geometry struct {
	Kind  GeometryKind
	Point r2.Vec
	// Rings is indexed [polygon][ring][vertex].
	Rings [][][]r2.Vec
}

// Envelope returns the geometry's bounding box.
func (g Geometry) Envelope() geogrid.Bounds {
	switch g.Kind {
	case KindPoint:
		return geogrid.Bounds{MinX: g.Point.X, MinY: g.Point.Y, MaxX: g.Point.X, MaxY: g.Point.Y}
	default:
		b := geogrid.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
		for _, poly := range g.Rings {
			for _, ring := range poly {
				for _, v := range ring {
					b.MinX = math.Min(b.MinX, v.X)
					b.MinY = math.Min(b.MinY, v.Y)
					b.MaxX = math.Max(b.MaxX, v.X)
					b.MaxY = math.Max(b.MaxY, v.Y)
				}
			}
		}
		return b
	}
}

// Centroid returns the area-weighted centroid for polygonal geometry (holes
// subtract) and the point itself for points. Degenerate zero-area polygons
// fall back to the vertex mean.
func (g Geometry) Centroid() r2.Vec {
	if g.Kind == KindPoint {
		return g.Point
	}

	var cx, cy, areaSum float64
	var vx, vy float64
	var vn int
	for _, poly := range g.Rings {
		for ri, ring := range poly {
			a, x, y := ringCentroid(ring)
			if ri > 0 {
				a = -a // holes subtract
			}
			cx += x * a
			cy += y * a
			areaSum += a
			for _, v := range ring {
				vx += v.X
				vy += v.Y
				vn++
			}
		}
	}
	if areaSum == 0 {
		if vn == 0 {
			return r2.Vec{}
		}
		return r2.Vec{X: vx / float64(vn), Y: vy / float64(vn)}
	}
	return r2.Vec{X: cx / areaSum, Y: cy / areaSum}
}

// ringCentroid returns the absolute shoelace area and centroid of one ring.
func ringCentroid(ring []r2.Vec) (area, cx, cy float64) {
	if len(ring) < 3 {
		return 0, 0, 0
	}
	var a, sx, sy float64
	for i := 0; i < len(ring)-1; i++ {
		cross := ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
		a += cross
		sx += (ring[i].X + ring[i+1].X) * cross
		sy += (ring[i].Y + ring[i+1].Y) * cross
	}
	if a == 0 {
		return 0, 0, 0
	}
	return math.Abs(a / 2), sx / (3 * a), sy / (3 * a)
}

// WKB geometry type codes.
const (
	wkbPoint        = 1
	wkbPolygon      = 3
	wkbMultiPolygon = 6

	// ISO Z types add 1000; EWKB sets the high bit instead.
	wkbZOffset = 1000
	ewkbZFlag  = 0x80000000
)

type wkbReader struct {
	buf []byte
	pos int
}

func (r *wkbReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("wkb truncated at byte %d", r.pos)
	}
	return nil
}

func (r *wkbReader) byteOrder() (binary.ByteOrder, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	b := r.buf[r.pos]
	r.pos++
	switch b {
	case 0:
		return binary.BigEndian, nil
	case 1:
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("wkb invalid byte order flag %d", b)
	}
}

func (r *wkbReader) uint32(bo binary.ByteOrder) (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := bo.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *wkbReader) float64(bo binary.ByteOrder) (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(bo.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

// ParseWKB decodes a 2D or Z-flavoured WKB geometry of a supported kind.
func ParseWKB(buf []byte) (Geometry, error) {
	r := &wkbReader{buf: buf}
	return r.geometry()
}

func (r *wkbReader) geometry() (Geometry, error) {
	bo, err := r.byteOrder()
	if err != nil {
		return Geometry{}, err
	}
	rawType, err := r.uint32(bo)
	if err != nil {
		return Geometry{}, err
	}
	hasZ := rawType&ewkbZFlag != 0
	geomType := rawType &^ ewkbZFlag
	if geomType > wkbZOffset {
		geomType -= wkbZOffset
		hasZ = true
	}

	switch geomType {
	case wkbPoint:
		p, err := r.point(bo, hasZ)
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Kind: KindPoint, Point: p}, nil

	case wkbPolygon:
		rings, err := r.rings(bo, hasZ)
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Kind: KindPolygon, Rings: [][][]r2.Vec{rings}}, nil

	case wkbMultiPolygon:
		n, err := r.uint32(bo)
		if err != nil {
			return Geometry{}, err
		}
		polys := make([][][]r2.Vec, 0, n)
		for i := uint32(0); i < n; i++ {
			sub, err := r.geometry()
			if err != nil {
				return Geometry{}, err
			}
			if sub.Kind != KindPolygon {
				return Geometry{}, fmt.Errorf("multipolygon member %d is not a polygon", i)
			}
			polys = append(polys, sub.Rings[0])
		}
		return Geometry{Kind: KindMultiPolygon, Rings: polys}, nil

	default:
		return Geometry{}, fmt.Errorf("unsupported wkb geometry type %d", geomType)
	}
}

func (r *wkbReader) point(bo binary.ByteOrder, hasZ bool) (r2.Vec, error) {
	x, err := r.float64(bo)
	if err != nil {
		return r2.Vec{}, err
	}
	y, err := r.float64(bo)
	if err != nil {
		return r2.Vec{}, err
	}
	if hasZ {
		if _, err := r.float64(bo); err != nil {
			return r2.Vec{}, err
		}
	}
	return r2.Vec{X: x, Y: y}, nil
}

func (r *wkbReader) rings(bo binary.ByteOrder, hasZ bool) ([][]r2.Vec, error) {
	n, err := r.uint32(bo)
	if err != nil {
		return nil, err
	}
	rings := make([][]r2.Vec, 0, n)
	for i := uint32(0); i < n; i++ {
		m, err := r.uint32(bo)
		if err != nil {
			return nil, err
		}
		ring := make([]r2.Vec, 0, m)
		for j := uint32(0); j < m; j++ {
			p, err := r.point(bo, hasZ)
			if err != nil {
				return nil, err
			}
			ring = append(ring, p)
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// AppendWKB encodes g as 2D little-endian WKB appended to dst.
func AppendWKB(dst []byte, g Geometry) []byte {
	le := binary.LittleEndian
	u32 := func(dst []byte, v uint32) []byte {
		var b [4]byte
		le.PutUint32(b[:], v)
		return append(dst, b[:]...)
	}
	f64 := func(dst []byte, v float64) []byte {
		var b [8]byte
		le.PutUint64(b[:], math.Float64bits(v))
		return append(dst, b[:]...)
	}
	appendPoly := func(dst []byte, rings [][]r2.Vec) []byte {
		dst = u32(dst, uint32(len(rings)))
		for _, ring := range rings {
			dst = u32(dst, uint32(len(ring)))
			for _, v := range ring {
				dst = f64(dst, v.X)
				dst = f64(dst, v.Y)
			}
		}
		return dst
	}

	dst = append(dst, 1) // little endian
	switch g.Kind {
	case KindPoint:
		dst = u32(dst, wkbPoint)
		dst = f64(dst, g.Point.X)
		dst = f64(dst, g.Point.Y)
	case KindPolygon:
		dst = u32(dst, wkbPolygon)
		dst = appendPoly(dst, g.Rings[0])
	case KindMultiPolygon:
		dst = u32(dst, wkbMultiPolygon)
		dst = u32(dst, uint32(len(g.Rings)))
		for _, poly := range g.Rings {
			dst = append(dst, 1)
			dst = u32(dst, wkbPolygon)
			dst = appendPoly(dst, poly)
		}
	}
	return dst
}
