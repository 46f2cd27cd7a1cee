package gpkg

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// GeoPackage binary header layout: "GP", version, flags, srs_id, optional
// envelope, then plain WKB.
const (
	blobMagic0 = 'G'
	blobMagic1 = 'P'

	flagEndianLE    = 0x01
	flagEnvelopeXY  = 0x02 // envelope indicator 1 in bits 1-3
	flagEmpty       = 0x10
	envIndicatorBit = 1
)

// ParseBlob decodes a GeoPackage geometry blob into a Geometry.
func ParseBlob(b []byte) (Geometry, error) {
	wkb, _, err := splitBlob(b)
	if err != nil {
		return Geometry{}, err
	}
	return ParseWKB(wkb)
}

// BlobEnvelope returns the blob's envelope. When the header carries one it is
// read directly; otherwise the geometry is parsed and its envelope computed.
func BlobEnvelope(b []byte) (geogrid.Bounds, error) {
	wkb, env, err := splitBlob(b)
	if err != nil {
		return geogrid.Bounds{}, err
	}
	if env != nil {
		return *env, nil
	}
	g, err := ParseWKB(wkb)
	if err != nil {
		return geogrid.Bounds{}, err
	}
	return g.Envelope(), nil
}

// splitBlob validates the header and returns the WKB payload plus the header
// envelope when present.
func splitBlob(b []byte) ([]byte, *geogrid.Bounds, error) {
	if len(b) < 8 {
		return nil, nil, fmt.Errorf("geometry blob too short: %d bytes", len(b))
	}
	if b[0] != blobMagic0 || b[1] != blobMagic1 {
		return nil, nil, fmt.Errorf("geometry blob missing GP magic")
	}
	flags := b[3]
	var bo binary.ByteOrder = binary.BigEndian
	if flags&flagEndianLE != 0 {
		bo = binary.LittleEndian
	}

	indicator := (flags >> envIndicatorBit) & 0x07
	envDoubles := 0
	switch indicator {
	case 0:
		envDoubles = 0
	case 1:
		envDoubles = 4
	case 2, 3:
		envDoubles = 6
	case 4:
		envDoubles = 8
	default:
		return nil, nil, fmt.Errorf("geometry blob invalid envelope indicator %d", indicator)
	}

	headerLen := 8 + envDoubles*8
	if len(b) < headerLen {
		return nil, nil, fmt.Errorf("geometry blob truncated envelope")
	}

	var env *geogrid.Bounds
	if envDoubles >= 4 {
		f := func(i int) float64 {
			return math.Float64frombits(bo.Uint64(b[8+8*i:]))
		}
		// Envelope order is minx, maxx, miny, maxy.
		env = &geogrid.Bounds{MinX: f(0), MaxX: f(1), MinY: f(2), MaxY: f(3)}
	}
	return b[headerLen:], env, nil
}

// EncodeBlob encodes g as a GeoPackage blob with an XY envelope header.
func EncodeBlob(g Geometry, srsID int32) []byte {
	env := g.Envelope()

	out := make([]byte, 0, 8+4*8+64)
	out = append(out, blobMagic0, blobMagic1, 0, flagEndianLE|flagEnvelopeXY)

	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(srsID))
	out = append(out, b4[:]...)

	for _, v := range []float64{env.MinX, env.MaxX, env.MinY, env.MaxY} {
		var b8 [8]byte
		binary.LittleEndian.PutUint64(b8[:], math.Float64bits(v))
		out = append(out, b8[:]...)
	}
	return AppendWKB(out, g)
}
