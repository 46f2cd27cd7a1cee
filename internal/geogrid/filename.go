package geogrid

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// ErrBadTileName is returned when a filename does not match the expected
// coordinate pattern. Callers that require coordinates must reject such
// names, not coerce them.
var ErrBadTileName = errors.New("filename does not match tile coordinate pattern")

// TileCoord is a tile's integer-truncated origin, recovered from or encoded
// into a filename.
type TileCoord struct {
	X, Y int
}

var (
	// {stem}_{x}_{y}
	tileStemRe = regexp.MustCompile(`^(.*)_(-?\d+)_(-?\d+)$`)
	// {prefix}_{year}_{x}_{y}
	gridStemRe = regexp.MustCompile(`^(.*)_(\d{4})_(-?\d+)_(-?\d+)$`)
)

// TileName formats the point-cloud tile filename convention
// {stem}_{tileOriginX}_{tileOriginY}.{ext}. ext is given without a dot.
func TileName(stem string, origin TileCoord, ext string) string {
	return fmt.Sprintf("%s_%d_%d.%s", stem, origin.X, origin.Y, ext)
}

// ParseTileName recovers the stem and tile origin from a filename produced
// by TileName. The extension, if any, is ignored.
func ParseTileName(name string) (stem string, origin TileCoord, err error) {
	base := strings.TrimSuffix(name, path.Ext(name))
	m := tileStemRe.FindStringSubmatch(base)
	if m == nil {
		return "", TileCoord{}, fmt.Errorf("%w: %q", ErrBadTileName, name)
	}
	x, errX := strconv.Atoi(m[2])
	y, errY := strconv.Atoi(m[3])
	if errX != nil || errY != nil {
		return "", TileCoord{}, fmt.Errorf("%w: %q", ErrBadTileName, name)
	}
	return m[1], TileCoord{X: x, Y: y}, nil
}

// GridName formats the collaborator convention
// {prefix}_{year}_{cellOriginX}_{cellOriginY}.{ext}.
func GridName(prefix string, year int, origin TileCoord, ext string) string {
	return fmt.Sprintf("%s_%d_%d_%d.%s", prefix, year, origin.X, origin.Y, ext)
}

// ParseGridName parses a grid-derived filename into its prefix, year and
// cell origin.
func ParseGridName(name string) (prefix string, year int, origin TileCoord, err error) {
	base := strings.TrimSuffix(name, path.Ext(name))
	m := gridStemRe.FindStringSubmatch(base)
	if m == nil {
		return "", 0, TileCoord{}, fmt.Errorf("%w: %q", ErrBadTileName, name)
	}
	year, _ = strconv.Atoi(m[2])
	x, errX := strconv.Atoi(m[3])
	y, errY := strconv.Atoi(m[4])
	if errX != nil || errY != nil {
		return "", 0, TileCoord{}, fmt.Errorf("%w: %q", ErrBadTileName, name)
	}
	return m[1], year, TileCoord{X: x, Y: y}, nil
}
