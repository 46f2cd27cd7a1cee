// Package geogrid partitions a geographic extent into non-overlapping,
// grid-aligned work cells. Cells are aligned to a fixed origin derived by
// flooring the extent to the cell size, so independent invocations on
// overlapping data always agree on cell boundaries.
package geogrid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Bounds is an axis-aligned extent in projected coordinates (meters).
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Cell is one grid cell. Immutable once emitted; cells are never merged or
// split afterwards.
type Cell struct {
	MinX, MinY, MaxX, MaxY float64
}

// Contains reports whether p lies within the cell under the half-open
// [min, max) rule. A point exactly on a shared boundary therefore belongs to
// exactly one cell, which is what makes the grid a true partition.
func (c Cell) Contains(p r2.Vec) bool {
	return p.X >= c.MinX && p.X < c.MaxX && p.Y >= c.MinY && p.Y < c.MaxY
}

// Origin returns the cell's integer-truncated lower-left corner, the pair
// used in grid-derived filenames.
func (c Cell) Origin() (x, y int) {
	return int(c.MinX), int(c.MinY)
}

func (c Cell) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", c.MinX, c.MinY, c.MaxX, c.MaxY)
}

// Align snaps b outward to the grid: the lower corner floors to the cell
// size, the upper corner ceils. All partitioning and tile splitting share
// this alignment.
func Align(b Bounds, cellSize int) Bounds {
	size := float64(cellSize)
	return Bounds{
		MinX: math.Floor(b.MinX/size) * size,
		MinY: math.Floor(b.MinY/size) * size,
		MaxX: math.Ceil(b.MaxX/size) * size,
		MaxY: math.Ceil(b.MaxY/size) * size,
	}
}

// CandidateCells enumerates every cell covering the aligned bounds, column
// major (x outer, y inner), in deterministic order.
func CandidateCells(aligned Bounds, cellSize int) []Cell {
	size := float64(cellSize)
	var cells []Cell
	for x := aligned.MinX; x < aligned.MaxX; x += size {
		for y := aligned.MinY; y < aligned.MaxY; y += size {
			cells = append(cells, Cell{MinX: x, MinY: y, MaxX: x + size, MaxY: y + size})
		}
	}
	return cells
}
