package geogrid

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

// memSource is an in-memory FeatureSource over point features.
type memSource struct {
	name   string
	points []r2.Vec
	err    error
}

func (s *memSource) Name() string { return s.name }

func (s *memSource) Bounds(context.Context) (Bounds, error) {
	if s.err != nil {
		return Bounds{}, s.err
	}
	b := Bounds{MinX: s.points[0].X, MinY: s.points[0].Y, MaxX: s.points[0].X, MaxY: s.points[0].Y}
	for _, p := range s.points[1:] {
		b.MinX = min(b.MinX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxX = max(b.MaxX, p.X)
		b.MaxY = max(b.MaxY, p.Y)
	}
	return b, nil
}

func (s *memSource) SearchCentroids(_ context.Context, bbox Cell) ([]r2.Vec, error) {
	var out []r2.Vec
	for _, p := range s.points {
		// Point features: envelope intersection is closed containment.
		if p.X >= bbox.MinX && p.X <= bbox.MaxX && p.Y >= bbox.MinY && p.Y <= bbox.MaxY {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestPartitionDiagonalQuadrants(t *testing.T) {
	// Data only in two diagonal quadrants of a 4000x4000 bbox with 2000 m
	// cells: exactly two cells come out.
	src := &memSource{name: "quadrants", points: []r2.Vec{
		{X: 500, Y: 500},
		{X: 1500, Y: 900},
		{X: 2500, Y: 2500},
		{X: 3999, Y: 3999},
	}}

	cells, err := Partition(context.Background(), src, 2000, 4)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells, got %d: %v", len(cells), cells)
	}
	want := []Cell{
		{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000},
		{MinX: 2000, MinY: 2000, MaxX: 4000, MaxY: 4000},
	}
	for i := range want {
		if cells[i] != want[i] {
			t.Errorf("cell %d: got %v want %v", i, cells[i], want[i])
		}
	}
}

func TestPartitionBoundaryPointCountedOnce(t *testing.T) {
	// A point exactly on the shared boundary of four cells must end up in
	// exactly one of them.
	src := &memSource{name: "boundary", points: []r2.Vec{
		{X: 2000, Y: 2000},
		{X: 100, Y: 100},   // anchors the extent at the origin
		{X: 3900, Y: 3900}, // and past the shared corner
	}}

	cells, err := Partition(context.Background(), src, 2000, 2)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}

	counted := 0
	for _, c := range cells {
		if c.Contains(r2.Vec{X: 2000, Y: 2000}) {
			counted++
		}
	}
	if counted != 1 {
		t.Errorf("boundary point contained in %d cells, want exactly 1", counted)
	}
}

func TestPartitionCompletenessAndDisjointness(t *testing.T) {
	// Property: the union of emitted cells' contained-point counts equals
	// the total point count, no point is in two cells, no cell is empty.
	rng := rand.New(rand.NewSource(42))
	var points []r2.Vec
	for i := 0; i < 500; i++ {
		points = append(points, r2.Vec{X: rng.Float64() * 10000, Y: rng.Float64() * 10000})
	}
	// Include exact multiples of the cell size to exercise boundaries.
	points = append(points, r2.Vec{X: 2500, Y: 5000}, r2.Vec{X: 7500, Y: 2500})

	src := &memSource{name: "random", points: points}
	cells, err := Partition(context.Background(), src, 2500, 0)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}

	total := 0
	for _, cell := range cells {
		n := 0
		for _, p := range points {
			if cell.Contains(p) {
				n++
			}
		}
		if n == 0 {
			t.Errorf("emitted cell %v contains no points", cell)
		}
		total += n
	}
	if total != len(points) {
		t.Errorf("cells cover %d points, want %d", total, len(points))
	}
}

func TestPartitionSourceErrorIsFatal(t *testing.T) {
	boom := errors.New("corrupt geometry")
	src := &memSource{name: "broken", err: boom}

	_, err := Partition(context.Background(), src, 2000, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *PartitionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartitionError, got %T", err)
	}
	if !errors.Is(err, boom) {
		t.Error("PartitionError should wrap the source error")
	}
}

func TestPartitionRejectsBadCellSize(t *testing.T) {
	src := &memSource{name: "x", points: []r2.Vec{{X: 1, Y: 1}}}
	if _, err := Partition(context.Background(), src, 0, 1); err == nil {
		t.Fatal("expected error for zero cell size")
	}
}

func TestAlign(t *testing.T) {
	got := Align(Bounds{MinX: 123, MinY: 4567, MaxX: 8900, MaxY: 10001}, 1000)
	want := Bounds{MinX: 0, MinY: 4000, MaxX: 9000, MaxY: 11000}
	if got != want {
		t.Errorf("Align: got %+v want %+v", got, want)
	}

	// Already-aligned bounds stay put.
	aligned := Bounds{MinX: 0, MinY: 0, MaxX: 4000, MaxY: 4000}
	if Align(aligned, 2000) != aligned {
		t.Error("aligned bounds must not move")
	}
}
