package geogrid

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/spatial/r2"
)

// PartitionError means the geometry source could not be read or was
// malformed. It aborts partitioning entirely; there is no per-cell recovery.
type PartitionError struct {
	Source string
	Err    error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %v", e.Source, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

// FeatureSource supplies the geometry being partitioned. SearchCentroids
// returns the centroids of all features whose envelope intersects bbox; the
// partitioner applies the centroid-containment rule on top of that, so a
// feature straddling a cell boundary is counted in exactly one cell.
type FeatureSource interface {
	// Name identifies the source in errors and logs.
	Name() string

	// Bounds returns the total extent of the source.
	Bounds(ctx context.Context) (Bounds, error)

	// SearchCentroids returns centroids of features intersecting bbox.
	SearchCentroids(ctx context.Context, bbox Cell) ([]r2.Vec, error)
}

// Partition divides the source's extent into cellSize-aligned cells and
// returns, in deterministic column-major order, only the cells that contain
// at least one feature centroid. Cell evaluation fans out over a bounded
// pool; evaluations share no mutable state, so a killed run can simply be
// recomputed.
//
// workers <= 0 means GOMAXPROCS.
func Partition(ctx context.Context, src FeatureSource, cellSize int, workers int) ([]Cell, error) {
	if cellSize <= 0 {
		return nil, &PartitionError{Source: src.Name(), Err: fmt.Errorf("cell size must be positive, got %d", cellSize)}
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	bounds, err := src.Bounds(ctx)
	if err != nil {
		return nil, &PartitionError{Source: src.Name(), Err: err}
	}

	candidates := CandidateCells(Align(bounds, cellSize), cellSize)
	keep := make([]bool, len(candidates))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers).WithCancelOnError().WithFirstError()
	for i, cell := range candidates {
		p.Go(func(ctx context.Context) error {
			centroids, err := src.SearchCentroids(ctx, cell)
			if err != nil {
				return err
			}
			for _, c := range centroids {
				if cell.Contains(c) {
					keep[i] = true
					break
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, &PartitionError{Source: src.Name(), Err: err}
	}

	var cells []Cell
	for i, ok := range keep {
		if ok {
			cells = append(cells, candidates[i])
		}
	}
	return cells, nil
}
