package lazdb

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// Summary aggregates the index for diagnostics: how much data there is and
// how dense it runs, in points per square meter of file extent.
type Summary struct {
	Files         int
	TotalPoints   uint64
	MeanDensity   float64
	MedianDensity float64
	Extent        geogrid.Bounds
}

// Summarize computes index-wide statistics. Files with a degenerate extent
// contribute points but no density sample.
func (d *DB) Summarize(ctx context.Context) (Summary, error) {
	all, err := d.FilesIntersecting(ctx, geogrid.Bounds{
		MinX: -1e18, MinY: -1e18, MaxX: 1e18, MaxY: 1e18,
	})
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Files: len(all)}
	var densities []float64
	for i, fi := range all {
		s.TotalPoints += fi.PointCount
		if i == 0 {
			s.Extent = geogrid.Bounds{MinX: fi.MinX, MinY: fi.MinY, MaxX: fi.MaxX, MaxY: fi.MaxY}
		} else {
			if fi.MinX < s.Extent.MinX {
				s.Extent.MinX = fi.MinX
			}
			if fi.MinY < s.Extent.MinY {
				s.Extent.MinY = fi.MinY
			}
			if fi.MaxX > s.Extent.MaxX {
				s.Extent.MaxX = fi.MaxX
			}
			if fi.MaxY > s.Extent.MaxY {
				s.Extent.MaxY = fi.MaxY
			}
		}
		area := (fi.MaxX - fi.MinX) * (fi.MaxY - fi.MinY)
		if area > 0 {
			densities = append(densities, float64(fi.PointCount)/area)
		}
	}
	if len(densities) > 0 {
		sort.Float64s(densities)
		s.MeanDensity = stat.Mean(densities, nil)
		s.MedianDensity = stat.Quantile(0.5, stat.Empirical, densities, nil)
	}
	return s, nil
}
