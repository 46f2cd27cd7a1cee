package gpkg

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// SplitByCells copies the source layer into one GeoPackage per cell, keeping
// each feature in exactly the cell that contains its centroid. Cells that end
// up with no features produce no file. Output names follow the tile naming
// convention, so downstream stages can pair them with point-cloud tiles of
// the same grid.
func SplitByCells(ctx context.Context, srcPath, outDir string, cells []geogrid.Cell, stem string) ([]string, error) {
	src, err := OpenFeatureTable(srcPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	schema := Schema{
		Table:    src.Name(),
		GeomCol:  "geom",
		GeomType: "MULTIPOLYGON",
		SRSID:    src.SRSID(),
		Columns:  src.Columns(),
	}

	var paths []string
	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feats, err := src.SearchFeatures(ctx, geogrid.Bounds(cell))
		if err != nil {
			return nil, err
		}
		kept := feats[:0]
		for _, f := range feats {
			if cell.Contains(f.Geom.Centroid()) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			continue
		}

		x, y := cell.Origin()
		outPath := filepath.Join(outDir, geogrid.TileName(stem, geogrid.TileCoord{X: x, Y: y}, "gpkg"))
		if err := writeCellFile(ctx, outPath, schema, kept); err != nil {
			return nil, err
		}
		paths = append(paths, outPath)
		log.Printf("[gpkg] %s: %d features", filepath.Base(outPath), len(kept))
	}
	return paths, nil
}

func writeCellFile(ctx context.Context, path string, schema Schema, feats []Feature) error {
	w, err := CreateWriter(path, schema)
	if err != nil {
		return err
	}
	if err := w.WriteBatch(ctx, feats); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
