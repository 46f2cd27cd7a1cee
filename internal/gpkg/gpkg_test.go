package gpkg

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

var _ geogrid.FeatureSource = (*FeatureTable)(nil)

func buildingAt(minX, minY, size float64, id string) Feature {
	return Feature{
		Geom:  Geometry{Kind: KindMultiPolygon, Rings: [][][]r2.Vec{{squareRing(minX, minY, size)}}},
		Attrs: map[string]any{"identificatie": id},
	}
}

func writeFixture(t *testing.T, path string, feats []Feature) {
	t.Helper()
	w, err := CreateWriter(path, Schema{
		Table:    "footprints",
		GeomCol:  "geom",
		GeomType: "MULTIPOLYGON",
		SRSID:    28992,
		Columns:  []ColumnDef{{Name: "identificatie", Type: "TEXT"}},
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(context.Background(), feats))
	require.NoError(t, w.Close())
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "footprints.gpkg")
	writeFixture(t, path, []Feature{
		buildingAt(100, 100, 10, "NL.1"),
		buildingAt(300, 150, 20, "NL.2"),
	})

	ft, err := OpenFeatureTable(path)
	require.NoError(t, err)
	defer ft.Close()

	assert.Equal(t, "footprints", ft.Name())
	assert.Equal(t, int32(28992), ft.SRSID())
	assert.Equal(t, []ColumnDef{{Name: "identificatie", Type: "TEXT"}}, ft.Columns())

	bounds, err := ft.Bounds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geogrid.Bounds{MinX: 100, MinY: 100, MaxX: 320, MaxY: 170}, bounds)

	feats, err := ft.SearchFeatures(context.Background(), bounds)
	require.NoError(t, err)
	require.Len(t, feats, 2)
	assert.Equal(t, "NL.1", feats[0].Attrs["identificatie"])
	assert.Equal(t, feats[0].Geom.Envelope(), geogrid.Bounds{MinX: 100, MinY: 100, MaxX: 110, MaxY: 110})
}

func TestCreateWriterReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heights.gpkg")
	writeFixture(t, path, []Feature{
		buildingAt(100, 100, 10, "NL.1"),
		buildingAt(300, 150, 20, "NL.2"),
	})

	// A rerun over the same path starts from an empty layer.
	writeFixture(t, path, []Feature{
		buildingAt(500, 500, 10, "NL.3"),
	})

	ft, err := OpenFeatureTable(path)
	require.NoError(t, err)
	defer ft.Close()

	bounds, err := ft.Bounds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geogrid.Bounds{MinX: 500, MinY: 500, MaxX: 510, MaxY: 510}, bounds)

	feats, err := ft.SearchFeatures(context.Background(), bounds)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "NL.3", feats[0].Attrs["identificatie"])
}

func TestSearchCentroidsFiltersByEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "footprints.gpkg")
	writeFixture(t, path, []Feature{
		buildingAt(10, 10, 10, "inside"),
		buildingAt(5000, 5000, 10, "outside"),
	})

	ft, err := OpenFeatureTable(path)
	require.NoError(t, err)
	defer ft.Close()

	centroids, err := ft.SearchCentroids(context.Background(), geogrid.Cell{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100})
	require.NoError(t, err)
	require.Len(t, centroids, 1)
	assert.InDelta(t, 15, centroids[0].X, 1e-9)
	assert.InDelta(t, 15, centroids[0].Y, 1e-9)
}

func TestOpenRejectsNonGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.sqlite")
	w, err := CreateWriter(path, Schema{Table: "t", GeomCol: "g", GeomType: "POINT", SRSID: 0})
	require.NoError(t, err)
	// Drop the contents row so the file is sqlite but not a usable layer.
	_, err = w.db.Exec(`DELETE FROM gpkg_contents`)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = OpenFeatureTable(path)
	assert.ErrorIs(t, err, ErrNoFeatureLayer)
}

func TestSplitByCellsCentroidRouting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "all.gpkg")
	// Two buildings per cell, one straddling the boundary with its centroid
	// in the left cell.
	writeFixture(t, src, []Feature{
		buildingAt(100, 100, 10, "left-a"),
		buildingAt(995, 100, 8, "straddler"), // centroid x=999, left cell
		buildingAt(1100, 100, 10, "right-a"),
	})

	cells := []geogrid.Cell{
		{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000},
		{MinX: 1000, MinY: 0, MaxX: 2000, MaxY: 1000},
		{MinX: 2000, MinY: 0, MaxX: 3000, MaxY: 1000}, // empty
	}
	paths, err := SplitByCells(context.Background(), src, filepath.Join(dir, "cells"), cells, "all")
	require.NoError(t, err)
	require.Len(t, paths, 2, "empty cell must not produce a file")

	counts := map[string]int{}
	for _, p := range paths {
		ft, err := OpenFeatureTable(p)
		require.NoError(t, err)
		feats, err := ft.SearchFeatures(context.Background(), geogrid.Bounds{MinX: -1e9, MinY: -1e9, MaxX: 1e9, MaxY: 1e9})
		require.NoError(t, err)
		require.NoError(t, ft.Close())
		counts[filepath.Base(p)] = len(feats)
	}
	assert.Equal(t, map[string]int{
		"all_0_0.gpkg":    2,
		"all_1000_0.gpkg": 1,
	}, counts)
}
