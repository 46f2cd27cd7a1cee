package commands

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/internal/geogrid"
	"github.com/borrob/3dbag-runner/internal/gpkg"
	"github.com/borrob/3dbag-runner/internal/manifest"
	"github.com/borrob/3dbag-runner/internal/storage"
)

// cellUnit is the manifest payload for one grid cell.
type cellUnit struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func newPartitionCmd() *cobra.Command {
	var (
		footprintsStr string
		destStr       string
		manifestPath  string
		prefix        string
		ext           string
		cellSize      int
		workers       int
		poolWorkers   int
	)

	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Partition a footprint GeoPackage into occupied grid cells",
		Long: `Divides the footprint layer's extent into grid-aligned cells, keeps only
cells containing at least one footprint centroid, drops cells whose
destination output already exists, and writes the remaining cells as a
worker-assigned manifest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h := handlerFrom(cmd)

			footprints, err := storage.Parse(footprintsStr)
			if err != nil {
				return fmt.Errorf("--footprints: %w", err)
			}
			dest, err := storage.Parse(destStr)
			if err != nil {
				return fmt.Errorf("--destination: %w", err)
			}

			localPath, err := h.Download(ctx, footprints)
			if err != nil {
				return err
			}
			defer h.DisposeIfRemote(localPath)

			src, err := gpkg.OpenFeatureTable(localPath)
			if err != nil {
				return err
			}
			defer src.Close()

			cells, err := geogrid.Partition(ctx, src, cellSize, poolWorkers)
			if err != nil {
				return err
			}
			log.Printf("[partition] %s: %d occupied cells at %d m", src.Name(), len(cells), cellSize)

			units := make([]cellUnit, len(cells))
			for i, c := range cells {
				units[i] = cellUnit{MinX: c.MinX, MinY: c.MinY, MaxX: c.MaxX, MaxY: c.MaxY}
			}
			m, err := manifest.Build(ctx, manifest.Units(units), workers, func(u cellUnit) (storage.URI, error) {
				cell := geogrid.Cell{MinX: u.MinX, MinY: u.MinY, MaxX: u.MaxX, MaxY: u.MaxY}
				x, y := cell.Origin()
				return h.Navigate(dest, geogrid.TileName(prefix, geogrid.TileCoord{X: x, Y: y}, ext))
			}, h)
			if err != nil {
				return err
			}

			f, err := os.Create(manifestPath)
			if err != nil {
				return fmt.Errorf("create manifest file: %w", err)
			}
			if err := m.Encode(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			log.Printf("[partition] run %s: %d of %d cells still to produce, manifest at %s",
				m.RunID, len(m.Items), len(cells), manifestPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&footprintsStr, "footprints", "", "URI of the footprint GeoPackage")
	cmd.Flags().StringVar(&destStr, "destination", "", "URI of the directory where per-cell outputs land")
	cmd.Flags().StringVar(&manifestPath, "manifest", "manifest.json", "path of the manifest artifact to write")
	cmd.Flags().StringVar(&prefix, "prefix", "cell", "filename prefix for per-cell outputs")
	cmd.Flags().StringVar(&ext, "ext", "city.json", "filename extension for per-cell outputs")
	cmd.Flags().IntVar(&cellSize, "cell-size", 2000, "cell edge length in meters")
	cmd.Flags().IntVar(&workers, "workers", 1, "total number of workers the manifest is assigned over")
	cmd.Flags().IntVar(&poolWorkers, "pool", 0, "parallel cell evaluations (default: CPU count)")
	cmd.MarkFlagRequired("footprints")
	cmd.MarkFlagRequired("destination")
	return cmd
}
