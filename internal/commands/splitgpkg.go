package commands

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/internal/geogrid"
	"github.com/borrob/3dbag-runner/internal/gpkg"
	"github.com/borrob/3dbag-runner/internal/storage"
)

func newSplitGpkgCmd() *cobra.Command {
	var (
		inputStr    string
		outDir      string
		uploadStr   string
		stem        string
		cellSize    int
		poolWorkers int
	)

	cmd := &cobra.Command{
		Use:   "splitgpkg",
		Short: "Split one GeoPackage into per-cell GeoPackages",
		Long: `Partitions the source layer into occupied grid cells and writes one
GeoPackage per cell, each feature landing in the cell containing its
centroid. Tile-style filenames let downstream stages pair the pieces with
point-cloud tiles of the same grid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h := handlerFrom(cmd)

			input, err := storage.Parse(inputStr)
			if err != nil {
				return fmt.Errorf("--input: %w", err)
			}
			localPath, err := h.Download(ctx, input)
			if err != nil {
				return err
			}
			defer h.DisposeIfRemote(localPath)

			src, err := gpkg.OpenFeatureTable(localPath)
			if err != nil {
				return err
			}
			cells, err := geogrid.Partition(ctx, src, cellSize, poolWorkers)
			src.Close()
			if err != nil {
				return err
			}

			paths, err := gpkg.SplitByCells(ctx, localPath, outDir, cells, stem)
			if err != nil {
				return err
			}
			log.Printf("[splitgpkg] wrote %d cell files to %s", len(paths), outDir)

			if uploadStr != "" {
				upload, err := storage.Parse(uploadStr)
				if err != nil {
					return fmt.Errorf("--upload: %w", err)
				}
				if err := h.UploadFolder(ctx, outDir, upload, storage.FolderUploadOptions{Recursive: true}); err != nil {
					return err
				}
				log.Printf("[splitgpkg] uploaded to %s", upload)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputStr, "input", "", "URI of the source GeoPackage")
	cmd.Flags().StringVar(&outDir, "out-dir", "cells", "local directory for the per-cell files")
	cmd.Flags().StringVar(&uploadStr, "upload", "", "optional URI of a directory to upload the cells to")
	cmd.Flags().StringVar(&stem, "stem", "footprints", "filename stem for the per-cell files")
	cmd.Flags().IntVar(&cellSize, "cell-size", 2000, "cell edge length in meters")
	cmd.Flags().IntVar(&poolWorkers, "pool", 0, "parallel cell evaluations (default: CPU count)")
	cmd.MarkFlagRequired("input")
	return cmd
}
