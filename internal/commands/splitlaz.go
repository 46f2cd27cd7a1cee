package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/internal/manifest"
	"github.com/borrob/3dbag-runner/internal/pointcloud"
	"github.com/borrob/3dbag-runner/internal/storage"
)

// splitUnit is the manifest payload for one input file.
type splitUnit struct {
	URI  string `json:"uri"`
	Stem string `json:"stem"`
}

func newSplitLazCmd() *cobra.Command {
	var (
		inputStr    string
		outputStr   string
		gridSize    int
		workers     int
		workerIndex int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "splitlaz",
		Short: "Split point-cloud files into grid-aligned tiles",
		Long: `Lists LAS files under --input, assigns them round-robin over --workers,
and for this worker's share downloads each file, splits it into grid tiles
and uploads the tiles to --output. A <stem>.done marker per input makes
reruns skip completed files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h := handlerFrom(cmd)

			input, err := storage.Parse(inputStr)
			if err != nil {
				return fmt.Errorf("--input: %w", err)
			}
			output, err := storage.Parse(outputStr)
			if err != nil {
				return fmt.Errorf("--output: %w", err)
			}

			var units []splitUnit
			for entry, err := range h.ListRecursive(ctx, input, `(?i)^.*\.las$`) {
				if err != nil {
					return err
				}
				if !entry.IsFile {
					continue
				}
				stem := strings.TrimSuffix(entry.Name, "."+entry.Extension())
				units = append(units, splitUnit{URI: entry.URI.String(), Stem: stem})
			}

			m, err := manifest.Build(ctx, manifest.Units(units), workers, func(u splitUnit) (storage.URI, error) {
				return h.Navigate(output, u.Stem+".done")
			}, h)
			if err != nil {
				return err
			}
			items := m.ItemsFor(workerIndex)
			log.Printf("[splitlaz] run %s: %d files pending, %d assigned to worker %d",
				m.RunID, len(m.Items), len(items), workerIndex)

			result := manifest.Execute(ctx, items, func(ctx context.Context, item manifest.Item) error {
				var u splitUnit
				if err := json.Unmarshal(item.Payload, &u); err != nil {
					return err
				}
				return splitOne(ctx, h, u, output, gridSize, item.Destination)
			}, manifest.ExecuteOptions{Concurrency: concurrency})

			log.Printf("[splitlaz] done: %d produced, %d failed", result.Produced, result.Failed)
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d items failed; rerun to retry them", result.Failed, len(items))
			}
			return ctx.Err()
		},
	}

	cmd.Flags().StringVar(&inputStr, "input", "", "URI of the directory holding input LAS files")
	cmd.Flags().StringVar(&outputStr, "output", "", "URI of the tile output directory")
	cmd.Flags().IntVar(&gridSize, "grid-size", 2000, "tile edge length in meters")
	cmd.Flags().IntVar(&workers, "workers", 1, "total number of workers sharing the manifest")
	cmd.Flags().IntVar(&workerIndex, "worker", 0, "this worker's index")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "files split concurrently by this worker")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

// splitOne processes a single input file: download, split, upload tiles,
// then publish the done marker that makes the item skippable.
func splitOne(ctx context.Context, h *storage.Handler, u splitUnit, output storage.URI, gridSize int, destination string) error {
	uri, err := storage.Parse(u.URI)
	if err != nil {
		return err
	}
	localPath, err := h.Download(ctx, uri)
	if err != nil {
		return err
	}
	defer h.DisposeIfRemote(localPath)

	tileDir, err := h.MkdirTemp("tiles-" + u.Stem + "-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tileDir)

	paths, err := pointcloud.Split(ctx, localPath, tileDir, gridSize, pointcloud.SplitOptions{})
	if err != nil {
		return err
	}
	if err := h.UploadFolder(ctx, tileDir, output, storage.FolderUploadOptions{Recursive: true}); err != nil {
		return err
	}

	dest, err := storage.Parse(destination)
	if err != nil {
		return err
	}
	marker := fmt.Sprintf("%d tiles\n", len(paths))
	return h.UploadStream(ctx, strings.NewReader(marker), dest)
}
