package commands

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/internal/lazdb"
	"github.com/borrob/3dbag-runner/internal/storage"
)

func newLazIndexCmd() *cobra.Command {
	var (
		dbPath   string
		inputStr string
		workers  int
		epsg     int
	)

	cmd := &cobra.Command{
		Use:   "lazindex",
		Short: "Index point-cloud file headers into a sqlite database",
		Long: `Lists every .las/.laz file under --input and records its extent and
point count in a sqlite index, fetching only header bytes. Files already
in the index are skipped, so an interrupted scan resumes where it left
off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h := handlerFrom(cmd)

			input, err := storage.Parse(inputStr)
			if err != nil {
				return fmt.Errorf("--input: %w", err)
			}

			db, err := lazdb.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			added, err := lazdb.Scan(ctx, db, h, input, lazdb.ScanOptions{Workers: workers, EPSG: epsg})
			if err != nil {
				return err
			}

			s, err := db.Summarize(ctx)
			if err != nil {
				return err
			}
			log.Printf("[lazindex] added %d files; index now holds %d files, %d points, mean density %.1f pts/m2",
				added, s.Files, s.TotalPoints, s.MeanDensity)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "lazindex.db", "path of the sqlite index")
	cmd.Flags().StringVar(&inputStr, "input", "", "URI of the directory holding point-cloud files")
	cmd.Flags().IntVar(&workers, "scan-workers", lazdb.DefaultScanWorkers, "parallel header fetches")
	cmd.Flags().IntVar(&epsg, "epsg", 7415, "EPSG code recorded on indexed files")
	cmd.MarkFlagRequired("input")
	return cmd
}
