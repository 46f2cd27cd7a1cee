package commands

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/internal/cityjson"
	"github.com/borrob/3dbag-runner/internal/featurepipe"
	"github.com/borrob/3dbag-runner/internal/gpkg"
	"github.com/borrob/3dbag-runner/internal/storage"
)

// heightColumns is the attribute schema of the height database. Records may
// carry fewer attributes; missing ones insert NULL.
var heightColumns = []gpkg.ColumnDef{
	{Name: "identificatie", Type: "TEXT"},
	{Name: "lod", Type: "TEXT"},
	{Name: "oorspronkelijkbouwjaar", Type: "INTEGER"},
	{Name: "b3_h_maaiveld", Type: "REAL"},
	{Name: "b3_h_dak_min", Type: "REAL"},
	{Name: "b3_h_dak_50p", Type: "REAL"},
	{Name: "b3_h_dak_70p", Type: "REAL"},
	{Name: "b3_h_dak_max", Type: "REAL"},
	{Name: "b3_hellingshoek", Type: "REAL"},
}

// gpkgSink adapts the GeoPackage writer to the pipeline's sink.
type gpkgSink struct {
	w *gpkg.Writer
}

func (s gpkgSink) WriteBatch(ctx context.Context, batch []gpkg.Feature) error {
	return s.w.WriteBatch(ctx, batch)
}

func newHeightDBCmd() *cobra.Command {
	var (
		inputStr  string
		pattern   string
		output    string
		uploadStr string
		modeStr   string
		table     string
		batchSize int
		producers int
	)

	cmd := &cobra.Command{
		Use:   "heightdb",
		Short: "Stream CityJSON files into one height GeoPackage",
		Long: `Reads every CityJSON file under --input, extracts one height record per
building (or per roof surface with --mode roofsurface), and streams the
records into a single GeoPackage through the bounded batch pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h := handlerFrom(cmd)

			input, err := storage.Parse(inputStr)
			if err != nil {
				return fmt.Errorf("--input: %w", err)
			}

			var mode cityjson.Mode
			var geomType string
			switch modeStr {
			case "aggregate":
				mode, geomType = cityjson.ModeAggregate, "MULTIPOLYGON"
			case "roofsurface":
				mode, geomType = cityjson.ModePerRoofSurface, "POLYGON"
			default:
				return fmt.Errorf("--mode must be aggregate or roofsurface, got %q", modeStr)
			}

			var inputs []storage.URI
			for entry, err := range h.ListRecursive(ctx, input, pattern) {
				if err != nil {
					return err
				}
				if entry.IsFile {
					inputs = append(inputs, entry.URI)
				}
			}
			log.Printf("[heightdb] %d input files", len(inputs))

			w, err := gpkg.CreateWriter(output, gpkg.Schema{
				Table:    table,
				GeomCol:  "geom",
				GeomType: geomType,
				SRSID:    28992,
				Columns:  heightColumns,
			})
			if err != nil {
				return err
			}

			extract := func(ctx context.Context, uri storage.URI) ([]gpkg.Feature, error) {
				data, err := h.GetBytes(ctx, uri)
				if err != nil {
					return nil, err
				}
				return cityjson.ExtractHeightRecords(data, mode)
			}
			runErr := featurepipe.Run(ctx, inputs, extract, gpkgSink{w: w},
				featurepipe.Options{BatchSize: batchSize, Producers: producers})
			if closeErr := w.Close(); runErr == nil {
				runErr = closeErr
			}
			if runErr != nil {
				return runErr
			}
			log.Printf("[heightdb] wrote %d records to %s", w.Count(), output)

			if uploadStr != "" {
				upload, err := storage.Parse(uploadStr)
				if err != nil {
					return fmt.Errorf("--upload: %w", err)
				}
				if err := h.UploadIntoDirectory(ctx, output, upload, ""); err != nil {
					return err
				}
				log.Printf("[heightdb] uploaded to %s", upload)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputStr, "input", "", "URI of the directory holding CityJSON files")
	cmd.Flags().StringVar(&pattern, "pattern", `(?i)^.*\.json$`, "regex selecting input files")
	cmd.Flags().StringVar(&output, "output", "heights.gpkg", "path of the GeoPackage to write")
	cmd.Flags().StringVar(&uploadStr, "upload", "", "optional URI of a directory to upload the result to")
	cmd.Flags().StringVar(&modeStr, "mode", "aggregate", "record granularity: aggregate or roofsurface")
	cmd.Flags().StringVar(&table, "table", "heights", "feature table name")
	cmd.Flags().IntVar(&batchSize, "batch-size", featurepipe.DefaultBatchSize, "records per flush")
	cmd.Flags().IntVar(&producers, "producers", featurepipe.DefaultProducers, "concurrent input readers")
	cmd.MarkFlagRequired("input")
	return cmd
}
