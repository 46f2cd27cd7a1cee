// grid-report renders the grid occupancy of a footprint GeoPackage as an
// HTML heatmap: one colored square per grid cell, valued by how many feature
// centroids the cell contains. Useful for eyeballing a partition before
// kicking off a full run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/borrob/3dbag-runner/internal/geogrid"
	"github.com/borrob/3dbag-runner/internal/gpkg"
)

func main() {
	var (
		input    = flag.String("input", "", "path of the footprint GeoPackage")
		output   = flag.String("output", "grid-report.html", "path of the HTML report to write")
		cellSize = flag.Int("cell-size", 2000, "cell edge length in meters")
	)
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: grid-report -input footprints.gpkg [-output report.html] [-cell-size 2000]")
		os.Exit(2)
	}
	if err := run(*input, *output, *cellSize); err != nil {
		log.Fatalf("grid-report: %v", err)
	}
}

func run(input, output string, cellSize int) error {
	ctx := context.Background()

	src, err := gpkg.OpenFeatureTable(input)
	if err != nil {
		return err
	}
	defer src.Close()

	bounds, err := src.Bounds(ctx)
	if err != nil {
		return err
	}
	aligned := geogrid.Align(bounds, cellSize)
	cells := geogrid.CandidateCells(aligned, cellSize)

	// Axis categories are the distinct cell origins, in grid order.
	size := float64(cellSize)
	nx := int((aligned.MaxX - aligned.MinX) / size)
	ny := int((aligned.MaxY - aligned.MinY) / size)
	xLabels := make([]string, nx)
	for i := range xLabels {
		xLabels[i] = fmt.Sprintf("%d", int(aligned.MinX)+i*cellSize)
	}
	yLabels := make([]string, ny)
	for i := range yLabels {
		yLabels[i] = fmt.Sprintf("%d", int(aligned.MinY)+i*cellSize)
	}

	var data []opts.HeatMapData
	occupied := 0
	maxCount := 0
	for _, cell := range cells {
		centroids, err := src.SearchCentroids(ctx, cell)
		if err != nil {
			return err
		}
		count := 0
		for _, c := range centroids {
			if cell.Contains(c) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		occupied++
		if count > maxCount {
			maxCount = count
		}
		xi := int((cell.MinX - aligned.MinX) / size)
		yi := int((cell.MinY - aligned.MinY) / size)
		data = append(data, opts.HeatMapData{Value: []interface{}{xi, yi, count}})
	}
	log.Printf("[grid-report] %s: %d of %d cells occupied", src.Name(), occupied, len(cells))

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Grid occupancy",
			Width:     "1100px",
			Height:    "900px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Grid occupancy",
			Subtitle: fmt.Sprintf("%s, %d m cells, %d occupied", src.Name(), cellSize, occupied),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xLabels, Name: "cell origin X"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yLabels, Name: "cell origin Y"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCount),
			InRange: &opts.VisualMapInRange{
				Color: []string{"#440154", "#31688e", "#35b779", "#fde725"},
			},
		}),
	)
	hm.AddSeries("centroids", data)

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := hm.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("[grid-report] wrote %s", output)
	return nil
}
