package pointcloud

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// SplitOptions tunes the splitter's memory budget. The chunk size is derived
// as MemoryBudget / BytesPerPoint, bounding peak memory to a constant
// regardless of input size.
type SplitOptions struct {
	// MemoryBudget in bytes. Zero means DefaultMemoryBudget.
	MemoryBudget int64

	// BytesPerPoint is the estimated in-memory cost per point, record plus
	// overhead. Zero means DefaultBytesPerPoint.
	BytesPerPoint int
}

const (
	DefaultMemoryBudget  = 1 << 30 // 1 GiB
	DefaultBytesPerPoint = 50      // ~40 byte record + overhead
)

// Split streams one LAS file into grid-aligned tile files under outDir and
// returns the generated paths. The grid is derived from the file's own
// header extent with the same floor/ceil alignment the footprint partitioner
// uses, so splitter tiles share coordinates with the footprint grid. Tiles
// are created lazily on first point, so sparse data produces no empty files.
//
// Tile file handles stay open for the duration of the call and are closed at
// the end. One call touches at most (extent/gridSize)^2 tiles, so the open
// handle count is bounded and small; reopening per chunk would cost
// O(chunks x tiles) syscalls for no memory win.
//
// Split is single-threaded by design: bounded memory is the goal here.
// Callers parallelize across input files.
func Split(ctx context.Context, inputPath, outDir string, gridSize int, opts SplitOptions) ([]string, error) {
	if gridSize <= 0 {
		return nil, fmt.Errorf("grid size must be positive, got %d", gridSize)
	}
	if opts.MemoryBudget <= 0 {
		opts.MemoryBudget = DefaultMemoryBudget
	}
	if opts.BytesPerPoint <= 0 {
		opts.BytesPerPoint = DefaultBytesPerPoint
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	r, err := Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	h := r.Header()

	aligned := geogrid.Align(geogrid.Bounds{MinX: h.MinX, MinY: h.MinY, MaxX: h.MaxX, MaxY: h.MaxY}, gridSize)
	size := float64(gridSize)
	tilesX := int((aligned.MaxX - aligned.MinX) / size)
	tilesY := int((aligned.MaxY - aligned.MinY) / size)

	chunkPoints := int(opts.MemoryBudget / int64(opts.BytesPerPoint))
	if chunkPoints < 1 {
		chunkPoints = 1
	}
	recLen := int(h.PointRecordLen)
	buf := make([]byte, chunkPoints*recLen)

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	writers := make(map[geogrid.TileCoord]*tileWriter)

	closeAll := func() error {
		var firstErr error
		for _, w := range writers {
			if err := w.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	log.Printf("[split] %s: %d points, %dx%d candidate tiles, chunk %d points",
		filepath.Base(inputPath), h.PointCount, tilesX, tilesY, chunkPoints)

	for {
		if err := ctx.Err(); err != nil {
			closeAll()
			return nil, err
		}
		n, err := r.ReadChunk(buf)
		if n == 0 {
			break
		}
		if err != nil {
			closeAll()
			return nil, err
		}

		for i := 0; i < n; i++ {
			record := buf[i*recLen : (i+1)*recLen]
			x, y, z := h.Coord(record)

			tx := int(math.Floor((x - aligned.MinX) / size))
			ty := int(math.Floor((y - aligned.MinY) / size))
			// Points exactly on the aligned max edge land in the last tile.
			if tx == tilesX {
				tx = tilesX - 1
			}
			if ty == tilesY {
				ty = tilesY - 1
			}

			origin := geogrid.TileCoord{
				X: int(aligned.MinX + float64(tx)*size),
				Y: int(aligned.MinY + float64(ty)*size),
			}
			w, ok := writers[origin]
			if !ok {
				tilePath := filepath.Join(outDir, geogrid.TileName(stem, origin, "las"))
				w, err = newTileWriter(tilePath, h)
				if err != nil {
					closeAll()
					return nil, err
				}
				writers[origin] = w
			}
			if err := w.writeRecord(record, x, y, z); err != nil {
				closeAll()
				return nil, err
			}
		}
	}

	if err := closeAll(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(writers))
	for _, w := range writers {
		paths = append(paths, w.path)
	}
	log.Printf("[split] %s: wrote %d tiles", filepath.Base(inputPath), len(paths))
	return paths, nil
}
