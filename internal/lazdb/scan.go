package lazdb

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/borrob/3dbag-runner/internal/pointcloud"
	"github.com/borrob/3dbag-runner/internal/storage"
)

// pointFilePattern matches both uncompressed and laszip files, any case.
const pointFilePattern = `(?i)^.*\.(las|laz)$`

// headerFetchSize covers the largest public header block (LAS 1.4, 375
// bytes). The scanner never downloads point data.
const headerFetchSize = 375

// ScanOptions tunes an index build.
type ScanOptions struct {
	// Workers bounds the parallel header fetches. Zero means
	// DefaultScanWorkers.
	Workers int

	// EPSG is recorded verbatim on every inserted row. The header's CRS
	// VLRs are not parsed.
	EPSG int
}

const DefaultScanWorkers = 16

// Scan lists point-cloud files under root and indexes every file not yet
// present, reading only each file's header bytes. Already-indexed files are
// skipped, so an interrupted scan resumes where it left off. Returns the
// number of files added.
func Scan(ctx context.Context, db *DB, h *storage.Handler, root storage.URI, opts ScanOptions) (int, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultScanWorkers
	}

	var pending []storage.Entry
	for entry, err := range h.ListRecursive(ctx, root, pointFilePattern) {
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", root, err)
		}
		if !entry.IsFile {
			continue
		}
		indexed, err := db.Has(ctx, entry.URI.String())
		if err != nil {
			return 0, err
		}
		if !indexed {
			pending = append(pending, entry)
		}
	}
	log.Printf("[lazindex] %s: %d files to index", root, len(pending))

	var mu sync.Mutex
	added := 0

	p := pool.New().WithContext(ctx).WithMaxGoroutines(opts.Workers).WithCancelOnError().WithFirstError()
	for _, entry := range pending {
		p.Go(func(ctx context.Context) error {
			fi, err := readFileInfo(ctx, h, entry, opts.EPSG)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err := db.Insert(ctx, fi); err != nil {
				return err
			}
			added++
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return added, err
	}
	log.Printf("[lazindex] %s: indexed %d files", root, added)
	return added, nil
}

// readFileInfo fetches just the header bytes of one file and turns them into
// an index row.
func readFileInfo(ctx context.Context, h *storage.Handler, entry storage.Entry, epsg int) (FileInfo, error) {
	n := int64(headerFetchSize)
	if entry.Size != nil && *entry.Size < n {
		n = *entry.Size
	}
	raw, err := h.GetByteRange(ctx, entry.URI, 0, n)
	if err != nil {
		return FileInfo{}, fmt.Errorf("fetch header of %s: %w", entry.URI, err)
	}
	header, err := pointcloud.ParseHeaderInfo(bytes.NewReader(raw))
	if err != nil {
		return FileInfo{}, fmt.Errorf("parse header of %s: %w", entry.URI, err)
	}
	return FileInfo{
		Name:       entry.Name,
		URI:        entry.URI.String(),
		MinX:       header.MinX,
		MinY:       header.MinY,
		MinZ:       header.MinZ,
		MaxX:       header.MaxX,
		MaxY:       header.MaxY,
		MaxZ:       header.MaxZ,
		PointCount: header.PointCount,
		EPSG:       epsg,
		Compressed: header.Compressed,
	}, nil
}
