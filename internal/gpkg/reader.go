package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"gonum.org/v1/gonum/spatial/r2"
	_ "modernc.org/sqlite"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// ErrNoFeatureLayer means the file carries no features entry in
// gpkg_contents.
var ErrNoFeatureLayer = errors.New("geopackage has no feature layer")

// ColumnDef describes one attribute column of a feature table.
type ColumnDef struct {
	Name string
	Type string
}

// Feature is one row of a feature table: its decoded geometry plus the
// attribute values keyed by column name.
type Feature struct {
	Geom  Geometry
	Attrs map[string]any
}

// FeatureTable reads one feature layer of a GeoPackage. It satisfies the
// partitioner's FeatureSource interface.
type FeatureTable struct {
	db       *sql.DB
	table    string
	geomCol  string
	srsID    int32
	bounds   geogrid.Bounds
	columns  []ColumnDef
	hasRTree bool
}

// OpenFeatureTable opens the first (usually only) feature layer listed in
// gpkg_contents.
func OpenFeatureTable(path string) (*FeatureTable, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage %s: %w", path, err)
	}

	ft := &FeatureTable{db: db}
	row := db.QueryRow(`
		SELECT c.table_name, g.column_name, c.srs_id,
		       c.min_x, c.min_y, c.max_x, c.max_y
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
		LIMIT 1`)
	err = row.Scan(&ft.table, &ft.geomCol, &ft.srsID,
		&ft.bounds.MinX, &ft.bounds.MinY, &ft.bounds.MaxX, &ft.bounds.MaxY)
	if errors.Is(err, sql.ErrNoRows) {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNoFeatureLayer)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read gpkg_contents of %s: %w", path, err)
	}

	if ft.columns, err = ft.readColumns(); err != nil {
		db.Close()
		return nil, err
	}

	rtree := fmt.Sprintf("rtree_%s_%s", ft.table, ft.geomCol)
	row = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE name = ?`, rtree)
	var n int
	if err := row.Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("probe rtree of %s: %w", path, err)
	}
	ft.hasRTree = n > 0
	if !ft.hasRTree {
		log.Printf("[gpkg] %s: no rtree index on %s, spatial queries fall back to full scans", path, ft.table)
	}
	return ft, nil
}

// readColumns lists the attribute columns, skipping the geometry column and
// the integer primary key.
func (ft *FeatureTable) readColumns() ([]ColumnDef, error) {
	rows, err := ft.db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, ft.table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", ft.table, err)
	}
	defer rows.Close()

	var cols []ColumnDef
	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", ft.table, err)
		}
		if pk != 0 || name == ft.geomCol {
			continue
		}
		cols = append(cols, ColumnDef{Name: name, Type: typ})
	}
	return cols, rows.Err()
}

// Name identifies the layer in logs and errors.
func (ft *FeatureTable) Name() string { return ft.table }

// SRSID returns the layer's spatial reference id.
func (ft *FeatureTable) SRSID() int32 { return ft.srsID }

// Columns returns the attribute column definitions.
func (ft *FeatureTable) Columns() []ColumnDef { return ft.columns }

// Bounds returns the layer extent recorded in gpkg_contents.
func (ft *FeatureTable) Bounds(ctx context.Context) (geogrid.Bounds, error) {
	return ft.bounds, nil
}

// SearchCentroids returns the centroids of all features whose envelope
// intersects bbox.
func (ft *FeatureTable) SearchCentroids(ctx context.Context, bbox geogrid.Cell) ([]r2.Vec, error) {
	var out []r2.Vec
	err := ft.scanIntersecting(ctx, geogrid.Bounds(bbox), func(blob []byte) error {
		g, err := ParseBlob(blob)
		if err != nil {
			return err
		}
		out = append(out, g.Centroid())
		return nil
	})
	return out, err
}

// SearchFeatures returns full features whose envelope intersects bbox.
func (ft *FeatureTable) SearchFeatures(ctx context.Context, bbox geogrid.Bounds) ([]Feature, error) {
	cols := fmt.Sprintf("%q", ft.geomCol)
	for _, c := range ft.columns {
		cols += fmt.Sprintf(", %q", c.Name)
	}
	query := fmt.Sprintf(`SELECT %s FROM %q`, cols, ft.table)
	args := []any{}
	if ft.hasRTree {
		query += fmt.Sprintf(` WHERE rowid IN (
			SELECT id FROM %q WHERE minx <= ? AND maxx >= ? AND miny <= ? AND maxy >= ?)`,
			fmt.Sprintf("rtree_%s_%s", ft.table, ft.geomCol))
		args = append(args, bbox.MaxX, bbox.MinX, bbox.MaxY, bbox.MinY)
	}

	rows, err := ft.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ft.table, err)
	}
	defer rows.Close()

	var out []Feature
	dest := make([]any, 1+len(ft.columns))
	for rows.Next() {
		var blob []byte
		dest[0] = &blob
		vals := make([]any, len(ft.columns))
		for i := range vals {
			dest[i+1] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ft.table, err)
		}
		g, err := ParseBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("decode geometry in %s: %w", ft.table, err)
		}
		env := g.Envelope()
		if env.MinX > bbox.MaxX || env.MaxX < bbox.MinX || env.MinY > bbox.MaxY || env.MaxY < bbox.MinY {
			continue
		}
		attrs := make(map[string]any, len(ft.columns))
		for i, c := range ft.columns {
			attrs[c.Name] = vals[i]
		}
		out = append(out, Feature{Geom: g, Attrs: attrs})
	}
	return out, rows.Err()
}

// scanIntersecting streams the geometry blobs of features whose envelope
// intersects bbox, using the rtree when the file has one.
func (ft *FeatureTable) scanIntersecting(ctx context.Context, bbox geogrid.Bounds, fn func(blob []byte) error) error {
	var query string
	var args []any
	if ft.hasRTree {
		query = fmt.Sprintf(`SELECT t.%q FROM %q t
			JOIN %q r ON t.rowid = r.id
			WHERE r.minx <= ? AND r.maxx >= ? AND r.miny <= ? AND r.maxy >= ?`,
			ft.geomCol, ft.table, fmt.Sprintf("rtree_%s_%s", ft.table, ft.geomCol))
		args = []any{bbox.MaxX, bbox.MinX, bbox.MaxY, bbox.MinY}
	} else {
		query = fmt.Sprintf(`SELECT %q FROM %q`, ft.geomCol, ft.table)
	}

	rows, err := ft.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", ft.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return fmt.Errorf("scan %s: %w", ft.table, err)
		}
		if !ft.hasRTree {
			env, err := BlobEnvelope(blob)
			if err != nil {
				return fmt.Errorf("decode geometry in %s: %w", ft.table, err)
			}
			if env.MinX > bbox.MaxX || env.MaxX < bbox.MinX || env.MinY > bbox.MaxY || env.MaxY < bbox.MinY {
				continue
			}
		}
		if err := fn(blob); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the database handle.
func (ft *FeatureTable) Close() error { return ft.db.Close() }
