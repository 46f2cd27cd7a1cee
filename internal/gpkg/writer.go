package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

// Schema describes the feature table a Writer creates.
type Schema struct {
	Table    string
	GeomCol  string
	GeomType string // POINT, POLYGON or MULTIPOLYGON
	SRSID    int32
	Columns  []ColumnDef
}

// Writer creates a GeoPackage and appends features in transactional batches.
// The layer extent in gpkg_contents is accumulated as features arrive and
// finalized on Close.
type Writer struct {
	db     *sql.DB
	schema Schema
	insert string
	bounds geogrid.Bounds
	count  int64
}

// CreateWriter creates (or replaces) a GeoPackage at path with the OGC
// metadata tables and one empty feature table. A leftover file from an
// earlier run is removed first, so a rerun rebuilds from scratch instead of
// tripping over the existing feature table.
func CreateWriter(path string, schema Schema) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale geopackage %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("create geopackage %s: %w", path, err)
	}
	w := &Writer{
		db:     db,
		schema: schema,
		bounds: geogrid.Bounds{
			MinX: math.Inf(1), MinY: math.Inf(1),
			MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		},
	}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) initialize() error {
	stmts := []string{
		`PRAGMA application_id = 0x47504B47`, // "GPKG"
		`PRAGMA user_version = 10300`,
		`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, s := range stmts {
		if _, err := w.db.Exec(s); err != nil {
			return fmt.Errorf("initialize geopackage: %w", err)
		}
	}

	// Undefined cartesian plus the layer's own srs. EPSG definitions are left
	// to consumers; the pipeline only needs the id to round-trip.
	if _, err := w.db.Exec(`INSERT OR IGNORE INTO gpkg_spatial_ref_sys VALUES
		('Undefined Cartesian', -1, 'NONE', -1, 'undefined', NULL),
		('Undefined Geographic', 0, 'NONE', 0, 'undefined', NULL)`); err != nil {
		return fmt.Errorf("seed srs table: %w", err)
	}
	if w.schema.SRSID > 0 {
		if _, err := w.db.Exec(`INSERT OR IGNORE INTO gpkg_spatial_ref_sys VALUES
			(?, ?, 'EPSG', ?, 'undefined', NULL)`,
			fmt.Sprintf("EPSG:%d", w.schema.SRSID), w.schema.SRSID, w.schema.SRSID); err != nil {
			return fmt.Errorf("seed srs table: %w", err)
		}
	}

	cols := make([]string, 0, len(w.schema.Columns)+2)
	cols = append(cols, `fid INTEGER PRIMARY KEY AUTOINCREMENT`)
	cols = append(cols, fmt.Sprintf("%q BLOB", w.schema.GeomCol))
	for _, c := range w.schema.Columns {
		cols = append(cols, fmt.Sprintf("%q %s", c.Name, c.Type))
	}
	create := fmt.Sprintf("CREATE TABLE %q (%s)", w.schema.Table, strings.Join(cols, ", "))
	if _, err := w.db.Exec(create); err != nil {
		return fmt.Errorf("create feature table %s: %w", w.schema.Table, err)
	}

	if _, err := w.db.Exec(`INSERT INTO gpkg_contents
		(table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
		w.schema.Table, w.schema.Table, w.schema.SRSID); err != nil {
		return fmt.Errorf("register layer %s: %w", w.schema.Table, err)
	}
	if _, err := w.db.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, ?, ?, ?, 0, 0)`,
		w.schema.Table, w.schema.GeomCol, w.schema.GeomType, w.schema.SRSID); err != nil {
		return fmt.Errorf("register geometry column: %w", err)
	}

	placeholders := make([]string, 0, len(w.schema.Columns)+1)
	names := make([]string, 0, len(w.schema.Columns)+1)
	names = append(names, fmt.Sprintf("%q", w.schema.GeomCol))
	placeholders = append(placeholders, "?")
	for _, c := range w.schema.Columns {
		names = append(names, fmt.Sprintf("%q", c.Name))
		placeholders = append(placeholders, "?")
	}
	w.insert = fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		w.schema.Table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return nil
}

// WriteBatch appends a batch of features in one transaction. Attribute values
// are looked up by column name; absent attributes insert NULL.
func (w *Writer) WriteBatch(ctx context.Context, feats []Feature) error {
	if len(feats) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, w.insert)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, 1+len(w.schema.Columns))
	for _, f := range feats {
		args[0] = EncodeBlob(f.Geom, w.schema.SRSID)
		for i, c := range w.schema.Columns {
			args[i+1] = f.Attrs[c.Name]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert into %s: %w", w.schema.Table, err)
		}
		env := f.Geom.Envelope()
		w.bounds.MinX = math.Min(w.bounds.MinX, env.MinX)
		w.bounds.MinY = math.Min(w.bounds.MinY, env.MinY)
		w.bounds.MaxX = math.Max(w.bounds.MaxX, env.MaxX)
		w.bounds.MaxY = math.Max(w.bounds.MaxY, env.MaxY)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	w.count += int64(len(feats))
	return nil
}

// Count returns the number of features written so far.
func (w *Writer) Count() int64 { return w.count }

// Close writes the accumulated layer extent into gpkg_contents and closes
// the database.
func (w *Writer) Close() error {
	if w.count > 0 {
		if _, err := w.db.Exec(`UPDATE gpkg_contents
			SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = ?`,
			w.bounds.MinX, w.bounds.MinY, w.bounds.MaxX, w.bounds.MaxY, w.schema.Table); err != nil {
			w.db.Close()
			return fmt.Errorf("finalize layer extent: %w", err)
		}
	}
	return w.db.Close()
}
