// Package lazdb maintains a sqlite index of point-cloud files: one row per
// file with its extent, point count and epsg code, built from header bytes
// alone. Per-cell reconstruction jobs query it to find the files overlapping
// their cell instead of listing storage every run.
package lazdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/borrob/3dbag-runner/internal/geogrid"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// FileInfo is one indexed point-cloud file.
type FileInfo struct {
	Name             string
	URI              string
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
	PointCount       uint64
	EPSG             int
	Compressed       bool
}

// DB is an open point-cloud index database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the index at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...any) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Has reports whether uri is already indexed.
func (d *DB) Has(ctx context.Context, uri string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pointcloud_files WHERE uri = ?`, uri).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check uri: %w", err)
	}
	return n > 0, nil
}

// Insert adds one file to the index. Re-inserting an indexed uri is an
// error; scanners check Has first.
func (d *DB) Insert(ctx context.Context, fi FileInfo) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO pointcloud_files
		(name, uri, min_x, min_y, min_z, max_x, max_y, max_z, point_count, epsg, compressed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fi.Name, fi.URI, fi.MinX, fi.MinY, fi.MinZ, fi.MaxX, fi.MaxY, fi.MaxZ,
		fi.PointCount, fi.EPSG, fi.Compressed)
	if err != nil {
		return fmt.Errorf("insert %s: %w", fi.URI, err)
	}
	return nil
}

// FilesIntersecting returns the indexed files whose extent overlaps bounds,
// ordered by uri for determinism.
func (d *DB) FilesIntersecting(ctx context.Context, b geogrid.Bounds) ([]FileInfo, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT
		name, uri, min_x, min_y, min_z, max_x, max_y, max_z, point_count, epsg, compressed
		FROM pointcloud_files
		WHERE min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ?
		ORDER BY uri`,
		b.MaxX, b.MinX, b.MaxY, b.MinY)
	if err != nil {
		return nil, fmt.Errorf("query intersecting files: %w", err)
	}
	defer rows.Close()

	var out []FileInfo
	for rows.Next() {
		var fi FileInfo
		if err := rows.Scan(&fi.Name, &fi.URI, &fi.MinX, &fi.MinY, &fi.MinZ,
			&fi.MaxX, &fi.MaxY, &fi.MaxZ, &fi.PointCount, &fi.EPSG, &fi.Compressed); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// Count returns the number of indexed files.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM pointcloud_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (d *DB) Close() error { return d.db.Close() }
