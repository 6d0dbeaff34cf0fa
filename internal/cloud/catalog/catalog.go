// Package catalog persists header-scan results so operators can query
// what point-cloud files have been seen without re-reading them. One
// append-only table; each scan gets its own row even for a repeated
// path, since the file may have changed in between.
package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/seabed-data/cloudio/internal/cloud"
	"github.com/seabed-data/cloudio/internal/cloud/format"
)

// DB wraps the sqlite handle holding the scan catalog.
type DB struct {
	*sql.DB
}

// Entry is one recorded header scan.
type Entry struct {
	ID         string
	Path       string
	Extension  string
	PointCount int
	Stride     int
	Fields     string // rendered as "name:type:count, ..."
	DataKind   string
	ScannedAt  time.Time
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			scan_id       TEXT PRIMARY KEY,
			path          TEXT NOT NULL,
			extension     TEXT,
			point_count   BIGINT,
			stride        BIGINT,
			fields        TEXT,
			data_kind     TEXT,
			scanned_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_scans_path ON scans(path);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise catalog schema: %w", err)
	}

	return &DB{db}, nil
}

// Record inserts one header-scan result and returns the new entry id.
func (db *DB) Record(path, extension string, hdr *format.Header) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO scans (scan_id, path, extension, point_count, stride, fields, data_kind, scanned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, path, extension, hdr.PointCount, hdr.Stride,
		RenderFields(hdr.Fields), hdr.DataKind.String(), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("record scan of %s: %w", path, err)
	}
	return id, nil
}

// ByPath returns all recorded scans of the given path, newest first.
func (db *DB) ByPath(path string) ([]Entry, error) {
	return db.query(`SELECT scan_id, path, extension, point_count, stride, fields, data_kind, scanned_at
		FROM scans WHERE path = ? ORDER BY scanned_at DESC`, path)
}

// Recent returns the n most recent scans.
func (db *DB) Recent(n int) ([]Entry, error) {
	return db.query(`SELECT scan_id, path, extension, point_count, stride, fields, data_kind, scanned_at
		FROM scans ORDER BY scanned_at DESC LIMIT ?`, n)
}

func (db *DB) query(q string, args ...any) ([]Entry, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Extension, &e.PointCount,
			&e.Stride, &e.Fields, &e.DataKind, &e.ScannedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RenderFields flattens a schema to the text form stored in the catalog:
// "x:float32:1, y:float32:1, z:float32:1".
func RenderFields(fields []cloud.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s:%s:%d", f.Name, f.Type, f.Count)
	}
	return strings.Join(parts, ", ")
}
