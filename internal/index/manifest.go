// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package index

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Manifest is the segment list of the simple dataset layout: it only
// knows which segments exist and what time span each covers; the
// per-message detail stays in the segment sidecars.
type Manifest struct {
	db   *sqlx.DB
	path string
}

// A lightweight one-table file, managed outside the migration flow of
// the full indices.
const manifestSchema = `
CREATE TABLE IF NOT EXISTS segments (
    relpath TEXT PRIMARY KEY,
    mtime   INTEGER NOT NULL,
    size    INTEGER NOT NULL,
    time_begin TEXT NOT NULL,
    time_end   TEXT NOT NULL
)`

// OpenManifest opens or creates a MANIFEST database.
func OpenManifest(path string) (*Manifest, error) {
	db, err := connect(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(manifestSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Manifest{db: db, path: path}, nil
}

func (m *Manifest) Close() error {
	return m.db.Close()
}

// ManifestEntry is one known segment.
type ManifestEntry struct {
	Relpath  string
	Mtime    int64
	Size     int64
	Interval types.Interval
}

// Upsert records or refreshes one segment.
func (m *Manifest) Upsert(en ManifestEntry) error {
	_, err := m.db.Exec(`
INSERT INTO segments (relpath, mtime, size, time_begin, time_end) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (relpath) DO UPDATE SET mtime = excluded.mtime, size = excluded.size,
    time_begin = excluded.time_begin, time_end = excluded.time_end`,
		en.Relpath, en.Mtime, en.Size, en.Interval.Begin.String(), en.Interval.End.String())
	return err
}

// Remove forgets one segment.
func (m *Manifest) Remove(relpath string) error {
	_, err := m.db.Exec(`DELETE FROM segments WHERE relpath = ?`, relpath)
	return err
}

// Get looks up one segment.
func (m *Manifest) Get(relpath string) (ManifestEntry, bool, error) {
	rows, err := m.db.Queryx(`SELECT relpath, mtime, size, time_begin, time_end FROM segments WHERE relpath = ?`, relpath)
	if err != nil {
		return ManifestEntry{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return ManifestEntry{}, false, rows.Err()
	}
	en, err := scanManifestRow(rows)
	return en, err == nil, err
}

// List returns every known segment sorted by relpath.
func (m *Manifest) List() ([]ManifestEntry, error) {
	rows, err := m.db.Queryx(`SELECT relpath, mtime, size, time_begin, time_end FROM segments ORDER BY relpath`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ManifestEntry
	for rows.Next() {
		en, err := scanManifestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, en)
	}
	return out, rows.Err()
}

// Matching returns the segments whose span intersects the interval,
// sorted by relpath.
func (m *Manifest) Matching(iv types.Interval) ([]ManifestEntry, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	var out []ManifestEntry
	for _, en := range all {
		if iv.Intersects(en.Interval) {
			out = append(out, en)
		}
	}
	return out, nil
}

// Interval returns the overall time extent.
func (m *Manifest) Interval() (types.Interval, error) {
	var bounds struct {
		Min sql.NullString `db:"min"`
		Max sql.NullString `db:"max"`
	}
	if err := m.db.Get(&bounds, `SELECT MIN(time_begin) AS min, MAX(time_end) AS max FROM segments`); err != nil {
		return types.Interval{}, err
	}
	if !bounds.Min.Valid || !bounds.Max.Valid {
		return types.Interval{}, nil
	}
	begin, err := types.ParseTime(bounds.Min.String)
	if err != nil {
		return types.Interval{}, err
	}
	end, err := types.ParseTime(bounds.Max.String)
	if err != nil {
		return types.Interval{}, err
	}
	return types.Interval{Begin: begin, End: end}, nil
}

func scanManifestRow(rows *sqlx.Rows) (ManifestEntry, error) {
	var raw struct {
		Relpath string `db:"relpath"`
		Mtime   int64  `db:"mtime"`
		Size    int64  `db:"size"`
		Begin   string `db:"time_begin"`
		End     string `db:"time_end"`
	}
	if err := rows.StructScan(&raw); err != nil {
		return ManifestEntry{}, err
	}
	begin, err := types.ParseTime(raw.Begin)
	if err != nil {
		return ManifestEntry{}, err
	}
	end, err := types.ParseTime(raw.End)
	if err != nil {
		return ManifestEntry{}, err
	}
	return ManifestEntry{
		Relpath: raw.Relpath, Mtime: raw.Mtime, Size: raw.Size,
		Interval: types.Interval{Begin: begin, End: end},
	}, nil
}
