// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cespare/xxhash/v2"
	"github.com/jmoiron/sqlx"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// ErrDuplicate is returned on a unique-key collision under the never
// policy, or when higher_usn does not beat the stored record.
var ErrDuplicate = errors.New("duplicate")

// indexedColumns maps dimension codes to their lookup columns; other
// dimensions are evaluated post-hoc on the decoded metadata.
var indexedColumns = map[types.Code]string{
	types.CodeOrigin:    "origin",
	types.CodeProduct:   "product",
	types.CodeLevel:     "level",
	types.CodeTimerange: "timerange",
	types.CodeArea:      "area",
	types.CodeProddef:   "proddef",
	types.CodeRun:       "run",
}

var rowColumns = []string{
	"id", "segment", "offset", "size", "reftime", "usn", "items",
}

// Row is one index entry: where a message lives and what its metadata
// says. MD carries no source; callers attach the blob.
type Row struct {
	ID      int64
	Segment string
	Offset  uint64
	Size    uint64
	Reftime string
	USN     int
	MD      *metadata.Metadata
}

// Index is one sqlite index database: the dataset-global store of
// ondisk2, or the per-segment store of iseg (where the segment column
// stays empty).
type Index struct {
	db   *sqlx.DB
	cfg  *config.Dataset
	path string
}

// Open opens or creates an index database, bringing its schema up to
// date.
func Open(path string, cfg *config.Dataset) (*Index, error) {
	db, err := connect(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db.DB); err != nil {
		db.Close()
		log.Errorf("index %s: migration failed: %v", path, err)
		return nil, err
	}
	return &Index{db: db, cfg: cfg, path: path}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) Path() string { return ix.path }

// uniqHash hashes the configured unique dimensions; records with no
// unique configuration never collide.
func (ix *Index) uniqHash(md *metadata.Metadata) sql.NullInt64 {
	if !ix.cfg.HasUnique() {
		return sql.NullInt64{}
	}
	h := xxhash.New()
	for _, code := range ix.cfg.Unique {
		if it := md.Get(code); it != nil {
			h.Write(types.EncodeItem(it))
		}
	}
	return sql.NullInt64{Int64: int64(h.Sum64()), Valid: true}
}

// encodeItems renders all dimension values and notes, source
// excluded; this is what rebuilds the metadata on query.
func encodeItems(md *metadata.Metadata) []byte {
	e := types.NewEncoder()
	for _, it := range md.Items() {
		types.Encode(e, it)
	}
	for _, n := range md.Notes() {
		types.Encode(e, n)
	}
	return e.Bytes()
}

func decodeItems(blob []byte) (*metadata.Metadata, error) {
	md := metadata.New()
	d := types.NewDecoder(blob)
	for d.Remaining() > 0 {
		it, err := types.Decode(d)
		if err != nil {
			return nil, err
		}
		if n, ok := it.(types.Note); ok {
			md.AddNoteItem(n)
			continue
		}
		md.Set(it)
	}
	return md, nil
}

func reftimeColumn(md *metadata.Metadata) (string, error) {
	t, ok := md.ReftimePosition()
	if !ok {
		return "", fmt.Errorf("record without a reference time cannot be indexed")
	}
	return t.String(), nil
}

/* write path */

// Tx is one index write transaction.
type Tx struct {
	tx *sqlx.Tx
	ix *Index
}

func (ix *Index) Begin() (*Tx, error) {
	// inserts are bundled into transactions because in sqlite, that
	// speeds up inserts A LOT
	tx, err := ix.db.Beginx()
	if err != nil {
		log.Warn("Error while starting index transaction")
		return nil, err
	}
	return &Tx{tx: tx, ix: ix}, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Insert adds one record, applying the replace policy on unique-key
// collision. The returned error wraps ErrDuplicate when the policy
// rejects the record.
func (t *Tx) Insert(seg string, offset, size uint64, md *metadata.Metadata, usn int, replace config.ReplaceStrategy) error {
	if replace == config.ReplaceDefault {
		replace = t.ix.cfg.Replace
	}
	reftime, err := reftimeColumn(md)
	if err != nil {
		return err
	}

	uniq := t.ix.uniqHash(md)
	if uniq.Valid {
		var existing struct {
			ID  int64 `db:"id"`
			USN int   `db:"usn"`
		}
		err := t.tx.Get(&existing, `SELECT id, usn FROM md WHERE uniq = ? AND deleted = 0`, uniq.Int64)
		switch {
		case err == sql.ErrNoRows:
			// no collision
		case err != nil:
			return err
		default:
			switch replace {
			case config.ReplaceNever:
				return fmt.Errorf("record at %s: %w", reftime, ErrDuplicate)
			case config.ReplaceAlways:
				// space is reclaimed by repack
				if _, err := t.tx.Exec(`UPDATE md SET deleted = 1 WHERE id = ?`, existing.ID); err != nil {
					return err
				}
			case config.ReplaceHigherUSN:
				if usn <= existing.USN {
					return fmt.Errorf("record at %s has USN %d, stored has %d: %w", reftime, usn, existing.USN, ErrDuplicate)
				}
				if _, err := t.tx.Exec(`UPDATE md SET deleted = 1 WHERE id = ?`, existing.ID); err != nil {
					return err
				}
			}
		}
	}

	cols := []string{"segment", "offset", "size", "reftime", "uniq", "usn", "items"}
	vals := []interface{}{seg, int64(offset), int64(size), reftime, uniq, usn, encodeItems(md)}
	for code, col := range indexedColumns {
		if !t.ix.cfg.IsIndexed(code) {
			continue
		}
		if it := md.Get(code); it != nil {
			cols = append(cols, col)
			vals = append(vals, types.EncodeItem(it))
		}
	}

	query, args, err := sq.Insert("md").Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(query, args...); err != nil {
		return err
	}
	return nil
}

// MarkDeleted soft-deletes one row; the data stays in the segment
// until repack.
func (t *Tx) MarkDeleted(id int64) error {
	_, err := t.tx.Exec(`UPDATE md SET deleted = 1 WHERE id = ?`, id)
	return err
}

// DeleteRow removes one row outright.
func (t *Tx) DeleteRow(id int64) error {
	_, err := t.tx.Exec(`DELETE FROM md WHERE id = ?`, id)
	return err
}

// UpdateOffset moves one row after a repack relocated its message.
func (t *Tx) UpdateOffset(id int64, offset uint64) error {
	_, err := t.tx.Exec(`UPDATE md SET offset = ? WHERE id = ?`, int64(offset), id)
	return err
}

// PurgeDeleted drops the soft-deleted rows of a segment.
func (t *Tx) PurgeDeleted(seg string) error {
	_, err := t.tx.Exec(`DELETE FROM md WHERE segment = ? AND deleted = 1`, seg)
	return err
}

// RemoveSegment forgets every row of a segment.
func (t *Tx) RemoveSegment(seg string) error {
	_, err := t.tx.Exec(`DELETE FROM md WHERE segment = ?`, seg)
	return err
}

/* read path */

// matcherQuery translates the index-friendly part of a matcher into
// SQL: the reftime interval plus equality on exactly-pinned indexed
// dimensions. Everything else is evaluated on the decoded record.
func (ix *Index) matcherQuery(m matcher.Matcher, seg string) sq.SelectBuilder {
	query := sq.Select(rowColumns...).From("md").Where(sq.Eq{"deleted": 0})
	if seg != "" {
		query = query.Where(sq.Eq{"segment": seg})
	}
	iv := m.Interval()
	if !iv.Begin.IsZero() {
		query = query.Where("reftime >= ?", iv.Begin.String())
	}
	if !iv.End.IsZero() {
		query = query.Where("reftime < ?", iv.End.String())
	}
	for code, col := range indexedColumns {
		if !ix.cfg.IsIndexed(code) {
			continue
		}
		if it, ok := m.ExactItem(code); ok {
			query = query.Where(sq.Eq{col: types.EncodeItem(it)})
		}
	}
	return query.OrderBy("segment ASC", "offset ASC")
}

func scanRow(rows *sqlx.Rows) (Row, error) {
	var raw struct {
		ID      int64  `db:"id"`
		Segment string `db:"segment"`
		Offset  int64  `db:"offset"`
		Size    int64  `db:"size"`
		Reftime string `db:"reftime"`
		USN     int    `db:"usn"`
		Items   []byte `db:"items"`
	}
	if err := rows.StructScan(&raw); err != nil {
		return Row{}, err
	}
	md, err := decodeItems(raw.Items)
	if err != nil {
		return Row{}, err
	}
	return Row{
		ID: raw.ID, Segment: raw.Segment,
		Offset: uint64(raw.Offset), Size: uint64(raw.Size),
		Reftime: raw.Reftime, USN: raw.USN, MD: md,
	}, nil
}

// Query streams matching rows ordered by (segment, offset),
// post-filtering the predicates the SQL shape cannot express.
func (ix *Index) Query(m matcher.Matcher, seg string, f func(Row) (bool, error)) error {
	query, args, err := ix.matcherQuery(m, seg).ToSql()
	if err != nil {
		log.Warn("Error while converting index query to sql")
		return err
	}
	rows, err := ix.db.Queryx(query, args...)
	if err != nil {
		log.Error("Error while running index query")
		return err
	}
	defer rows.Close()
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return err
		}
		if !m.Match(row.MD) {
			continue
		}
		goOn, err := f(row)
		if err != nil || !goOn {
			return err
		}
	}
	return rows.Err()
}

// SegmentRows returns the live rows of one segment in offset order.
func (ix *Index) SegmentRows(seg string) ([]Row, error) {
	query, args, err := sq.Select(rowColumns...).From("md").
		Where(sq.Eq{"segment": seg, "deleted": 0}).
		OrderBy("offset ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := ix.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Segments lists the segments the index references, sorted.
func (ix *Index) Segments() ([]string, error) {
	var out []string
	if err := ix.db.Select(&out, `SELECT DISTINCT segment FROM md ORDER BY segment`); err != nil {
		return nil, err
	}
	return out, nil
}

// CountDeleted counts the soft-deleted rows of a segment.
func (ix *Index) CountDeleted(seg string) (int, error) {
	var n int
	err := ix.db.Get(&n, `SELECT COUNT(*) FROM md WHERE segment = ? AND deleted = 1`, seg)
	return n, err
}

// Count counts the live rows of a segment ("" for all).
func (ix *Index) Count(seg string) (int, error) {
	var n int
	var err error
	if seg == "" {
		err = ix.db.Get(&n, `SELECT COUNT(*) FROM md WHERE deleted = 0`)
	} else {
		err = ix.db.Get(&n, `SELECT COUNT(*) FROM md WHERE segment = ? AND deleted = 0`, seg)
	}
	return n, err
}

// Interval returns the known reference time extent of the index.
func (ix *Index) Interval() (types.Interval, error) {
	var bounds struct {
		Min sql.NullString `db:"min"`
		Max sql.NullString `db:"max"`
	}
	err := ix.db.Get(&bounds, `SELECT MIN(reftime) AS min, MAX(reftime) AS max FROM md WHERE deleted = 0`)
	if err != nil {
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
	return types.Interval{Begin: begin, End: end.UpperBound(6)}, nil
}

// Summary aggregates the matching rows. Sources are attached so the
// byte totals are right.
func (ix *Index) Summary(m matcher.Matcher, seg string) (*summary.Summary, error) {
	s := summary.New()
	err := ix.Query(m, seg, func(row Row) (bool, error) {
		md := row.MD
		relpath := row.Segment
		if relpath == "" {
			relpath = seg
		}
		format := strings.TrimPrefix(filepath.Ext(relpath), ".")
		if format == "" {
			format = ix.cfg.Format
		}
		md.SetSource(types.SourceBlob{
			Fmt: format, Relpath: relpath,
			Offset: row.Offset, Size: row.Size,
		})
		s.Add(md)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Vacuum reclaims database space after large deletes.
func (ix *Index) Vacuum() error {
	_, err := ix.db.Exec(`VACUUM`)
	return err
}
