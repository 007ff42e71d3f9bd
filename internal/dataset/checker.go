// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset/scache"
	"github.com/ARPA-SIMC/arkimet/internal/index"
	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// CheckerTester simulates disk anomalies for the test suite. The
// operations refuse to run unless the dataset is flagged test.
type CheckerTester interface {
	TestTruncateData(relpath string, size int64) error
	TestCorruptData(relpath string, offset uint64) error
	TestSwapData(relpath string, i, j int) error
	TestRename(relpath, newRelpath string) error
	TestDeleteFromIndex(relpath string, pos int) error
}

// scanEndMarker wraps scan.EndMarker for the issue51 check: VM2's
// newline terminator is not a marker worth repairing.
func scanEndMarker(format string) ([]byte, bool) {
	if format == "vm2" {
		return nil, false
	}
	return scan.EndMarker(format)
}

/* iseg checker */

type isegChecker struct {
	*segmented
	session *Session
	cache   *scache.Cache
	lock    *segment.Lock
}

func newIsegChecker(s *Session, cfg *config.Dataset) (Checker, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	lock, err := seg.checkLock()
	if err != nil {
		return nil, err
	}
	return &isegChecker{segmented: seg, session: s, cache: scache.New(cfg.Path), lock: lock}, nil
}

func (c *isegChecker) Name() string            { return c.cfg.Name }
func (c *isegChecker) Config() *config.Dataset { return c.cfg }

func (c *isegChecker) Close() error {
	if c.lock != nil {
		return c.lock.Release()
	}
	return nil
}

// knownSegments joins the filesystem view with the index view.
func (c *isegChecker) knownSegments() ([]string, error) {
	seen := map[string]bool{}
	relpaths, err := c.segmentRelpaths()
	if err != nil {
		return nil, err
	}
	for _, relpath := range relpaths {
		seen[relpath] = true
	}
	// stray index files whose segment is gone
	err = filepath.WalkDir(c.root, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if de.IsDir() {
			if path != c.root && de.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".index" {
			return nil
		}
		relpath, rerr := filepath.Rel(c.root, path[:len(path)-len(".index")])
		if rerr == nil {
			seen[relpath] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for relpath := range seen {
		out = append(out, relpath)
	}
	sort.Strings(out)
	return out, nil
}

// segmentState maps one segment to exactly one state.
func (c *isegChecker) segmentState(relpath string, now time.Time) (segment.State, string) {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	dataOn := segment.Exists(abspath)
	ixOn := fileExists(isegIndexPath(abspath))

	switch {
	case dataOn && !ixOn:
		return segment.StateNew, "segment exists on disk but is not indexed"
	case !dataOn && ixOn:
		ix, err := index.Open(isegIndexPath(abspath), c.cfg)
		if err != nil {
			return segment.StateCorrupted, fmt.Sprintf("cannot open index: %v", err)
		}
		defer ix.Close()
		n, err := ix.Count("")
		if err != nil {
			return segment.StateCorrupted, fmt.Sprintf("cannot count index rows: %v", err)
		}
		if n > 0 {
			return segment.StateMissing, fmt.Sprintf("index references %d messages but the segment is gone", n)
		}
		return segment.StateDeleted, "only the index remembers this segment"
	case !dataOn && !ixOn:
		return segment.StateDeleted, "segment is gone"
	}

	ix, err := index.Open(isegIndexPath(abspath), c.cfg)
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot open index: %v", err)
	}
	defer ix.Close()
	rows, err := ix.SegmentRows("")
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot read index rows: %v", err)
	}
	deleted, err := ix.CountDeleted("")
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot count deleted rows: %v", err)
	}

	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot open segment: %v", err)
	}
	actual := chk.Size()

	var expected uint64
	var live uint64
	for _, row := range rows {
		if end := row.Offset + row.Size; end > expected {
			expected = end
		}
		live += row.Size
	}
	if segment.DetectLayout(abspath) == segment.LayoutDir {
		// sequence-numbered members have no byte arithmetic; trust
		// the member count
		expected = 0
	}

	switch {
	case expected > 0 && uint64(actual) < expected:
		return segment.StateUnaligned, fmt.Sprintf("segment is %d bytes but the index reaches %d", actual, expected)
	case expected > 0 && uint64(actual) > expected:
		return segment.StateDirty, fmt.Sprintf("segment has %d unindexed trailing bytes", uint64(actual)-expected)
	case deleted > 0:
		return segment.StateDirty, fmt.Sprintf("%d deleted messages await repack", deleted)
	case expected > 0 && live < expected:
		return segment.StateDirty, fmt.Sprintf("%d bytes of holes could be reclaimed", expected-live)
	}

	if state, aged := c.ageState(relpath, now); aged {
		return state, fmt.Sprintf("data ends before the configured age")
	}
	return segment.StateOK, ""
}

func (c *isegChecker) Check(fix bool, rep Reporter) error {
	relpaths, err := c.knownSegments()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, relpath := range relpaths {
		state, msg := c.segmentState(relpath, now)
		rep(relpath, state, msg)
		if !fix {
			continue
		}
		switch state {
		case segment.StateNew:
			if err := c.reindex(relpath); err != nil {
				log.Errorf("dataset %s: reindexing %s: %v", c.cfg.Name, relpath, err)
				rep(relpath, segment.StateCorrupted, fmt.Sprintf("reindex failed: %v", err))
				continue
			}
			rep(relpath, segment.StateOK, "reindexed")
		case segment.StateUnaligned:
			if err := c.truncateIndex(relpath); err != nil {
				return err
			}
			rep(relpath, segment.StateOK, "index truncated to the surviving messages")
		case segment.StateDeleted:
			os.Remove(isegIndexPath(c.abspath(relpath)))
			segment.RemoveSidecars(c.abspath(relpath))
		}
	}
	if fix {
		c.cache.InvalidateAll()
	}
	return nil
}

// reindex rebuilds a segment's index by scanning its raw bytes.
func (c *isegChecker) reindex(relpath string) error {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	lock, err := c.segmentLockExclusive(relpath)
	if err != nil {
		return err
	}
	defer lock.Release()

	os.Remove(isegIndexPath(abspath))
	ix, err := index.Open(isegIndexPath(abspath), c.cfg)
	if err != nil {
		return err
	}
	defer ix.Close()
	tx, err := ix.Begin()
	if err != nil {
		return err
	}
	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		tx.Rollback()
		return err
	}
	err = chk.ScanData(func(md *metadata.Metadata, span segment.Span) (bool, error) {
		usn := 0
		// always insert on reindex: what is in the segment is the
		// truth
		if err := tx.Insert("", span.Offset, span.Size, md, usn, config.ReplaceAlways); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// truncateIndex drops index rows that point past the end of a
// truncated segment.
func (c *isegChecker) truncateIndex(relpath string) error {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	lock, err := c.segmentLockExclusive(relpath)
	if err != nil {
		return err
	}
	defer lock.Release()

	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		return err
	}
	actual := uint64(chk.Size())

	ix, err := index.Open(isegIndexPath(abspath), c.cfg)
	if err != nil {
		return err
	}
	defer ix.Close()
	rows, err := ix.SegmentRows("")
	if err != nil {
		return err
	}
	tx, err := ix.Begin()
	if err != nil {
		return err
	}
	var keepEnd uint64
	for _, row := range rows {
		if row.Offset+row.Size > actual {
			if err := tx.DeleteRow(row.ID); err != nil {
				tx.Rollback()
				return err
			}
		} else if end := row.Offset + row.Size; end > keepEnd {
			keepEnd = end
		}
	}
	if err := tx.PurgeDeleted(""); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	// drop the partial message tail so data and index agree again
	if segment.DetectLayout(abspath) == segment.LayoutFile && keepEnd < actual {
		if err := os.Truncate(abspath, int64(keepEnd)); err != nil {
			return err
		}
	}
	c.session.InvalidateSegmentReader(abspath)
	return nil
}

func (c *isegChecker) Repack(fix bool, rep Reporter) (uint64, error) {
	relpaths, err := c.knownSegments()
	if err != nil {
		return 0, err
	}
	var freed uint64
	now := time.Now()
	for _, relpath := range relpaths {
		state, _ := c.segmentState(relpath, now)
		if state != segment.StateDirty {
			continue
		}
		n, err := c.repackSegment(relpath, fix)
		if err != nil {
			return freed, err
		}
		freed += n
		if fix {
			rep(relpath, segment.StateOK, fmt.Sprintf("repacked, %d bytes freed", n))
		} else {
			rep(relpath, segment.StateDirty, fmt.Sprintf("repack would free %d bytes", n))
		}
	}
	if fix && freed > 0 {
		c.cache.InvalidateAll()
	}
	return freed, nil
}

func (c *isegChecker) repackSegment(relpath string, fix bool) (uint64, error) {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)

	ix, err := index.Open(isegIndexPath(abspath), c.cfg)
	if err != nil {
		return 0, err
	}
	defer ix.Close()
	rows, err := ix.SegmentRows("")
	if err != nil {
		return 0, err
	}
	// repack restores reference time order
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Reftime != rows[j].Reftime {
			return rows[i].Reftime < rows[j].Reftime
		}
		return rows[i].Offset < rows[j].Offset
	})

	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		return 0, err
	}
	oldSize := uint64(chk.Size())
	var keep uint64
	for _, row := range rows {
		keep += row.Size
	}
	wouldFree := oldSize - keep
	if !fix {
		return wouldFree, nil
	}

	lock, err := c.segmentLockExclusive(relpath)
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	order := make([]segment.Span, len(rows))
	for i, row := range rows {
		order[i] = segment.Span{Offset: row.Offset, Size: row.Size}
	}
	newSize, relocated, err := chk.Repack(order)
	if err != nil {
		return 0, err
	}

	tx, err := ix.Begin()
	if err != nil {
		return 0, err
	}
	if err := tx.PurgeDeleted(""); err != nil {
		tx.Rollback()
		return 0, err
	}
	for i, row := range rows {
		if err := tx.UpdateOffset(row.ID, relocated[i].Offset); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	c.session.InvalidateSegmentReader(abspath)
	return oldSize - uint64(newSize), nil
}

func (c *isegChecker) RemoveOld(fix bool, rep Reporter) (uint64, error) {
	relpaths, err := c.knownSegments()
	if err != nil {
		return 0, err
	}
	var freed uint64
	now := time.Now()
	for _, relpath := range relpaths {
		state, _ := c.segmentState(relpath, now)
		if state != segment.StateDeleteAge {
			continue
		}
		if !fix {
			rep(relpath, segment.StateDeleteAge, "would be deleted")
			continue
		}
		abspath := c.abspath(relpath)
		_, format, _ := splitRelpath(relpath)
		lock, err := c.segmentLockExclusive(relpath)
		if err != nil {
			return freed, err
		}
		chk, err := segment.OpenChecker(format, abspath)
		if err != nil {
			lock.Release()
			return freed, err
		}
		n, err := chk.Remove(true)
		if err != nil {
			lock.Release()
			return freed, err
		}
		os.Remove(isegIndexPath(abspath))
		lock.Release()
		c.session.InvalidateSegmentReader(abspath)
		freed += n
		rep(relpath, segment.StateDeleted, fmt.Sprintf("deleted, %d bytes freed", n))
	}
	if fix && freed > 0 {
		c.cache.InvalidateAll()
	}
	return freed, nil
}

// Archive moves segments past the archive age under .archive/last/,
// with sidecars generated from the index so they stay queryable.
func (c *isegChecker) Archive(rep Reporter) error {
	relpaths, err := c.knownSegments()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, relpath := range relpaths {
		state, _ := c.segmentState(relpath, now)
		if state != segment.StateArchiveAge {
			continue
		}
		if err := c.archiveSegment(relpath); err != nil {
			return err
		}
		rep(relpath, segment.StateOK, "moved to the archive")
	}
	return nil
}

func (c *isegChecker) archiveSegment(relpath string) error {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	lock, err := c.segmentLockExclusive(relpath)
	if err != nil {
		return err
	}
	defer lock.Release()

	ix, err := index.Open(isegIndexPath(abspath), c.cfg)
	if err != nil {
		return err
	}
	rows, err := ix.SegmentRows("")
	if err != nil {
		ix.Close()
		return err
	}
	ix.Close()

	// sidecars carry sources relative to the archived segment's
	// directory
	var mds []*metadata.Metadata
	sum := summary.New()
	for _, row := range rows {
		md := row.MD
		md.SetSource(types.SourceBlob{
			Fmt: format, Relpath: filepath.Base(relpath),
			Offset: row.Offset, Size: row.Size,
		})
		mds = append(mds, md)
		sum.Add(md)
	}
	if err := segment.WriteMetadataSidecar(abspath, mds); err != nil {
		return err
	}
	if err := segment.WriteSummarySidecar(abspath, sum); err != nil {
		return err
	}

	dst := filepath.Join(c.root, ArchiveDir, "last", relpath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return err
	}
	if err := os.Rename(abspath, dst); err != nil {
		return err
	}
	os.Rename(segment.MetadataPath(abspath), segment.MetadataPath(dst))
	os.Rename(segment.SummaryPath(abspath), segment.SummaryPath(dst))
	os.Remove(isegIndexPath(abspath))
	c.session.InvalidateSegmentReader(abspath)
	c.cache.InvalidateAll()
	return nil
}

// CheckIssue51 verifies the end-of-message marker of every indexed
// message; historically the last byte of GRIB/BUFR messages was lost
// by a truncating writer.
func (c *isegChecker) CheckIssue51(fix bool, rep Reporter) error {
	relpaths, err := c.knownSegments()
	if err != nil {
		return err
	}
	for _, relpath := range relpaths {
		_, format, _ := splitRelpath(relpath)
		marker, ok := scan.EndMarker(format)
		if !ok || format == "vm2" {
			continue
		}
		abspath := c.abspath(relpath)
		if segment.DetectLayout(abspath) != segment.LayoutFile {
			continue
		}
		if !fileExists(isegIndexPath(abspath)) {
			continue
		}
		ix, err := index.Open(isegIndexPath(abspath), c.cfg)
		if err != nil {
			return err
		}
		rows, err := ix.SegmentRows("")
		ix.Close()
		if err != nil {
			return err
		}
		if err := fixTailMarkers(abspath, relpath, rows, marker, fix, rep); err != nil {
			return err
		}
	}
	return nil
}

func fixTailMarkers(abspath, relpath string, rows []index.Row, marker []byte, fix bool, rep Reporter) error {
	flags := os.O_RDONLY
	if fix {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(abspath, flags, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, row := range rows {
		tail := make([]byte, len(marker))
		at := int64(row.Offset+row.Size) - int64(len(marker))
		if at < 0 {
			continue
		}
		if _, err := f.ReadAt(tail, at); err != nil {
			return err
		}
		if string(tail) == string(marker) {
			continue
		}
		if !fix {
			rep(relpath, segment.StateCorrupted, fmt.Sprintf("message at %d misses its end marker", row.Offset))
			continue
		}
		if _, err := f.WriteAt(marker, at); err != nil {
			return err
		}
		rep(relpath, segment.StateOK, fmt.Sprintf("restored the end marker of message at %d", row.Offset))
	}
	return nil
}

/* test operations */

func (c *isegChecker) requireTest() error {
	if !c.cfg.Test {
		return fmt.Errorf("dataset %s is not flagged for tests; refusing the destructive operation", c.cfg.Name)
	}
	return nil
}

func (c *isegChecker) TestTruncateData(relpath string, size int64) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	return os.Truncate(c.abspath(relpath), size)
}

func (c *isegChecker) TestCorruptData(relpath string, offset uint64) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	f, err := os.OpenFile(c.abspath(relpath), os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt([]byte{0}, int64(offset))
	return err
}

func (c *isegChecker) TestSwapData(relpath string, i, j int) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	abspath := c.abspath(relpath)
	ix, err := index.Open(isegIndexPath(abspath), c.cfg)
	if err != nil {
		return err
	}
	rows, err := ix.SegmentRows("")
	ix.Close()
	if err != nil {
		return err
	}
	if i < 0 || j < 0 || i >= len(rows) || j >= len(rows) {
		return fmt.Errorf("segment %s has %d messages", relpath, len(rows))
	}
	// rewrite the data with two messages swapped, leaving the index
	// stale on purpose
	_, format, _ := splitRelpath(relpath)
	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		return err
	}
	order := make([]segment.Span, len(rows))
	for k, row := range rows {
		order[k] = segment.Span{Offset: row.Offset, Size: row.Size}
	}
	order[i], order[j] = order[j], order[i]
	_, _, err = chk.Repack(order)
	return err
}

func (c *isegChecker) TestRename(relpath, newRelpath string) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.abspath(newRelpath)), 0o777); err != nil {
		return err
	}
	if err := os.Rename(c.abspath(relpath), c.abspath(newRelpath)); err != nil {
		return err
	}
	os.Rename(isegIndexPath(c.abspath(relpath)), isegIndexPath(c.abspath(newRelpath)))
	return nil
}

func (c *isegChecker) TestDeleteFromIndex(relpath string, pos int) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	ix, err := index.Open(isegIndexPath(c.abspath(relpath)), c.cfg)
	if err != nil {
		return err
	}
	defer ix.Close()
	rows, err := ix.SegmentRows("")
	if err != nil {
		return err
	}
	if pos < 0 || pos >= len(rows) {
		return fmt.Errorf("segment %s has %d messages", relpath, len(rows))
	}
	tx, err := ix.Begin()
	if err != nil {
		return err
	}
	if err := tx.MarkDeleted(rows[pos].ID); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.cache.InvalidateAll()
	return nil
}
