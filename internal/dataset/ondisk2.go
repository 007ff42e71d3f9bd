// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"errors"
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
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// The ondisk2 layout keeps one dataset-global relational index; the
// unique constraint spans the whole dataset instead of one segment.

func ondisk2IndexPath(root string) string {
	return filepath.Join(root, "index.sqlite")
}

/* reader */

type ondisk2Reader struct {
	*segmented
	session *Session
	cache   *scache.Cache
}

func newOndisk2Reader(s *Session, cfg *config.Dataset) (Reader, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	return &ondisk2Reader{segmented: seg, session: s, cache: scache.New(cfg.Path)}, nil
}

func (d *ondisk2Reader) Name() string            { return d.cfg.Name }
func (d *ondisk2Reader) Config() *config.Dataset { return d.cfg }
func (d *ondisk2Reader) Close() error            { return nil }

func (d *ondisk2Reader) QueryData(q Query, f metadata.ReadFunc) error {
	out := f
	var so *sorter
	if q.Sort != nil {
		so = newSorter(q.Sort, f)
		out = so.Add
	}

	ixPath := ondisk2IndexPath(d.root)
	if !fileExists(ixPath) {
		if so != nil {
			return so.Flush()
		}
		return nil
	}
	ix, err := index.Open(ixPath, d.cfg)
	if err != nil {
		return err
	}
	defer ix.Close()

	iv := q.Matcher.Interval()
	if known, err := ix.Interval(); err == nil && !known.Begin.IsZero() {
		if _, ok := iv.Intersect(known); !ok {
			if so != nil {
				return so.Flush()
			}
			return nil
		}
	}

	segments, err := ix.Segments()
	if err != nil {
		return err
	}

	count := 0
	var bytes uint64
	stopped := false
	for _, relpath := range segments {
		if stopped {
			break
		}
		if q.Progress != nil && !q.Progress(count, bytes) {
			break
		}
		if span, ok := d.relpathInterval(relpath); ok && !iv.Intersects(span) {
			continue
		}
		var lock *segment.Lock
		if q.WithData {
			if lock, err = d.segmentLockShared(relpath); err != nil {
				return err
			}
		}
		_, format, _ := splitRelpath(relpath)
		err = ix.Query(q.Matcher, relpath, func(row index.Row) (bool, error) {
			md := row.MD
			md.SetSource(types.SourceBlob{
				Fmt: format, Basedir: d.root, Relpath: relpath,
				Offset: row.Offset, Size: row.Size,
			})
			if q.WithData {
				if err := inlineFromSession(d.session, format, d.abspath(relpath), md); err != nil {
					return false, err
				}
			}
			count++
			bytes += row.Size
			goOn, err := out(md)
			if err != nil || !goOn {
				stopped = true
			}
			return goOn, err
		})
		lock.Release()
		if err != nil {
			return err
		}
	}
	if so != nil {
		return so.Flush()
	}
	return nil
}

func inlineFromSession(s *Session, format, abspath string, md *metadata.Metadata) error {
	r, release, err := s.SegmentReader(format, abspath)
	if err != nil {
		return err
	}
	defer release()
	return md.MakeInline(func(blob types.SourceBlob) ([]byte, error) {
		return r.Read(blob.Offset, blob.Size)
	})
}

func (d *ondisk2Reader) QuerySummary(m matcher.Matcher) (*summary.Summary, error) {
	if m.HasClause(types.CodeReftime) {
		return d.summarizeRecords(m)
	}
	ixPath := ondisk2IndexPath(d.root)
	if !fileExists(ixPath) {
		return summary.New(), nil
	}
	ix, err := index.Open(ixPath, d.cfg)
	if err != nil {
		return nil, err
	}
	extent, err := ix.Interval()
	ix.Close()
	if err != nil {
		return nil, err
	}
	total := summary.New()
	for _, month := range scache.Months(extent) {
		s, ok := d.cache.ReadMonth(month[0], month[1])
		if !ok {
			mm := monthMatcher(scache.MonthInterval(month[0], month[1]))
			if s, err = d.summarizeRecords(mm); err != nil {
				return nil, err
			}
			if err := d.cache.WriteMonth(month[0], month[1], s); err != nil {
				log.Warnf("dataset %s: cannot cache summary for %04d-%02d: %v", d.cfg.Name, month[0], month[1], err)
			}
		}
		total.AddSummary(s)
	}
	return total.Filter(m), nil
}

func (d *ondisk2Reader) summarizeRecords(m matcher.Matcher) (*summary.Summary, error) {
	ixPath := ondisk2IndexPath(d.root)
	if !fileExists(ixPath) {
		return summary.New(), nil
	}
	ix, err := index.Open(ixPath, d.cfg)
	if err != nil {
		return nil, err
	}
	defer ix.Close()
	return ix.Summary(m, "")
}

/* writer */

type ondisk2Writer struct {
	*segmented
	session *Session
	cache   *scache.Cache
	lock    *segment.Lock
	ix      *index.Index
	tx      *index.Tx
	open    map[string]*ondisk2OpenSegment
	touched types.Interval
	closed  bool
}

type ondisk2OpenSegment struct {
	relpath string
	format  string
	w       segment.Writer
	lock    *segment.Lock
}

func newOndisk2Writer(s *Session, cfg *config.Dataset) (Writer, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, 0o777); err != nil {
		return nil, err
	}
	lock, err := seg.appendLock()
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(ondisk2IndexPath(cfg.Path), cfg)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return &ondisk2Writer{
		segmented: seg,
		session:   s,
		cache:     scache.New(cfg.Path),
		lock:      lock,
		ix:        ix,
		open:      make(map[string]*ondisk2OpenSegment),
	}, nil
}

func (d *ondisk2Writer) Name() string            { return d.cfg.Name }
func (d *ondisk2Writer) Config() *config.Dataset { return d.cfg }

func (d *ondisk2Writer) openSegment(relpath, format string) (*ondisk2OpenSegment, error) {
	if os, ok := d.open[relpath]; ok {
		return os, nil
	}
	lock, err := d.segmentLockExclusive(relpath)
	if err != nil {
		return nil, err
	}
	w, err := segment.OpenWriter(format, d.abspath(relpath), segment.WriterOptions{
		Eatmydata:              d.cfg.Eatmydata,
		DropCachedDataOnCommit: true,
	})
	if err != nil {
		lock.Release()
		return nil, err
	}
	os := &ondisk2OpenSegment{relpath: relpath, format: format, w: w, lock: lock}
	d.open[relpath] = os
	return os, nil
}

func (d *ondisk2Writer) Acquire(in *Inbound, replace config.ReplaceStrategy) (AcquireResult, error) {
	md := in.MD
	rt, ok := md.ReftimePosition()
	if !ok {
		return AcquireError, fmt.Errorf("dataset %s: record has no reference time", d.cfg.Name)
	}
	format := md.Format()
	if format == "" {
		format = d.cfg.Format
	}
	if format == "" {
		return AcquireError, fmt.Errorf("dataset %s: record carries no format", d.cfg.Name)
	}

	relpath := d.relpathFor(rt, format)
	seg, err := d.openSegment(relpath, format)
	if err != nil {
		return AcquireError, err
	}
	if d.tx == nil {
		if d.tx, err = d.ix.Begin(); err != nil {
			return AcquireError, err
		}
	}

	usn, _ := scan.UpdateSequenceNumber(format, in.Data)
	offset := seg.w.Tell()
	if err := d.tx.Insert(relpath, offset, uint64(len(in.Data)), md, usn, replace); err != nil {
		if errors.Is(err, index.ErrDuplicate) {
			return AcquireDuplicate, nil
		}
		return AcquireError, err
	}
	if _, err := seg.w.Append(in.Data); err != nil {
		log.Errorf("dataset %s: append to %s failed, rolling back: %v", d.cfg.Name, relpath, err)
		d.tx.Rollback()
		d.tx = nil
		return AcquireError, err
	}

	md.SetSource(types.SourceBlob{
		Fmt: format, Basedir: d.root, Relpath: relpath,
		Offset: offset, Size: uint64(len(in.Data)),
	})
	md.Set(types.AssignedDataset{
		Changed: types.Now(), Name: d.cfg.Name,
		ID: fmt.Sprintf("%s:%d", relpath, offset),
	})
	d.touched.Extend(rt)
	return AcquireOK, nil
}

func (d *ondisk2Writer) AcquireBatch(batch []*Inbound, replace config.ReplaceStrategy) ([]AcquireResult, error) {
	results := make([]AcquireResult, len(batch))
	var firstErr error
	for i, in := range batch {
		res, err := d.Acquire(in, replace)
		results[i] = res
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

func (d *ondisk2Writer) Flush() error {
	var firstErr error
	committed := true
	for _, seg := range d.open {
		if err := seg.w.Commit(); err != nil {
			log.Errorf("dataset %s: commit of segment %s failed: %v", d.cfg.Name, seg.relpath, err)
			committed = false
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if d.tx != nil {
		if committed {
			if err := d.tx.Commit(); err != nil && firstErr == nil {
				firstErr = err
			}
		} else {
			d.tx.Rollback()
			for _, seg := range d.open {
				seg.w.Rollback()
			}
		}
		d.tx = nil
	}
	for _, seg := range d.open {
		seg.w.Close()
		seg.lock.Release()
		d.session.InvalidateSegmentReader(d.abspath(seg.relpath))
	}
	d.open = make(map[string]*ondisk2OpenSegment)
	if !d.touched.Begin.IsZero() {
		d.cache.Invalidate(d.touched)
		d.touched = types.Interval{}
	}
	return firstErr
}

func (d *ondisk2Writer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.Flush()
	d.ix.Close()
	if d.lock != nil {
		d.lock.Release()
	}
	return err
}

/* checker */

type ondisk2Checker struct {
	*segmented
	session *Session
	cache   *scache.Cache
	lock    *segment.Lock
	ix      *index.Index
}

func newOndisk2Checker(s *Session, cfg *config.Dataset) (Checker, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	lock, err := seg.checkLock()
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(ondisk2IndexPath(cfg.Path), cfg)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return &ondisk2Checker{segmented: seg, session: s, cache: scache.New(cfg.Path), lock: lock, ix: ix}, nil
}

func (c *ondisk2Checker) Name() string            { return c.cfg.Name }
func (c *ondisk2Checker) Config() *config.Dataset { return c.cfg }

func (c *ondisk2Checker) Close() error {
	c.ix.Close()
	if c.lock != nil {
		return c.lock.Release()
	}
	return nil
}

func (c *ondisk2Checker) knownSegments() ([]string, error) {
	seen := map[string]bool{}
	relpaths, err := c.segmentRelpaths()
	if err != nil {
		return nil, err
	}
	for _, relpath := range relpaths {
		seen[relpath] = true
	}
	indexed, err := c.ix.Segments()
	if err != nil {
		return nil, err
	}
	for _, relpath := range indexed {
		seen[relpath] = true
	}
	out := make([]string, 0, len(seen))
	for relpath := range seen {
		out = append(out, relpath)
	}
	sort.Strings(out)
	return out, nil
}

func (c *ondisk2Checker) segmentState(relpath string, now time.Time) (segment.State, string) {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	dataOn := segment.Exists(abspath)
	rows, err := c.ix.SegmentRows(relpath)
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot read index rows: %v", err)
	}
	deleted, err := c.ix.CountDeleted(relpath)
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot count deleted rows: %v", err)
	}
	indexed := len(rows) > 0 || deleted > 0

	switch {
	case dataOn && !indexed:
		return segment.StateNew, "segment exists on disk but is not indexed"
	case !dataOn && indexed:
		if len(rows) > 0 {
			return segment.StateMissing, fmt.Sprintf("index references %d messages but the segment is gone", len(rows))
		}
		return segment.StateDeleted, "only the index remembers this segment"
	case !dataOn && !indexed:
		return segment.StateDeleted, "segment is gone"
	}

	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		return segment.StateCorrupted, fmt.Sprintf("cannot open segment: %v", err)
	}
	actual := chk.Size()
	var expected, live uint64
	for _, row := range rows {
		if end := row.Offset + row.Size; end > expected {
			expected = end
		}
		live += row.Size
	}
	if segment.DetectLayout(abspath) == segment.LayoutDir {
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
		return state, "data ends before the configured age"
	}
	return segment.StateOK, ""
}

func (c *ondisk2Checker) Check(fix bool, rep Reporter) error {
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
			tx, err := c.ix.Begin()
			if err != nil {
				return err
			}
			if err := tx.RemoveSegment(relpath); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
		}
	}
	if fix {
		c.cache.InvalidateAll()
	}
	return nil
}

func (c *ondisk2Checker) reindex(relpath string) error {
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
	tx, err := c.ix.Begin()
	if err != nil {
		return err
	}
	if err := tx.RemoveSegment(relpath); err != nil {
		tx.Rollback()
		return err
	}
	err = chk.ScanData(func(md *metadata.Metadata, span segment.Span) (bool, error) {
		if err := tx.Insert(relpath, span.Offset, span.Size, md, 0, config.ReplaceAlways); err != nil {
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

func (c *ondisk2Checker) truncateIndex(relpath string) error {
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
	rows, err := c.ix.SegmentRows(relpath)
	if err != nil {
		return err
	}
	tx, err := c.ix.Begin()
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
	if err := tx.PurgeDeleted(relpath); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if segment.DetectLayout(abspath) == segment.LayoutFile && keepEnd < actual {
		if err := os.Truncate(abspath, int64(keepEnd)); err != nil {
			return err
		}
	}
	c.session.InvalidateSegmentReader(abspath)
	return nil
}

func (c *ondisk2Checker) Repack(fix bool, rep Reporter) (uint64, error) {
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

func (c *ondisk2Checker) repackSegment(relpath string, fix bool) (uint64, error) {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	rows, err := c.ix.SegmentRows(relpath)
	if err != nil {
		return 0, err
	}
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
	if !fix {
		return oldSize - keep, nil
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
	tx, err := c.ix.Begin()
	if err != nil {
		return 0, err
	}
	if err := tx.PurgeDeleted(relpath); err != nil {
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

func (c *ondisk2Checker) RemoveOld(fix bool, rep Reporter) (uint64, error) {
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
		tx, err := c.ix.Begin()
		if err != nil {
			lock.Release()
			return freed, err
		}
		if err := tx.RemoveSegment(relpath); err != nil {
			tx.Rollback()
			lock.Release()
			return freed, err
		}
		if err := tx.Commit(); err != nil {
			lock.Release()
			return freed, err
		}
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

func (c *ondisk2Checker) Archive(rep Reporter) error {
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

func (c *ondisk2Checker) archiveSegment(relpath string) error {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	lock, err := c.segmentLockExclusive(relpath)
	if err != nil {
		return err
	}
	defer lock.Release()

	rows, err := c.ix.SegmentRows(relpath)
	if err != nil {
		return err
	}
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

	tx, err := c.ix.Begin()
	if err != nil {
		return err
	}
	if err := tx.RemoveSegment(relpath); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.session.InvalidateSegmentReader(abspath)
	c.cache.InvalidateAll()
	return nil
}

func (c *ondisk2Checker) CheckIssue51(fix bool, rep Reporter) error {
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
		rows, err := c.ix.SegmentRows(relpath)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if err := fixTailMarkers(abspath, relpath, rows, marker, fix, rep); err != nil {
			return err
		}
	}
	return nil
}

/* test operations */

func (c *ondisk2Checker) requireTest() error {
	if !c.cfg.Test {
		return fmt.Errorf("dataset %s is not flagged for tests; refusing the destructive operation", c.cfg.Name)
	}
	return nil
}

func (c *ondisk2Checker) TestTruncateData(relpath string, size int64) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	return os.Truncate(c.abspath(relpath), size)
}

func (c *ondisk2Checker) TestCorruptData(relpath string, offset uint64) error {
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

func (c *ondisk2Checker) TestSwapData(relpath string, i, j int) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	rows, err := c.ix.SegmentRows(relpath)
	if err != nil {
		return err
	}
	if i < 0 || j < 0 || i >= len(rows) || j >= len(rows) {
		return fmt.Errorf("segment %s has %d messages", relpath, len(rows))
	}
	_, format, _ := splitRelpath(relpath)
	chk, err := segment.OpenChecker(format, c.abspath(relpath))
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

func (c *ondisk2Checker) TestRename(relpath, newRelpath string) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.abspath(newRelpath)), 0o777); err != nil {
		return err
	}
	return os.Rename(c.abspath(relpath), c.abspath(newRelpath))
}

func (c *ondisk2Checker) TestDeleteFromIndex(relpath string, pos int) error {
	if err := c.requireTest(); err != nil {
		return err
	}
	rows, err := c.ix.SegmentRows(relpath)
	if err != nil {
		return err
	}
	if pos < 0 || pos >= len(rows) {
		return fmt.Errorf("segment %s has %d messages", relpath, len(rows))
	}
	tx, err := c.ix.Begin()
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
