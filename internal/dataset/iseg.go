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
	"strings"

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

// The iseg layout keeps one small index file alongside each segment;
// dataset-level queries fan out over the segments selected by the
// step scheme and union the results.

func isegIndexPath(abspath string) string {
	return abspath + ".index"
}

/* reader */

type isegReader struct {
	*segmented
	session *Session
	cache   *scache.Cache
}

func newIsegReader(s *Session, cfg *config.Dataset) (Reader, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	return &isegReader{segmented: seg, session: s, cache: scache.New(cfg.Path)}, nil
}

func (d *isegReader) Name() string            { return d.cfg.Name }
func (d *isegReader) Config() *config.Dataset { return d.cfg }
func (d *isegReader) Close() error            { return nil }

func (d *isegReader) QueryData(q Query, f metadata.ReadFunc) error {
	out := f
	var so *sorter
	if q.Sort != nil {
		so = newSorter(q.Sort, f)
		out = so.Add
	}

	iv := q.Matcher.Interval()
	relpaths, err := d.candidateSegments(iv)
	if err != nil {
		return err
	}
	archived, err := d.archiveRelpaths()
	if err != nil {
		return err
	}

	count := 0
	var bytes uint64
	stopped := false
	emit := func(md *metadata.Metadata, size uint64) (bool, error) {
		count++
		bytes += size
		goOn, err := out(md)
		if err != nil || !goOn {
			stopped = true
		}
		return goOn, err
	}

	// archive tiers first: they hold the oldest data
	for _, relpath := range archived {
		if stopped {
			break
		}
		if q.Progress != nil && !q.Progress(count, bytes) {
			break
		}
		span, ok := d.relpathInterval(archiveStem(relpath))
		if ok && !iv.Intersects(span) {
			continue
		}
		abspath := filepath.Join(d.root, ArchiveDir, relpath)
		if err := d.querySidecar(q, abspath, emit); err != nil {
			return err
		}
	}

	for _, relpath := range relpaths {
		if stopped {
			break
		}
		if q.Progress != nil && !q.Progress(count, bytes) {
			break
		}
		if err := d.querySegment(q, relpath, emit); err != nil {
			return err
		}
	}

	if so != nil {
		return so.Flush()
	}
	return nil
}

// archiveStem strips the tier component of an archive relpath.
func archiveStem(relpath string) string {
	if idx := strings.IndexByte(relpath, '/'); idx >= 0 {
		return relpath[idx+1:]
	}
	return relpath
}

func (d *isegReader) querySegment(q Query, relpath string, emit func(*metadata.Metadata, uint64) (bool, error)) error {
	abspath := d.abspath(relpath)
	ixPath := isegIndexPath(abspath)
	if !fileExists(ixPath) {
		// data with no index is invisible until a check reindexes it
		return nil
	}
	_, format, _ := splitRelpath(relpath)

	var lock *segment.Lock
	if q.WithData {
		var err error
		if lock, err = d.segmentLockShared(relpath); err != nil {
			return err
		}
		defer lock.Release()
	}

	ix, err := index.Open(ixPath, d.cfg)
	if err != nil {
		return err
	}
	defer ix.Close()

	return ix.Query(q.Matcher, "", func(row index.Row) (bool, error) {
		md := row.MD
		md.SetSource(types.SourceBlob{
			Fmt: format, Basedir: d.root, Relpath: relpath,
			Offset: row.Offset, Size: row.Size,
		})
		if q.WithData {
			if err := d.inlineData(format, abspath, md); err != nil {
				return false, err
			}
		}
		return emit(md, row.Size)
	})
}

// querySidecar serves archived segments, which have no index: the
// metadata sidecar is authoritative.
func (d *isegReader) querySidecar(q Query, abspath string, emit func(*metadata.Metadata, uint64) (bool, error)) error {
	mds, err := segment.ReadMetadataSidecar(abspath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	basedir := filepath.Dir(abspath)
	for _, md := range mds {
		if !q.Matcher.Match(md) {
			continue
		}
		md.MakeAbsolute(basedir)
		if q.WithData {
			blob, ok := md.Source().(types.SourceBlob)
			if ok {
				if err := d.inlineData(blob.Fmt, filepath.Join(basedir, blob.Relpath), md); err != nil {
					return err
				}
			}
		}
		goOn, err := emit(md, md.DataSize())
		if err != nil || !goOn {
			return err
		}
	}
	return nil
}

func (d *isegReader) inlineData(format, abspath string, md *metadata.Metadata) error {
	r, release, err := d.session.SegmentReader(format, abspath)
	if err != nil {
		return err
	}
	defer release()
	return md.MakeInline(func(blob types.SourceBlob) ([]byte, error) {
		return r.Read(blob.Offset, blob.Size)
	})
}

func (d *isegReader) QuerySummary(m matcher.Matcher) (*summary.Summary, error) {
	if m.HasClause(types.CodeReftime) {
		// reftime-constrained summaries are computed per record so
		// that partial days and hours come out exact
		return d.summarizeRecords(m)
	}

	// otherwise serve from the month cache, rebuilding only the
	// months a writer touched
	extent, err := d.extent()
	if err != nil {
		return nil, err
	}
	total := summary.New()
	for _, month := range scache.Months(extent) {
		s, ok := d.cache.ReadMonth(month[0], month[1])
		if !ok {
			monthIv := scache.MonthInterval(month[0], month[1])
			mm := monthMatcher(monthIv)
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

func monthMatcher(iv types.Interval) matcher.Matcher {
	expr := fmt.Sprintf("reftime:>=%s,<%s", iv.Begin, iv.End)
	m, err := matcher.Parse(expr, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// summarizeRecords aggregates straight from the indices and archive
// sidecars.
func (d *isegReader) summarizeRecords(m matcher.Matcher) (*summary.Summary, error) {
	total := summary.New()
	iv := m.Interval()

	relpaths, err := d.candidateSegments(iv)
	if err != nil {
		return nil, err
	}
	for _, relpath := range relpaths {
		ixPath := isegIndexPath(d.abspath(relpath))
		if !fileExists(ixPath) {
			continue
		}
		ix, err := index.Open(ixPath, d.cfg)
		if err != nil {
			return nil, err
		}
		// per-segment indices leave the segment column empty
		s, err := ix.Summary(m, "")
		ix.Close()
		if err != nil {
			return nil, err
		}
		total.AddSummary(s)
	}

	archived, err := d.archiveRelpaths()
	if err != nil {
		return nil, err
	}
	for _, relpath := range archived {
		span, ok := d.relpathInterval(archiveStem(relpath))
		if ok && !iv.Intersects(span) {
			continue
		}
		abspath := filepath.Join(d.root, ArchiveDir, relpath)
		mds, err := segment.ReadMetadataSidecar(abspath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, md := range mds {
			if m.Match(md) {
				total.Add(md)
			}
		}
	}
	return total, nil
}

// extent unions the time spans of every segment.
func (d *isegReader) extent() (types.Interval, error) {
	var iv types.Interval
	relpaths, err := d.segmentRelpaths()
	if err != nil {
		return iv, err
	}
	for _, relpath := range relpaths {
		if span, ok := d.relpathInterval(relpath); ok {
			iv.ExtendInterval(span)
		}
	}
	archived, err := d.archiveRelpaths()
	if err != nil {
		return iv, err
	}
	for _, relpath := range archived {
		if span, ok := d.relpathInterval(archiveStem(relpath)); ok {
			iv.ExtendInterval(span)
		}
	}
	return iv, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

/* writer */

type isegWriter struct {
	*segmented
	session *Session
	cache   *scache.Cache
	lock    *segment.Lock
	open    map[string]*isegOpenSegment
	touched types.Interval
	closed  bool
}

type isegOpenSegment struct {
	relpath string
	format  string
	w       segment.Writer
	ix      *index.Index
	tx      *index.Tx
	lock    *segment.Lock
}

func newIsegWriter(s *Session, cfg *config.Dataset) (Writer, error) {
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
	return &isegWriter{
		segmented: seg,
		session:   s,
		cache:     scache.New(cfg.Path),
		lock:      lock,
		open:      make(map[string]*isegOpenSegment),
	}, nil
}

func (d *isegWriter) Name() string            { return d.cfg.Name }
func (d *isegWriter) Config() *config.Dataset { return d.cfg }

func (d *isegWriter) openSegment(relpath, format string) (*isegOpenSegment, error) {
	if os, ok := d.open[relpath]; ok {
		return os, nil
	}
	abspath := d.abspath(relpath)
	lock, err := d.segmentLockExclusive(relpath)
	if err != nil {
		return nil, err
	}
	w, err := segment.OpenWriter(format, abspath, segment.WriterOptions{
		Eatmydata:              d.cfg.Eatmydata,
		DropCachedDataOnCommit: true,
	})
	if err != nil {
		lock.Release()
		return nil, err
	}
	ix, err := index.Open(isegIndexPath(abspath), d.cfg)
	if err != nil {
		w.Close()
		lock.Release()
		return nil, err
	}
	tx, err := ix.Begin()
	if err != nil {
		ix.Close()
		w.Close()
		lock.Release()
		return nil, err
	}
	os := &isegOpenSegment{relpath: relpath, format: format, w: w, ix: ix, tx: tx, lock: lock}
	d.open[relpath] = os
	return os, nil
}

func (d *isegWriter) Acquire(in *Inbound, replace config.ReplaceStrategy) (AcquireResult, error) {
	md := in.MD
	rt, ok := md.ReftimePosition()
	if !ok {
		return AcquireError, fmt.Errorf("dataset %s: record has no reference time", d.cfg.Name)
	}
	format := d.cfg.Format
	if f := md.Format(); f != "" {
		format = f
	}
	if format != d.cfg.Format {
		return AcquireError, fmt.Errorf("dataset %s: format %q does not belong here", d.cfg.Name, format)
	}

	relpath := d.relpathFor(rt, format)
	seg, err := d.openSegment(relpath, format)
	if err != nil {
		return AcquireError, err
	}

	usn, _ := scan.UpdateSequenceNumber(format, in.Data)
	offset := seg.w.Tell()
	if err := seg.tx.Insert("", offset, uint64(len(in.Data)), md, usn, replace); err != nil {
		if errors.Is(err, index.ErrDuplicate) {
			return AcquireDuplicate, nil
		}
		return AcquireError, err
	}
	if _, err := seg.w.Append(in.Data); err != nil {
		// the index insert cannot stand without its bytes: drop the
		// whole segment transaction
		log.Errorf("dataset %s: append to %s failed, rolling back the segment transaction: %v", d.cfg.Name, relpath, err)
		d.dropSegment(seg)
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

func (d *isegWriter) dropSegment(seg *isegOpenSegment) {
	seg.tx.Rollback()
	seg.w.Close()
	seg.ix.Close()
	seg.lock.Release()
	delete(d.open, seg.relpath)
}

func (d *isegWriter) AcquireBatch(batch []*Inbound, replace config.ReplaceStrategy) ([]AcquireResult, error) {
	// records are grouped by target segment through the open-segment
	// map, so one pass is already amortized
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

// Flush commits all open segments: data first, fsync, then the index.
func (d *isegWriter) Flush() error {
	var firstErr error
	for _, seg := range d.open {
		if err := seg.w.Commit(); err != nil {
			log.Errorf("dataset %s: commit of segment %s failed: %v", d.cfg.Name, seg.relpath, err)
			seg.tx.Rollback()
			seg.w.Rollback()
			if firstErr == nil {
				firstErr = err
			}
		} else if err := seg.tx.Commit(); err != nil {
			log.Errorf("dataset %s: index commit of segment %s failed: %v", d.cfg.Name, seg.relpath, err)
			seg.w.Rollback()
			if firstErr == nil {
				firstErr = err
			}
		}
		seg.w.Close()
		seg.ix.Close()
		seg.lock.Release()
		d.session.InvalidateSegmentReader(d.abspath(seg.relpath))
	}
	d.open = make(map[string]*isegOpenSegment)

	if !d.touched.Begin.IsZero() {
		d.cache.Invalidate(d.touched)
		d.touched = types.Interval{}
	}
	return firstErr
}

func (d *isegWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.Flush()
	if d.lock != nil {
		d.lock.Release()
	}
	return err
}
