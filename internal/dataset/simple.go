// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset/scache"
	"github.com/ARPA-SIMC/arkimet/internal/index"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/internal/util"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// The simple layout keeps no per-message index: a MANIFEST lists the
// segments and their time spans, and each segment's metadata sidecar
// is authoritative. Queries prune through the MANIFEST and scan
// sidecars.

func manifestPath(root string) string {
	return filepath.Join(root, "MANIFEST")
}

/* reader */

type simpleReader struct {
	*segmented
	session *Session
	cache   *scache.Cache
}

func newSimpleReader(s *Session, cfg *config.Dataset) (Reader, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	return &simpleReader{segmented: seg, session: s, cache: scache.New(cfg.Path)}, nil
}

func (d *simpleReader) Name() string            { return d.cfg.Name }
func (d *simpleReader) Config() *config.Dataset { return d.cfg }
func (d *simpleReader) Close() error            { return nil }

func (d *simpleReader) QueryData(q Query, f metadata.ReadFunc) error {
	out := f
	var so *sorter
	if q.Sort != nil {
		so = newSorter(q.Sort, f)
		out = so.Add
	}

	entries, err := d.manifestEntries(q.Matcher.Interval())
	if err != nil {
		return err
	}
	count := 0
	var bytes uint64
	stopped := false
	for _, en := range entries {
		if stopped {
			break
		}
		if q.Progress != nil && !q.Progress(count, bytes) {
			break
		}
		var lock *segment.Lock
		if q.WithData {
			if lock, err = d.segmentLockShared(en.Relpath); err != nil {
				return err
			}
		}
		mds, err := segment.ReadMetadataSidecar(d.abspath(en.Relpath))
		if err != nil {
			lock.Release()
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, md := range mds {
			if !q.Matcher.Match(md) {
				continue
			}
			md.MakeAbsolute(filepath.Dir(d.abspath(en.Relpath)))
			if q.WithData {
				if blob, ok := md.Source().(types.SourceBlob); ok {
					if err := inlineFromSession(d.session, blob.Fmt, blob.AbsolutePath(), md); err != nil {
						lock.Release()
						return err
					}
				}
			}
			count++
			bytes += md.DataSize()
			goOn, err := out(md)
			if err != nil {
				lock.Release()
				return err
			}
			if !goOn {
				stopped = true
				break
			}
		}
		lock.Release()
	}
	if so != nil {
		return so.Flush()
	}
	return nil
}

func (d *simpleReader) manifestEntries(iv types.Interval) ([]index.ManifestEntry, error) {
	if !fileExists(manifestPath(d.root)) {
		return nil, nil
	}
	man, err := index.OpenManifest(manifestPath(d.root))
	if err != nil {
		return nil, err
	}
	defer man.Close()
	return man.Matching(iv)
}

func (d *simpleReader) QuerySummary(m matcher.Matcher) (*summary.Summary, error) {
	// segment summary sidecars sum exactly; filtering does the rest
	entries, err := d.manifestEntries(m.Interval())
	if err != nil {
		return nil, err
	}
	total := summary.New()
	for _, en := range entries {
		s, err := segment.ReadSummarySidecar(d.abspath(en.Relpath))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		total.AddSummary(s)
	}
	return total.Filter(m), nil
}

/* writer */

type simpleWriter struct {
	*segmented
	session *Session
	cache   *scache.Cache
	lock    *segment.Lock
	open    map[string]*simpleOpenSegment
	touched types.Interval
	closed  bool
}

type simpleOpenSegment struct {
	relpath string
	format  string
	w       segment.Writer
	lock    *segment.Lock
	mds     []*metadata.Metadata
}

func newSimpleWriter(s *Session, cfg *config.Dataset) (Writer, error) {
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
	return &simpleWriter{
		segmented: seg,
		session:   s,
		cache:     scache.New(cfg.Path),
		lock:      lock,
		open:      make(map[string]*simpleOpenSegment),
	}, nil
}

func (d *simpleWriter) Name() string            { return d.cfg.Name }
func (d *simpleWriter) Config() *config.Dataset { return d.cfg }

func (d *simpleWriter) Acquire(in *Inbound, replace config.ReplaceStrategy) (AcquireResult, error) {
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
	seg, ok := d.open[relpath]
	if !ok {
		lock, err := d.segmentLockExclusive(relpath)
		if err != nil {
			return AcquireError, err
		}
		w, err := segment.OpenWriter(format, d.abspath(relpath), segment.WriterOptions{
			Eatmydata: d.cfg.Eatmydata,
		})
		if err != nil {
			lock.Release()
			return AcquireError, err
		}
		// previously stored records stay in the sidecar
		mds, err := segment.ReadMetadataSidecar(d.abspath(relpath))
		if err != nil && !os.IsNotExist(err) {
			w.Close()
			lock.Release()
			return AcquireError, err
		}
		seg = &simpleOpenSegment{relpath: relpath, format: format, w: w, lock: lock, mds: mds}
		d.open[relpath] = seg
	}

	offset, err := seg.w.Append(in.Data)
	if err != nil {
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

	stored := md.Clone()
	stored.SetSource(types.SourceBlob{
		Fmt: format, Relpath: filepath.Base(relpath),
		Offset: offset, Size: uint64(len(in.Data)),
	})
	seg.mds = append(seg.mds, stored)
	d.touched.Extend(rt)
	return AcquireOK, nil
}

func (d *simpleWriter) AcquireBatch(batch []*Inbound, replace config.ReplaceStrategy) ([]AcquireResult, error) {
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

func (d *simpleWriter) Flush() error {
	var man *index.Manifest
	var firstErr error
	if len(d.open) > 0 {
		var err error
		if man, err = index.OpenManifest(manifestPath(d.root)); err != nil {
			return err
		}
		defer man.Close()
	}
	for _, seg := range d.open {
		abspath := d.abspath(seg.relpath)
		if err := seg.w.Commit(); err != nil {
			seg.w.Rollback()
			seg.w.Close()
			seg.lock.Release()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := segment.WriteMetadataSidecar(abspath, seg.mds); err != nil && firstErr == nil {
			firstErr = err
		}
		sum := summary.New()
		for _, md := range seg.mds {
			sum.Add(md)
		}
		if err := segment.WriteSummarySidecar(abspath, sum); err != nil && firstErr == nil {
			firstErr = err
		}
		iv, _ := d.relpathInterval(seg.relpath)
		if err := man.Upsert(index.ManifestEntry{
			Relpath: seg.relpath,
			Mtime:   time.Now().Unix(),
			Size:    util.GetFilesize(abspath),
			Interval: types.Interval{
				Begin: iv.Begin, End: iv.End,
			},
		}); err != nil && firstErr == nil {
			firstErr = err
		}
		seg.w.Close()
		seg.lock.Release()
		d.session.InvalidateSegmentReader(abspath)
	}
	d.open = make(map[string]*simpleOpenSegment)
	if !d.touched.Begin.IsZero() {
		d.cache.Invalidate(d.touched)
		d.touched = types.Interval{}
	}
	return firstErr
}

func (d *simpleWriter) Close() error {
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

/* checker */

type simpleChecker struct {
	*segmented
	session *Session
	lock    *segment.Lock
}

func newSimpleChecker(s *Session, cfg *config.Dataset) (Checker, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	lock, err := seg.checkLock()
	if err != nil {
		return nil, err
	}
	return &simpleChecker{segmented: seg, session: s, lock: lock}, nil
}

func (c *simpleChecker) Name() string            { return c.cfg.Name }
func (c *simpleChecker) Config() *config.Dataset { return c.cfg }

func (c *simpleChecker) Close() error {
	if c.lock != nil {
		return c.lock.Release()
	}
	return nil
}

// Check reconciles the MANIFEST with the filesystem: stale entries
// go, unknown segments get listed, sidecar-less segments are flagged.
func (c *simpleChecker) Check(fix bool, rep Reporter) error {
	relpaths, err := c.segmentRelpaths()
	if err != nil {
		return err
	}
	man, err := index.OpenManifest(manifestPath(c.root))
	if err != nil {
		return err
	}
	defer man.Close()

	onDisk := map[string]bool{}
	now := time.Now()
	for _, relpath := range relpaths {
		onDisk[relpath] = true
		abspath := c.abspath(relpath)
		_, known, err := man.Get(relpath)
		if err != nil {
			return err
		}
		switch {
		case !fileExists(segment.MetadataPath(abspath)):
			rep(relpath, segment.StateUnaligned, "metadata sidecar is missing")
			if fix {
				if err := c.rebuildSidecars(relpath); err != nil {
					rep(relpath, segment.StateCorrupted, fmt.Sprintf("rescan failed: %v", err))
					continue
				}
				if err := c.updateManifest(man, relpath); err != nil {
					return err
				}
				rep(relpath, segment.StateOK, "sidecars rebuilt")
			}
		case !known:
			rep(relpath, segment.StateNew, "segment is not in the MANIFEST")
			if fix {
				if err := c.updateManifest(man, relpath); err != nil {
					return err
				}
				rep(relpath, segment.StateOK, "added to the MANIFEST")
			}
		default:
			if state, aged := c.ageState(relpath, now); aged {
				rep(relpath, state, "data ends before the configured age")
			} else {
				rep(relpath, segment.StateOK, "")
			}
		}
	}

	entries, err := man.List()
	if err != nil {
		return err
	}
	for _, en := range entries {
		if onDisk[en.Relpath] {
			continue
		}
		rep(en.Relpath, segment.StateMissing, "MANIFEST references a segment that is absent")
		if fix {
			if err := man.Remove(en.Relpath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *simpleChecker) rebuildSidecars(relpath string) error {
	abspath := c.abspath(relpath)
	_, format, _ := splitRelpath(relpath)
	chk, err := segment.OpenChecker(format, abspath)
	if err != nil {
		return err
	}
	var mds []*metadata.Metadata
	sum := summary.New()
	err = chk.ScanData(func(md *metadata.Metadata, span segment.Span) (bool, error) {
		md.SetSource(types.SourceBlob{
			Fmt: format, Relpath: filepath.Base(relpath),
			Offset: span.Offset, Size: span.Size,
		})
		mds = append(mds, md)
		sum.Add(md)
		return true, nil
	})
	if err != nil {
		return err
	}
	if err := segment.WriteMetadataSidecar(abspath, mds); err != nil {
		return err
	}
	return segment.WriteSummarySidecar(abspath, sum)
}

func (c *simpleChecker) updateManifest(man *index.Manifest, relpath string) error {
	iv, _ := c.relpathInterval(relpath)
	return man.Upsert(index.ManifestEntry{
		Relpath:  relpath,
		Mtime:    time.Now().Unix(),
		Size:     util.GetFilesize(c.abspath(relpath)),
		Interval: iv,
	})
}

// Repack is a no-op for simple datasets: there is no index marking
// deleted rows, so there is nothing to reclaim.
func (c *simpleChecker) Repack(fix bool, rep Reporter) (uint64, error) {
	return 0, nil
}

func (c *simpleChecker) RemoveOld(fix bool, rep Reporter) (uint64, error) {
	relpaths, err := c.segmentRelpaths()
	if err != nil {
		return 0, err
	}
	man, err := index.OpenManifest(manifestPath(c.root))
	if err != nil {
		return 0, err
	}
	defer man.Close()

	var freed uint64
	now := time.Now()
	for _, relpath := range relpaths {
		state, aged := c.ageState(relpath, now)
		if !aged || state != segment.StateDeleteAge {
			continue
		}
		if !fix {
			rep(relpath, segment.StateDeleteAge, "would be deleted")
			continue
		}
		_, format, _ := splitRelpath(relpath)
		chk, err := segment.OpenChecker(format, c.abspath(relpath))
		if err != nil {
			return freed, err
		}
		n, err := chk.Remove(true)
		if err != nil {
			return freed, err
		}
		if err := man.Remove(relpath); err != nil {
			return freed, err
		}
		freed += n
		rep(relpath, segment.StateDeleted, fmt.Sprintf("deleted, %d bytes freed", n))
	}
	return freed, nil
}

func (c *simpleChecker) Archive(rep Reporter) error {
	relpaths, err := c.segmentRelpaths()
	if err != nil {
		return err
	}
	man, err := index.OpenManifest(manifestPath(c.root))
	if err != nil {
		return err
	}
	defer man.Close()

	now := time.Now()
	for _, relpath := range relpaths {
		state, aged := c.ageState(relpath, now)
		if !aged || state != segment.StateArchiveAge {
			continue
		}
		abspath := c.abspath(relpath)
		if !fileExists(segment.MetadataPath(abspath)) {
			if err := c.rebuildSidecars(relpath); err != nil {
				return err
			}
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
		if err := man.Remove(relpath); err != nil {
			return err
		}
		rep(relpath, segment.StateOK, "moved to the archive")
	}
	return nil
}

func (c *simpleChecker) CheckIssue51(fix bool, rep Reporter) error {
	// without an index the sidecar drives the check
	relpaths, err := c.segmentRelpaths()
	if err != nil {
		return err
	}
	for _, relpath := range relpaths {
		_, format, _ := splitRelpath(relpath)
		marker, ok := scanEndMarker(format)
		if !ok {
			continue
		}
		abspath := c.abspath(relpath)
		if segment.DetectLayout(abspath) != segment.LayoutFile {
			continue
		}
		mds, err := segment.ReadMetadataSidecar(abspath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		var rows []index.Row
		for _, md := range mds {
			if blob, ok := md.Source().(types.SourceBlob); ok {
				rows = append(rows, index.Row{Offset: blob.Offset, Size: blob.Size})
			}
		}
		if err := fixTailMarkers(abspath, relpath, rows, marker, fix, rep); err != nil {
			return err
		}
	}
	return nil
}
