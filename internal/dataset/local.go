// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/internal/step"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// ArchiveDir is the read-only archive tier inside a dataset root.
const ArchiveDir = ".archive"

// segmented is the common plumbing of every on-disk dataset type:
// the root directory, the step scheme, and segment path arithmetic.
type segmented struct {
	cfg  *config.Dataset
	step step.Step
	root string
}

func newSegmented(cfg *config.Dataset) (*segmented, error) {
	st, err := step.Get(cfg.Step)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %v", cfg.Name, err)
	}
	return &segmented{cfg: cfg, step: st, root: cfg.Path}, nil
}

func (d *segmented) abspath(relpath string) string {
	return filepath.Join(d.root, relpath)
}

// relpathFor maps a record to its segment relative path, format
// extension included.
func (d *segmented) relpathFor(t types.Time, format string) string {
	return d.step.Relpath(t) + "." + format
}

// splitRelpath separates the step stem from the format extension.
func splitRelpath(relpath string) (stem, format string, ok bool) {
	ext := filepath.Ext(relpath)
	if ext == "" {
		return "", "", false
	}
	format, err := scan.NormaliseFormat(ext)
	if err != nil {
		return "", "", false
	}
	return strings.TrimSuffix(relpath, ext), format, true
}

// relpathInterval returns the time span a segment is allowed to
// contain, from its path alone.
func (d *segmented) relpathInterval(relpath string) (types.Interval, bool) {
	stem, _, ok := splitRelpath(relpath)
	if !ok {
		return types.Interval{}, false
	}
	return d.step.Interval(stem)
}

// segmentRelpaths walks the dataset root and returns the segment
// paths (format extension included, layout suffix stripped) sorted
// ascending; archived tiers are not included.
func (d *segmented) segmentRelpaths() ([]string, error) {
	seen := map[string]bool{}
	err := filepath.WalkDir(d.root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		name := de.Name()
		if de.IsDir() {
			if path == d.root {
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
		}
		relpath, rerr := filepath.Rel(d.root, path)
		if rerr != nil {
			return rerr
		}
		relpath = stripLayoutSuffix(relpath)
		if _, _, ok := splitRelpath(relpath); !ok {
			return nil
		}
		if _, ivOK := d.relpathInterval(relpath); !ivOK {
			return nil
		}
		if !seen[relpath] {
			seen[relpath] = true
		}
		if de.IsDir() {
			// a directory segment: do not descend into its members
			return filepath.SkipDir
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

func stripLayoutSuffix(relpath string) string {
	for _, suffix := range []string{".tar", ".zip", ".gz", ".gz.idx", ".metadata", ".summary", ".index", ".lock", ".repack"} {
		if strings.HasSuffix(relpath, suffix) {
			return strings.TrimSuffix(relpath, suffix)
		}
	}
	return relpath
}

// archiveRelpaths lists the segments of every archive tier, as
// "<tier>/<relpath>" under .archive.
func (d *segmented) archiveRelpaths() ([]string, error) {
	archiveRoot := filepath.Join(d.root, ArchiveDir)
	tiers, err := os.ReadDir(archiveRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, tier := range tiers {
		if !tier.IsDir() {
			continue
		}
		sub := &segmented{cfg: d.cfg, step: d.step, root: filepath.Join(archiveRoot, tier.Name())}
		relpaths, err := sub.segmentRelpaths()
		if err != nil {
			return nil, err
		}
		for _, relpath := range relpaths {
			out = append(out, filepath.Join(tier.Name(), relpath))
		}
	}
	sort.Strings(out)
	return out, nil
}

// candidateSegments prunes the segment list through the matcher's
// reftime interval using the step scheme.
func (d *segmented) candidateSegments(iv types.Interval) ([]string, error) {
	relpaths, err := d.segmentRelpaths()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, relpath := range relpaths {
		span, ok := d.relpathInterval(relpath)
		if !ok || iv.Intersects(span) {
			out = append(out, relpath)
		}
	}
	return out, nil
}

/* dataset-level locks */

func (d *segmented) appendLockPath() string {
	return filepath.Join(d.root, ".append-lock")
}

func (d *segmented) checkLockPath() string {
	return filepath.Join(d.root, ".check-lock")
}

// appendLock serializes writers on the dataset. Readers never take
// dataset-level locks.
func (d *segmented) appendLock() (*segment.Lock, error) {
	if !d.cfg.Locking {
		return nil, nil
	}
	return segment.AcquireExclusive(d.appendLockPath())
}

// checkLock serializes checkers on the dataset.
func (d *segmented) checkLock() (*segment.Lock, error) {
	if !d.cfg.Locking {
		return nil, nil
	}
	return segment.AcquireExclusive(d.checkLockPath())
}

// segmentLockShared guards one segment for reading with data.
func (d *segmented) segmentLockShared(relpath string) (*segment.Lock, error) {
	if !d.cfg.Locking {
		return nil, nil
	}
	return segment.AcquireShared(segment.DataLockPath(d.abspath(relpath)))
}

// segmentLockExclusive guards one segment for writing or checking.
func (d *segmented) segmentLockExclusive(relpath string) (*segment.Lock, error) {
	if !d.cfg.Locking {
		return nil, nil
	}
	return segment.AcquireExclusive(segment.DataLockPath(d.abspath(relpath)))
}

// ageState classifies a segment against the archive/delete ages; a
// false second result (with StateOK) means neither applies.
func (d *segmented) ageState(relpath string, now time.Time) (segment.State, bool) {
	iv, ok := d.relpathInterval(relpath)
	if !ok || iv.End.IsZero() {
		return segment.StateOK, false
	}
	end := iv.End.ToGo()
	if d.cfg.DeleteAge > 0 && end.Before(now.AddDate(0, 0, -d.cfg.DeleteAge)) {
		return segment.StateDeleteAge, true
	}
	if d.cfg.ArchiveAge > 0 && end.Before(now.AddDate(0, 0, -d.cfg.ArchiveAge)) {
		return segment.StateArchiveAge, true
	}
	return segment.StateOK, false
}
