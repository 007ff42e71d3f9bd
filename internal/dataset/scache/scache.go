// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scache implements the per-dataset summary cache: one
// serialized summary per calendar month under .summaries/, plus
// all.summary for the dataset lifetime. Writes are atomic; readers
// never lock, a stale cache is at worst a superset that gets
// re-filtered.
package scache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ARPA-SIMC/arkimet/internal/util"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Dir is the cache directory name inside the dataset root.
const Dir = ".summaries"

type Cache struct {
	dir string
}

// New returns the cache for a dataset root.
func New(root string) *Cache {
	return &Cache{dir: filepath.Join(root, Dir)}
}

func (c *Cache) monthPath(ye, mo int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%04d-%02d.summary", ye, mo))
}

func (c *Cache) allPath() string {
	return filepath.Join(c.dir, "all.summary")
}

// ReadMonth loads one month's summary if cached.
func (c *Cache) ReadMonth(ye, mo int) (*summary.Summary, bool) {
	s, err := summary.ReadFile(c.monthPath(ye, mo))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("summary cache %s: unreadable, ignored: %v", c.monthPath(ye, mo), err)
		}
		return nil, false
	}
	return s, true
}

// WriteMonth stores one month's summary atomically.
func (c *Cache) WriteMonth(ye, mo int, s *summary.Summary) error {
	if err := os.MkdirAll(c.dir, 0o777); err != nil {
		return err
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return util.WriteFileAtomically(c.monthPath(ye, mo), data)
}

// ReadAll loads the whole-dataset summary if cached.
func (c *Cache) ReadAll() (*summary.Summary, bool) {
	s, err := summary.ReadFile(c.allPath())
	if err != nil {
		return nil, false
	}
	return s, true
}

// WriteAll stores the whole-dataset summary atomically.
func (c *Cache) WriteAll(s *summary.Summary) error {
	if err := os.MkdirAll(c.dir, 0o777); err != nil {
		return err
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return util.WriteFileAtomically(c.allPath(), data)
}

// Invalidate drops the months whose span intersects the interval,
// plus all.summary. Any writer or checker action that modifies a
// segment must call this with the segment's span.
func (c *Cache) Invalidate(iv types.Interval) {
	os.Remove(c.allPath())
	if iv.Begin.IsZero() || iv.End.IsZero() {
		c.InvalidateAll()
		return
	}
	ye, mo := iv.Begin.Year, iv.Begin.Month
	for {
		at := types.NewTime(ye, mo, 1, 0, 0, 0)
		if !at.Before(iv.End) {
			break
		}
		os.Remove(c.monthPath(ye, mo))
		mo++
		if mo > 12 {
			mo = 1
			ye++
		}
	}
}

// InvalidateAll drops the whole cache.
func (c *Cache) InvalidateAll() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		os.Remove(filepath.Join(c.dir, de.Name()))
	}
}

// Months enumerates the calendar months covered by an interval.
func Months(iv types.Interval) [][2]int {
	if iv.Begin.IsZero() || iv.End.IsZero() {
		return nil
	}
	var out [][2]int
	ye, mo := iv.Begin.Year, iv.Begin.Month
	for {
		at := types.NewTime(ye, mo, 1, 0, 0, 0)
		if !at.Before(iv.End) {
			break
		}
		out = append(out, [2]int{ye, mo})
		mo++
		if mo > 12 {
			mo = 1
			ye++
		}
	}
	return out
}

// MonthInterval is the half-open span of one calendar month.
func MonthInterval(ye, mo int) types.Interval {
	begin := types.NewTime(ye, mo, 1, 0, 0, 0)
	return types.Interval{Begin: begin, End: begin.UpperBound(2)}
}
