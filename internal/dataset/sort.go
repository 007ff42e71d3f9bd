// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// SortInterval bounds sorter memory: results are buffered per
// interval of reference time and each interval is emitted sorted,
// which honors meteorological-time locality.
type SortInterval int

const (
	SortIntervalNone SortInterval = iota
	SortIntervalMinute
	SortIntervalHour
	SortIntervalDay
	SortIntervalMonth
	SortIntervalYear
)

// SortSpec is a parsed sort specification:
// "[interval:]key,key,...", each key optionally prefixed with '-'
// for descending order. Example: "day:origin, -timerange".
type SortSpec struct {
	Interval SortInterval
	Keys     []types.Code
	Desc     []bool
}

// ParseSort parses a sort specification.
func ParseSort(s string) (*SortSpec, error) {
	spec := &SortSpec{Interval: SortIntervalNone}
	s = strings.TrimSpace(s)
	if colon := strings.Index(s, ":"); colon >= 0 {
		switch strings.TrimSpace(strings.ToLower(s[:colon])) {
		case "minute":
			spec.Interval = SortIntervalMinute
		case "hour":
			spec.Interval = SortIntervalHour
		case "day":
			spec.Interval = SortIntervalDay
		case "month":
			spec.Interval = SortIntervalMonth
		case "year":
			spec.Interval = SortIntervalYear
		default:
			return nil, fmt.Errorf("unknown sort interval %q", s[:colon])
		}
		s = s[colon+1:]
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := false
		if strings.HasPrefix(part, "-") {
			desc = true
			part = strings.TrimSpace(part[1:])
		}
		code, err := types.ParseCode(strings.ToLower(part))
		if err != nil {
			return nil, err
		}
		spec.Keys = append(spec.Keys, code)
		spec.Desc = append(spec.Desc, desc)
	}
	if len(spec.Keys) == 0 {
		return nil, fmt.Errorf("sort specification %q names no keys", s)
	}
	return spec, nil
}

// Compare orders two records by the sort keys, reftime breaking ties.
func (sp *SortSpec) Compare(a, b *metadata.Metadata) int {
	for i, code := range sp.Keys {
		av := a.Get(code)
		bv := b.Get(code)
		var c int
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			c = -1
		case bv == nil:
			c = 1
		default:
			c = av.Compare(bv)
		}
		if c != 0 {
			if sp.Desc[i] {
				return -c
			}
			return c
		}
	}
	at, _ := a.ReftimePosition()
	bt, _ := b.ReftimePosition()
	return at.Compare(bt)
}

// bucket truncates a reference time to the sort interval.
func (sp *SortSpec) bucket(t types.Time) types.Time {
	switch sp.Interval {
	case SortIntervalMinute:
		return types.NewTime(t.Year, t.Month, t.Day, t.Hour, t.Minute, 0)
	case SortIntervalHour:
		return types.NewTime(t.Year, t.Month, t.Day, t.Hour, 0, 0)
	case SortIntervalDay:
		return types.NewTime(t.Year, t.Month, t.Day, 0, 0, 0)
	case SortIntervalMonth:
		return types.NewTime(t.Year, t.Month, 1, 0, 0, 0)
	case SortIntervalYear:
		return types.NewTime(t.Year, 1, 1, 0, 0, 0)
	default:
		return types.Time{}
	}
}

// sorter buffers one sort interval at a time and forwards each
// interval sorted. With SortIntervalNone everything is buffered.
type sorter struct {
	spec    *SortSpec
	out     metadata.ReadFunc
	buffer  []*metadata.Metadata
	current types.Time
	have    bool
	stopped bool
}

func newSorter(spec *SortSpec, out metadata.ReadFunc) *sorter {
	return &sorter{spec: spec, out: out}
}

// Add feeds one record; reports false once the consumer stopped.
func (so *sorter) Add(md *metadata.Metadata) (bool, error) {
	if so.stopped {
		return false, nil
	}
	if so.spec.Interval != SortIntervalNone {
		rt, ok := md.ReftimePosition()
		if ok {
			b := so.spec.bucket(rt)
			if so.have && b != so.current {
				if err := so.flush(); err != nil || so.stopped {
					return false, err
				}
			}
			so.current = b
			so.have = true
		}
	}
	so.buffer = append(so.buffer, md)
	return true, nil
}

// Flush drains the remaining buffer.
func (so *sorter) Flush() error {
	if so.stopped {
		return nil
	}
	return so.flush()
}

func (so *sorter) flush() error {
	sort.SliceStable(so.buffer, func(i, j int) bool {
		return so.spec.Compare(so.buffer[i], so.buffer[j]) < 0
	})
	for _, md := range so.buffer {
		goOn, err := so.out(md)
		if err != nil {
			so.stopped = true
			return err
		}
		if !goOn {
			so.stopped = true
			break
		}
	}
	so.buffer = so.buffer[:0]
	return nil
}
