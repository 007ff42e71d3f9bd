// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package summary implements the aggregated view of a set of metadata:
// records grouped by their non-reftime dimensions, each group carrying
// count, byte total and reference time coverage. Merging summaries is
// associative and commutative, which is what lets the query system
// combine per-month and per-segment summaries in any order.
package summary

import (
	"sort"

	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Stats is the aggregate attached to each group of metadata.
type Stats struct {
	Count    uint64
	Bytes    uint64
	Interval types.Interval
}

// Merge folds another aggregate into this one.
func (s *Stats) Merge(o Stats) {
	s.Count += o.Count
	s.Bytes += o.Bytes
	s.Interval.ExtendInterval(o.Interval)
}

type entry struct {
	items map[types.Code]types.Item
	stats Stats
}

// key is the concatenated binary envelope of the entry's items in
// code order, which identifies the group.
func entryKey(items map[types.Code]types.Item) string {
	e := types.NewEncoder()
	for _, code := range types.SummaryCodes {
		if it, ok := items[code]; ok {
			types.Encode(e, it)
		}
	}
	return string(e.Bytes())
}

// Summary aggregates metadata by their non-reftime dimensions.
type Summary struct {
	entries map[string]*entry
}

func New() *Summary {
	return &Summary{entries: make(map[string]*entry)}
}

// Add folds one record in, using the size recorded in its source.
func (s *Summary) Add(md *metadata.Metadata) {
	items := make(map[types.Code]types.Item)
	for _, code := range types.SummaryCodes {
		if it := md.Get(code); it != nil {
			items[code] = it
		}
	}
	var iv types.Interval
	if rt, ok := md.Get(types.CodeReftime).(types.Reftime); ok {
		iv = rt.Interval()
	}
	s.add(items, Stats{Count: 1, Bytes: md.DataSize(), Interval: iv})
}

func (s *Summary) add(items map[types.Code]types.Item, stats Stats) {
	key := entryKey(items)
	if en, ok := s.entries[key]; ok {
		en.stats.Merge(stats)
		return
	}
	s.entries[key] = &entry{items: items, stats: stats}
}

// AddSummary merges another summary in.
func (s *Summary) AddSummary(o *Summary) {
	for _, en := range o.entries {
		items := make(map[types.Code]types.Item, len(en.items))
		for code, it := range en.items {
			items[code] = it
		}
		s.add(items, en.stats)
	}
}

// Clone returns an independent copy.
func (s *Summary) Clone() *Summary {
	out := New()
	out.AddSummary(s)
	return out
}

// IsEmpty reports whether nothing was aggregated.
func (s *Summary) IsEmpty() bool {
	return len(s.entries) == 0
}

// Count returns the total number of aggregated records.
func (s *Summary) Count() uint64 {
	var n uint64
	for _, en := range s.entries {
		n += en.stats.Count
	}
	return n
}

// Size returns the total number of aggregated data bytes.
func (s *Summary) Size() uint64 {
	var n uint64
	for _, en := range s.entries {
		n += en.stats.Bytes
	}
	return n
}

// Interval returns the reference time coverage of the whole summary.
func (s *Summary) Interval() types.Interval {
	var iv types.Interval
	for _, en := range s.entries {
		iv.ExtendInterval(en.stats.Interval)
	}
	return iv
}

// Filter returns a new summary keeping only the groups accepted by the
// matcher. Reftime clauses are applied by intersecting each group's
// time coverage with the matcher interval.
func (s *Summary) Filter(m matcher.Matcher) *Summary {
	out := New()
	for key, en := range s.entries {
		if !m.MatchSummaryEntry(func(code types.Code) types.Item {
			return en.items[code]
		}, en.stats.Interval) {
			continue
		}
		cp := *en
		items := make(map[types.Code]types.Item, len(en.items))
		for code, it := range en.items {
			items[code] = it
		}
		cp.items = items
		out.entries[key] = &cp
	}
	return out
}

// Visitor receives each group with its aggregate; items is sorted by
// dimension code.
type Visitor func(items []types.Item, stats Stats) error

// Visit enumerates groups in a deterministic order.
func (s *Summary) Visit(v Visitor) error {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		en := s.entries[key]
		items := make([]types.Item, 0, len(en.items))
		for _, code := range types.SummaryCodes {
			if it, ok := en.items[code]; ok {
				items = append(items, it)
			}
		}
		if err := v(items, en.stats); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares groups and aggregates.
func (s *Summary) Equal(o *Summary) bool {
	if len(s.entries) != len(o.entries) {
		return false
	}
	for key, en := range s.entries {
		oen, ok := o.entries[key]
		if !ok || en.stats != oen.stats {
			return false
		}
	}
	return true
}
