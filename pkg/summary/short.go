// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package summary

import (
	"fmt"
	"io"
	"sort"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Short is the degenerate projection used for fast display: the set of
// distinct values per dimension, plus one grand total.
type Short struct {
	Items map[types.Code][]types.Item
	Stats Stats
}

// Shorten projects the summary.
func (s *Summary) Shorten() *Short {
	out := &Short{Items: make(map[types.Code][]types.Item)}
	seen := make(map[string]bool)
	s.Visit(func(items []types.Item, stats Stats) error {
		for _, it := range items {
			key := string(types.EncodeItem(it))
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Items[it.Code()] = append(out.Items[it.Code()], it)
		}
		out.Stats.Merge(stats)
		return nil
	})
	for code := range out.Items {
		items := out.Items[code]
		sort.Slice(items, func(i, j int) bool { return items[i].Compare(items[j]) < 0 })
	}
	return out
}

// WriteYAML renders the short form.
func (sh *Short) WriteYAML(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "SummaryStats:"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  Count: %d\n", sh.Stats.Count); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  Size: %d\n", sh.Stats.Bytes); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  Reftime: %s\n", sh.Stats.Interval); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "Items:"); err != nil {
		return err
	}
	for _, code := range types.SummaryCodes {
		items, ok := sh.Items[code]
		if !ok {
			continue
		}
		name, ok := yamlNames[code]
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "  %s:\n", name); err != nil {
			return err
		}
		for _, it := range items {
			if _, err := fmt.Fprintf(w, "    - %s\n", it); err != nil {
				return err
			}
		}
	}
	return nil
}
