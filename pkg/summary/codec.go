// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package summary

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Binary layout of the SU frame payload: varint group count, then per
// group: varint item count, the item envelopes, varint stats count,
// varint stats bytes, packed begin time, packed end time.

// Write renders the summary as one SU frame.
func (s *Summary) Write(w io.Writer) error {
	e := types.NewEncoder()
	e.Varint(uint64(len(s.entries)))
	err := s.Visit(func(items []types.Item, stats Stats) error {
		e.Varint(uint64(len(items)))
		for _, it := range items {
			types.Encode(e, it)
		}
		e.Varint(stats.Count)
		e.Varint(stats.Bytes)
		e.Time(stats.Interval.Begin)
		e.Time(stats.Interval.End)
		return nil
	})
	if err != nil {
		return err
	}
	return metadata.WriteFrame(w, metadata.SigSummary, e.Bytes())
}

// Encode returns the framed binary form.
func (s *Summary) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes one summary frame from the stream.
func Read(r io.Reader) (*Summary, error) {
	sr := metadata.NewStreamReader(r)
	frame, err := sr.ReadFrame()
	if err != nil {
		return nil, err
	}
	if frame.Sig != metadata.SigSummary {
		return nil, fmt.Errorf("expected summary frame, found %q at offset %d: %w", frame.Sig, frame.Offset, types.ErrFormat)
	}
	return decode(frame.Payload)
}

// ReadFile loads a summary from a file.
func ReadFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func decode(payload []byte) (*Summary, error) {
	s := New()
	d := types.NewDecoder(payload)
	groups := d.Varint()
	for g := uint64(0); g < groups; g++ {
		n := d.Varint()
		if d.Err != nil {
			return nil, d.Err
		}
		items := make(map[types.Code]types.Item, n)
		for i := uint64(0); i < n; i++ {
			it, err := types.Decode(d)
			if err != nil {
				return nil, err
			}
			items[it.Code()] = it
		}
		stats := Stats{Count: d.Varint(), Bytes: d.Varint()}
		stats.Interval.Begin = d.Time()
		stats.Interval.End = d.Time()
		if d.Err != nil {
			return nil, d.Err
		}
		s.add(items, stats)
	}
	return s, nil
}

var yamlNames = map[types.Code]string{
	types.CodeOrigin:    "Origin",
	types.CodeProduct:   "Product",
	types.CodeLevel:     "Level",
	types.CodeTimerange: "Timerange",
	types.CodeArea:      "Area",
	types.CodeProddef:   "Proddef",
	types.CodeRun:       "Run",
	types.CodeTask:      "Task",
	types.CodeQuantity:  "Quantity",
	types.CodeValue:     "Value",
}

// WriteYAML renders the user-facing stanza form.
func (s *Summary) WriteYAML(w io.Writer) error {
	return s.Visit(func(items []types.Item, stats Stats) error {
		if _, err := fmt.Fprintln(w, "SummaryItem:"); err != nil {
			return err
		}
		for _, it := range items {
			name, ok := yamlNames[it.Code()]
			if !ok {
				continue
			}
			if _, err := fmt.Fprintf(w, "  %s: %s\n", name, it); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, "SummaryStats:"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  Count: %d\n", stats.Count); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  Size: %d\n", stats.Bytes); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  Reftime: %s\n\n", stats.Interval); err != nil {
			return err
		}
		return nil
	})
}

// Serialise renders the structured form used by the JSON surface.
func (s *Summary) Serialise() map[string]interface{} {
	var groups []interface{}
	s.Visit(func(items []types.Item, stats Stats) error {
		entry := make([]interface{}, 0, len(items))
		for _, it := range items {
			entry = append(entry, it.Serialise())
		}
		groups = append(groups, map[string]interface{}{
			"items": entry,
			"summarystats": map[string]interface{}{
				"count": int(stats.Count),
				"size":  int(stats.Bytes),
				"begin": stats.Interval.Begin.ISO8601(),
				"end":   stats.Interval.End.ISO8601(),
			},
		})
		return nil
	})
	return map[string]interface{}{"items": groups}
}
