// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metadata

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// The YAML surface is the line-oriented "Key: value" form used by
// arki-dump: one record per stanza, records separated by a blank line.

var yamlNames = map[types.Code]string{
	types.CodeOrigin:    "Origin",
	types.CodeProduct:   "Product",
	types.CodeLevel:     "Level",
	types.CodeTimerange: "Timerange",
	types.CodeReftime:   "Reftime",
	types.CodeArea:      "Area",
	types.CodeProddef:   "Proddef",
	types.CodeRun:       "Run",
	types.CodeTask:      "Task",
	types.CodeQuantity:  "Quantity",
	types.CodeValue:     "Value",
}

// WriteYAML renders the record as a YAML stanza followed by a blank
// line.
func (md *Metadata) WriteYAML(w io.Writer) error {
	if md.source != nil {
		if _, err := fmt.Fprintf(w, "Source: %s\n", md.source); err != nil {
			return err
		}
	}
	for _, it := range md.items {
		name, ok := yamlNames[it.Code()]
		if !ok {
			// unknown types have no text surface
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", name, it); err != nil {
			return err
		}
	}
	for _, n := range md.notes {
		if _, err := fmt.Fprintf(w, "Note: %s\n", n); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// ReadYAML parses stanzas produced by WriteYAML, invoking f per
// record.
func ReadYAML(r io.Reader, f ReadFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	md := New()
	seen := false
	flush := func() (bool, error) {
		if !seen {
			return true, nil
		}
		cur := md
		md = New()
		seen = false
		return f(cur)
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			if goOn, err := flush(); err != nil || !goOn {
				return err
			}
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			return fmt.Errorf("cannot parse line %q: %w: missing ':'", line, types.ErrFormat)
		}
		key := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])
		if err := md.setFromYAML(key, val); err != nil {
			return err
		}
		seen = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err := flush()
	return err
}

func (md *Metadata) setFromYAML(key, val string) error {
	switch key {
	case "Source":
		it, err := types.ParseSource(val)
		if err != nil {
			return err
		}
		md.source = it.(types.Source)
		return nil
	case "Note":
		n, err := parseNote(val)
		if err != nil {
			return err
		}
		md.notes = append(md.notes, n)
		return nil
	}
	code, err := types.ParseCode(strings.ToLower(key))
	if err != nil {
		return fmt.Errorf("unknown YAML key %q: %w", key, types.ErrFormat)
	}
	it, err := types.ParseItem(code, val)
	if err != nil {
		return err
	}
	md.Set(it)
	return nil
}

// parseNote parses "[2024-01-15 12:30:00] content".
func parseNote(s string) (types.Note, error) {
	if !strings.HasPrefix(s, "[") {
		return types.Note{}, fmt.Errorf("cannot parse note %q: %w: missing timestamp", s, types.ErrFormat)
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return types.Note{}, fmt.Errorf("cannot parse note %q: %w: unterminated timestamp", s, types.ErrFormat)
	}
	t, err := types.ParseTime(s[1:end])
	if err != nil {
		return types.Note{}, err
	}
	return types.Note{Time: t, Content: strings.TrimSpace(s[end+1:])}, nil
}

// Serialise renders the structured form of the whole record.
func (md *Metadata) Serialise() map[string]interface{} {
	items := make([]interface{}, 0, len(md.items))
	for _, it := range md.items {
		items = append(items, it.Serialise())
	}
	out := map[string]interface{}{"items": items}
	if md.source != nil {
		out["source"] = md.source.Serialise()
	}
	if len(md.notes) > 0 {
		notes := make([]interface{}, 0, len(md.notes))
		for _, n := range md.notes {
			notes = append(notes, n.Serialise())
		}
		out["notes"] = notes
	}
	return out
}

// FromMapping rebuilds a record from its structured form.
func FromMapping(m map[string]interface{}) (*Metadata, error) {
	md := New()
	if raw, ok := m["items"].([]interface{}); ok {
		for _, entry := range raw {
			sub, ok := entry.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("metadata items entry is not a mapping: %w", types.ErrFormat)
			}
			it, err := types.DecodeMapping(sub)
			if err != nil {
				return nil, err
			}
			md.items = append(md.items, it)
		}
	}
	if raw, ok := m["source"].(map[string]interface{}); ok {
		it, err := types.DecodeMapping(raw)
		if err != nil {
			return nil, err
		}
		src, ok := it.(types.Source)
		if !ok {
			return nil, fmt.Errorf("metadata source entry is not a source: %w", types.ErrFormat)
		}
		md.source = src
	}
	if raw, ok := m["notes"].([]interface{}); ok {
		for _, entry := range raw {
			sub, ok := entry.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("metadata notes entry is not a mapping: %w", types.ErrFormat)
			}
			it, err := types.DecodeMapping(sub)
			if err != nil {
				return nil, err
			}
			n, ok := it.(types.Note)
			if !ok {
				return nil, fmt.Errorf("metadata notes entry is not a note: %w", types.ErrFormat)
			}
			md.notes = append(md.notes, n)
		}
	}
	return md, nil
}
