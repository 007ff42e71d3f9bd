// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metadata implements the per-message metadata record and its
// binary stream framing.
package metadata

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Metadata is one message's record: an insertion-ordered set of typed
// dimension values, a source locator, notes, and optionally the inline
// message bytes.
type Metadata struct {
	items  []types.Item
	source types.Source
	notes  []types.Note
	data   []byte
}

func New() *Metadata {
	return &Metadata{}
}

// Get returns the value for a dimension code, or nil.
func (md *Metadata) Get(code types.Code) types.Item {
	for _, it := range md.items {
		if it.Code() == code {
			return it
		}
	}
	return nil
}

// Has reports whether the dimension is set.
func (md *Metadata) Has(code types.Code) bool {
	return md.Get(code) != nil
}

// Set stores a value, replacing any previous value of the same code
// while keeping the original insertion position.
func (md *Metadata) Set(it types.Item) {
	for i, old := range md.items {
		if old.Code() == it.Code() {
			md.items[i] = it
			return
		}
	}
	md.items = append(md.items, it)
}

// Unset drops the value for a dimension code.
func (md *Metadata) Unset(code types.Code) {
	for i, it := range md.items {
		if it.Code() == code {
			md.items = append(md.items[:i], md.items[i+1:]...)
			return
		}
	}
}

// Items returns the dimension values in insertion order. The slice is
// shared: treat it as read-only.
func (md *Metadata) Items() []types.Item {
	return md.items
}

func (md *Metadata) Source() types.Source {
	return md.source
}

func (md *Metadata) SetSource(s types.Source) {
	md.source = s
	if _, ok := s.(types.SourceInline); !ok {
		md.data = nil
	}
}

func (md *Metadata) Notes() []types.Note {
	return md.notes
}

// AddNote appends a free-text note stamped with the current time.
func (md *Metadata) AddNote(content string) {
	md.notes = append(md.notes, types.NewNote(content))
}

// AddNoteItem appends an existing note, keeping its timestamp.
func (md *Metadata) AddNoteItem(n types.Note) {
	md.notes = append(md.notes, n)
}

// Data returns the inline message bytes, if any.
func (md *Metadata) Data() []byte {
	return md.data
}

// SetInlineData embeds the message bytes, replacing the source with an
// inline one.
func (md *Metadata) SetInlineData(format string, data []byte) {
	md.source = types.SourceInline{Fmt: format, Size: uint64(len(data))}
	md.data = data
}

// MakeInline replaces a blob source with an embedded buffer, reading
// the bytes through the given segment read function.
func (md *Metadata) MakeInline(read func(types.SourceBlob) ([]byte, error)) error {
	blob, ok := md.source.(types.SourceBlob)
	if !ok {
		return nil
	}
	data, err := read(blob)
	if err != nil {
		return fmt.Errorf("reading data for %s: %w", blob, err)
	}
	md.SetInlineData(blob.Fmt, data)
	return nil
}

// MakeAbsolute rewrites a relative blob source against basedir.
func (md *Metadata) MakeAbsolute(basedir string) {
	if blob, ok := md.source.(types.SourceBlob); ok && blob.Basedir == "" {
		blob.Basedir = basedir
		md.source = blob
	}
}

// ReftimePosition returns the reference instant: the position time, or
// the begin of a period reftime.
func (md *Metadata) ReftimePosition() (types.Time, bool) {
	switch rt := md.Get(types.CodeReftime).(type) {
	case types.ReftimePosition:
		return rt.Time, true
	case types.ReftimePeriod:
		return rt.Begin, true
	default:
		return types.Time{}, false
	}
}

// DataSize returns the message size as recorded in the source.
func (md *Metadata) DataSize() uint64 {
	switch s := md.source.(type) {
	case types.SourceBlob:
		return s.Size
	case types.SourceInline:
		return s.Size
	default:
		return 0
	}
}

// Format returns the data format recorded in the source, or "".
func (md *Metadata) Format() string {
	if md.source == nil {
		return ""
	}
	return md.source.Format()
}

// Clone returns a deep enough copy: items are immutable values, so
// only the slices and data buffer are duplicated.
func (md *Metadata) Clone() *Metadata {
	out := &Metadata{
		items:  append([]types.Item(nil), md.items...),
		source: md.source,
		notes:  append([]types.Note(nil), md.notes...),
	}
	if md.data != nil {
		out.data = append([]byte(nil), md.data...)
	}
	return out
}

// Equal compares dimension values and source, ignoring notes.
func (md *Metadata) Equal(o *Metadata) bool {
	if !md.EqualItems(o) {
		return false
	}
	if (md.source == nil) != (o.source == nil) {
		return false
	}
	if md.source != nil && !types.Equal(md.source, o.source) {
		return false
	}
	return true
}

// EqualItems compares only the dimension values, ignoring source and
// notes. This is the identity used by the repack-preserves-data
// property.
func (md *Metadata) EqualItems(o *Metadata) bool {
	if len(md.items) != len(o.items) {
		return false
	}
	for _, it := range md.items {
		other := o.Get(it.Code())
		if other == nil || !types.Equal(it, other) {
			return false
		}
	}
	return true
}

func (md *Metadata) String() string {
	rt := md.Get(types.CodeReftime)
	if rt == nil {
		return "metadata without reftime"
	}
	return fmt.Sprintf("metadata at %s", rt)
}
