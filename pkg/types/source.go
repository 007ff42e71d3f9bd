// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	sourceStyleBlob   uint8 = 1
	sourceStyleURL    uint8 = 2
	sourceStyleInline uint8 = 3
)

// Source tells how to reach the bytes of a message.
type Source interface {
	Item
	Style() string
	// Format is the data format of the message ("grib", "bufr", ...).
	Format() string
}

// SourceBlob points into a segment file: Basedir/Relpath at Offset for
// Size bytes. Basedir is empty when the path is relative to the
// metadata stream that carried the record.
type SourceBlob struct {
	Fmt     string
	Basedir string
	Relpath string
	Offset  uint64
	Size    uint64
}

func (s SourceBlob) Code() Code     { return CodeSource }
func (s SourceBlob) Style() string  { return "BLOB" }
func (s SourceBlob) Format() string { return s.Fmt }

func (s SourceBlob) EncodePayload(e *Encoder) {
	e.U8(sourceStyleBlob)
	e.String(s.Fmt)
	e.String(s.Basedir)
	e.String(s.Relpath)
	e.Varint(s.Offset)
	e.Varint(s.Size)
}

func (s SourceBlob) String() string {
	return fmt.Sprintf("BLOB(%s,%s,%s:%d+%d)", s.Fmt, s.Basedir, s.Relpath, s.Offset, s.Size)
}

func (s SourceBlob) Compare(o Item) int { return CompareItems(s, o) }

func (s SourceBlob) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "source", "style": "BLOB", "format": s.Fmt,
		"basedir": s.Basedir, "file": s.Relpath,
		"offset": int(s.Offset), "size": int(s.Size),
	}
}

// AbsolutePath resolves basedir+relpath.
func (s SourceBlob) AbsolutePath() string {
	if s.Basedir == "" {
		return s.Relpath
	}
	return filepath.Join(s.Basedir, s.Relpath)
}

type SourceURL struct {
	Fmt string
	URL string
}

func (s SourceURL) Code() Code     { return CodeSource }
func (s SourceURL) Style() string  { return "URL" }
func (s SourceURL) Format() string { return s.Fmt }

func (s SourceURL) EncodePayload(e *Encoder) {
	e.U8(sourceStyleURL)
	e.String(s.Fmt)
	e.String(s.URL)
}

func (s SourceURL) String() string {
	return fmt.Sprintf("URL(%s,%s)", s.Fmt, s.URL)
}

func (s SourceURL) Compare(o Item) int { return CompareItems(s, o) }

func (s SourceURL) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "source", "style": "URL", "format": s.Fmt, "url": s.URL,
	}
}

// SourceInline marks the message bytes as embedded right after the
// metadata record in the carrying stream.
type SourceInline struct {
	Fmt  string
	Size uint64
}

func (s SourceInline) Code() Code     { return CodeSource }
func (s SourceInline) Style() string  { return "INLINE" }
func (s SourceInline) Format() string { return s.Fmt }

func (s SourceInline) EncodePayload(e *Encoder) {
	e.U8(sourceStyleInline)
	e.String(s.Fmt)
	e.Varint(s.Size)
}

func (s SourceInline) String() string {
	return fmt.Sprintf("INLINE(%s,%d)", s.Fmt, s.Size)
}

func (s SourceInline) Compare(o Item) int { return CompareItems(s, o) }

func (s SourceInline) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "source", "style": "INLINE", "format": s.Fmt, "size": int(s.Size),
	}
}

func decodeSource(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case sourceStyleBlob:
		return SourceBlob{
			Fmt: d.String(), Basedir: d.String(), Relpath: d.String(),
			Offset: d.Varint(), Size: d.Varint(),
		}, nil
	case sourceStyleURL:
		return SourceURL{Fmt: d.String(), URL: d.String()}, nil
	case sourceStyleInline:
		return SourceInline{Fmt: d.String(), Size: d.Varint()}, nil
	default:
		return nil, fmt.Errorf("source style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseSource parses "BLOB(grib,path:offset+size)", "URL(fmt,url)" or
// "INLINE(fmt,size)".
func ParseSource(s string) (Item, error) {
	style, args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}
	switch style {
	case "BLOB":
		// two args is the historical form without a basedir
		if len(args) != 2 && len(args) != 3 {
			return nil, fmt.Errorf("BLOB wants 2 or 3 arguments, got %d: %w", len(args), ErrFormat)
		}
		basedir := ""
		loc := args[1]
		if len(args) == 3 {
			basedir = args[1]
			loc = args[2]
		}
		colon := strings.LastIndexByte(loc, ':')
		plus := strings.LastIndexByte(loc, '+')
		if colon < 0 || plus < colon {
			return nil, fmt.Errorf("cannot parse blob location %q: %w", loc, ErrFormat)
		}
		offset, err := parseUint(loc[colon+1:plus], 64)
		if err != nil {
			return nil, err
		}
		size, err := parseUint(loc[plus+1:], 64)
		if err != nil {
			return nil, err
		}
		return SourceBlob{Fmt: args[0], Basedir: basedir, Relpath: loc[:colon], Offset: offset, Size: size}, nil
	case "URL":
		if err := wantArgs(style, args, 2); err != nil {
			return nil, err
		}
		return SourceURL{Fmt: args[0], URL: args[1]}, nil
	case "INLINE":
		if err := wantArgs(style, args, 2); err != nil {
			return nil, err
		}
		size, err := parseUint(args[1], 64)
		if err != nil {
			return nil, err
		}
		return SourceInline{Fmt: args[0], Size: size}, nil
	default:
		return nil, fmt.Errorf("source style %q: %w", style, ErrUnsupportedStyle)
	}
}
