// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scan holds the per-format knowledge the engine needs:
// message framing inside raw byte runs, end-of-message markers, and a
// registry of scanners that decode one message into metadata. The
// full GRIB/BUFR/ODIMH5 decoders live outside the engine and register
// themselves here; VM2 is simple enough to decode in-tree.
package scan

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// Span locates one message inside a byte run.
type Span struct {
	Offset uint64
	Size   uint64
}

// Scanner decodes a single message into metadata. The source is left
// unset; the caller attaches one.
type Scanner interface {
	Scan(data []byte) (*metadata.Metadata, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Scanner{}
)

// Register installs the scanner for a format, replacing any previous
// one.
func Register(format string, s Scanner) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[format] = s
}

// Get returns the scanner for a format.
func Get(format string) (Scanner, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if s, ok := registry[format]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no scanner registered for format %q", format)
}

func init() {
	Register("vm2", vm2Scanner{})
}

// NormaliseFormat maps a file extension or format spelling to the
// canonical format name.
func NormaliseFormat(name string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "grib", "grib1", "grib2":
		return "grib", nil
	case "bufr":
		return "bufr", nil
	case "h5", "hdf5", "odim", "odimh5":
		return "odimh5", nil
	case "vm2":
		return "vm2", nil
	default:
		return "", fmt.Errorf("unknown format %q", name)
	}
}

// FormatForFile guesses the format from a file name.
func FormatForFile(path string) (string, error) {
	return NormaliseFormat(filepath.Ext(path))
}

// EndMarker returns the end-of-message marker for formats that have
// one. The issue51 repair relies on it.
func EndMarker(format string) ([]byte, bool) {
	switch format {
	case "grib", "bufr":
		return []byte("7777"), true
	case "vm2":
		return []byte("\n"), true
	default:
		return nil, false
	}
}

// Messages frames the messages inside a raw byte run. Bytes between
// messages (padding, stray newlines) are skipped.
func Messages(format string, data []byte) ([]Span, error) {
	switch format {
	case "grib":
		return frameWMO(data, "GRIB")
	case "bufr":
		return frameWMO(data, "BUFR")
	case "vm2":
		return frameLines(data), nil
	case "odimh5":
		// HDF5 files carry one volume per file; the whole run is one
		// message
		if len(data) == 0 {
			return nil, nil
		}
		return []Span{{Offset: 0, Size: uint64(len(data))}}, nil
	default:
		return nil, fmt.Errorf("cannot frame messages of format %q", format)
	}
}

// frameWMO walks GRIB/BUFR style messages: a 4-byte magic, a length
// field, and a "7777" trailer.
func frameWMO(data []byte, magic string) ([]Span, error) {
	var spans []Span
	pos := 0
	for {
		idx := indexFrom(data, pos, magic)
		if idx < 0 {
			break
		}
		size, err := wmoMessageLength(data[idx:], magic)
		if err != nil {
			return nil, fmt.Errorf("at offset %d: %w", idx, err)
		}
		if idx+size > len(data) {
			return nil, fmt.Errorf("%s message at offset %d is %d bytes but only %d remain", magic, idx, size, len(data)-idx)
		}
		if string(data[idx+size-4:idx+size]) != "7777" {
			return nil, fmt.Errorf("%s message at offset %d misses the 7777 trailer", magic, idx)
		}
		spans = append(spans, Span{Offset: uint64(idx), Size: uint64(size)})
		pos = idx + size
	}
	return spans, nil
}

func wmoMessageLength(data []byte, magic string) (int, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("truncated %s header", magic)
	}
	if magic == "GRIB" {
		switch edition := data[7]; edition {
		case 1:
			return int(be24(data[4:])), nil
		case 2:
			if len(data) < 16 {
				return 0, fmt.Errorf("truncated GRIB2 header")
			}
			return int(binary.BigEndian.Uint64(data[8:])), nil
		default:
			return 0, fmt.Errorf("unsupported GRIB edition %d", edition)
		}
	}
	// BUFR: total length is octets 5-7 of section 0
	return int(be24(data[4:])), nil
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func indexFrom(data []byte, from int, needle string) int {
	if from >= len(data) {
		return -1
	}
	idx := strings.Index(string(data[from:]), needle)
	if idx < 0 {
		return -1
	}
	return from + idx
}

// frameLines frames newline-terminated records, newline included in
// the span.
func frameLines(data []byte) []Span {
	var spans []Span
	start := 0
	for i, c := range data {
		if c != '\n' {
			continue
		}
		if i > start {
			spans = append(spans, Span{Offset: uint64(start), Size: uint64(i - start + 1)})
		}
		start = i + 1
	}
	if start < len(data) {
		spans = append(spans, Span{Offset: uint64(start), Size: uint64(len(data) - start)})
	}
	return spans
}

// Data frames a byte run and decodes each message through the
// registered scanner.
func Data(format string, data []byte, f func(md *metadata.Metadata, span Span) (bool, error)) error {
	scanner, err := Get(format)
	if err != nil {
		return err
	}
	spans, err := Messages(format, data)
	if err != nil {
		return err
	}
	for _, span := range spans {
		md, err := scanner.Scan(data[span.Offset : span.Offset+span.Size])
		if err != nil {
			return fmt.Errorf("scanning message at offset %d: %w", span.Offset, err)
		}
		goOn, err := f(md, span)
		if err != nil || !goOn {
			return err
		}
	}
	return nil
}

// File scans a whole file, attaching blob sources relative to its
// directory.
func File(path string, f func(md *metadata.Metadata, data []byte) (bool, error)) error {
	format, err := FormatForFile(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Data(format, data, func(md *metadata.Metadata, span Span) (bool, error) {
		return f(md, data[span.Offset:span.Offset+span.Size])
	})
}
