// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scantest provides synthetic GRIB and BUFR messages for the
// test suites: correctly framed for the real message walker, with the
// metadata embedded in the body so the fixture scanners can decode it
// back.
package scantest

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

var registerOnce sync.Once

// RegisterScanners installs fixture scanners for grib and bufr.
func RegisterScanners() {
	registerOnce.Do(func() {
		scan.Register("grib", fixtureScanner{headerLen: 8})
		scan.Register("bufr", fixtureScanner{headerLen: 17})
	})
}

// GRIB builds a framed GRIB1 message embedding md.
func GRIB(md *metadata.Metadata) []byte {
	body := encodeBody(md)
	total := 8 + len(body) + 4
	out := make([]byte, 0, total)
	out = append(out, 'G', 'R', 'I', 'B')
	out = append(out, byte(total>>16), byte(total>>8), byte(total))
	out = append(out, 1) // edition
	out = append(out, body...)
	out = append(out, '7', '7', '7', '7')
	return out
}

// BUFR builds a framed BUFR edition 4 message embedding md, with the
// given update sequence number at its section 1 octet.
func BUFR(md *metadata.Metadata, usn uint8) []byte {
	body := encodeBody(md)
	total := 17 + len(body) + 4
	out := make([]byte, 0, total)
	out = append(out, 'B', 'U', 'F', 'R')
	out = append(out, byte(total>>16), byte(total>>8), byte(total))
	out = append(out, 4) // edition
	sec1 := make([]byte, 9)
	sec1[8] = usn
	out = append(out, sec1...)
	out = append(out, body...)
	out = append(out, '7', '7', '7', '7')
	return out
}

// Message builds a fixture message for the given format.
func Message(format string, md *metadata.Metadata) []byte {
	switch format {
	case "grib":
		return GRIB(md)
	case "bufr":
		return BUFR(md, 0)
	default:
		panic(fmt.Sprintf("scantest cannot build %q messages", format))
	}
}

func encodeBody(md *metadata.Metadata) []byte {
	clean := md.Clone()
	clean.SetSource(nil)
	var buf bytes.Buffer
	if err := clean.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fixtureScanner struct {
	headerLen int
}

func (s fixtureScanner) Scan(data []byte) (*metadata.Metadata, error) {
	if len(data) < s.headerLen+4 {
		return nil, fmt.Errorf("fixture message of %d bytes is too short: %w", len(data), types.ErrFormat)
	}
	body := data[s.headerLen : len(data)-4]
	md, err := metadata.ReadOne(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, fmt.Errorf("fixture message carries no metadata: %w", types.ErrFormat)
	}
	return md, nil
}
