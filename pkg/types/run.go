// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"strings"
)

const runStyleMinute uint8 = 1

// RunMinute is the model cycle, as minutes from midnight.
type RunMinute struct {
	Minute uint32
}

func (r RunMinute) Code() Code    { return CodeRun }
func (r RunMinute) Style() string { return "MINUTE" }

func (r RunMinute) EncodePayload(e *Encoder) {
	e.U8(runStyleMinute)
	e.Varint(uint64(r.Minute))
}

func (r RunMinute) String() string {
	return fmt.Sprintf("MINUTE(%02d:%02d)", r.Minute/60, r.Minute%60)
}

func (r RunMinute) Compare(o Item) int { return CompareItems(r, o) }

func (r RunMinute) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "run", "style": "MINUTE", "value": int(r.Minute),
	}
}

func decodeRun(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case runStyleMinute:
		return RunMinute{Minute: uint32(d.Varint())}, nil
	default:
		return nil, fmt.Errorf("run style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseRun parses "MINUTE(12:00)", "MINUTE(12)" or a bare hour "12".
func ParseRun(s string) (Item, error) {
	s = trim(s)
	inner := s
	if open := strings.IndexByte(s, '('); open >= 0 {
		style := trim(s[:open])
		if style != "MINUTE" {
			return nil, fmt.Errorf("run style %q: %w", style, ErrUnsupportedStyle)
		}
		if !endsWithParen(s) {
			return nil, fmt.Errorf("cannot parse run %q: %w", s, ErrFormat)
		}
		inner = trim(s[open+1 : len(s)-1])
	}
	if colon := strings.IndexByte(inner, ':'); colon >= 0 {
		ho, err := parseUint(inner[:colon], 32)
		if err != nil {
			return nil, err
		}
		mi, err := parseUint(inner[colon+1:], 32)
		if err != nil {
			return nil, err
		}
		return RunMinute{Minute: uint32(ho*60 + mi)}, nil
	}
	ho, err := parseUint(inner, 32)
	if err != nil {
		return nil, err
	}
	return RunMinute{Minute: uint32(ho * 60)}, nil
}
