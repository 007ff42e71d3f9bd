// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package types implements the typed metadata values and their three
// canonical encodings: binary (type code + varint length envelope),
// single-line text, and a structured key/value form used by the JSON
// and YAML surfaces.
package types

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrFormat is wrapped by all malformed-input errors of the codec.
var ErrFormat = errors.New("format error")

// ErrUnsupportedStyle is returned when a style tag is recognized but
// not handled.
var ErrUnsupportedStyle = errors.New("unsupported style")

// Item is a typed metadata value.
//
// The binary envelope is code:u8 | length:varint | payload; the payload
// encoding is style-specific and compares lexicographically in the same
// order as Compare.
type Item interface {
	Code() Code
	// EncodePayload writes the payload without the envelope.
	EncodePayload(e *Encoder)
	// String renders the canonical single-line text form.
	String() string
	// Compare defines a total order over items of any code.
	Compare(o Item) int
	// Serialise renders the structured form.
	Serialise() map[string]interface{}
}

// PayloadBytes returns the encoded payload of an item.
func PayloadBytes(it Item) []byte {
	e := NewEncoder()
	it.EncodePayload(e)
	return e.Bytes()
}

// CompareItems orders first by code, then by encoded payload. All item
// Compare implementations delegate here, which keeps the ordering total
// and stable across encodings.
func CompareItems(a, b Item) int {
	if c := int(a.Code()) - int(b.Code()); c != 0 {
		return c
	}
	return bytes.Compare(PayloadBytes(a), PayloadBytes(b))
}

// Equal reports whether two items have the same code and payload.
func Equal(a, b Item) bool {
	if a == nil || b == nil {
		return a == b
	}
	return CompareItems(a, b) == 0
}

// Encode writes the full binary envelope of an item.
func Encode(e *Encoder, it Item) {
	p := NewEncoder()
	it.EncodePayload(p)
	e.U8(uint8(it.Code()))
	e.Varint(uint64(p.Len()))
	e.Raw(p.Bytes())
}

// EncodeItem returns the full binary envelope of an item.
func EncodeItem(it Item) []byte {
	e := NewEncoder()
	Encode(e, it)
	return e.Bytes()
}

// Decode reads one enveloped item. Items with unrecognized codes are
// returned as *Unknown so that re-encoding preserves them verbatim.
func Decode(d *Decoder) (Item, error) {
	code := Code(d.U8())
	size := d.Varint()
	if d.Err != nil {
		return nil, d.Err
	}
	if size > uint64(d.Remaining()) {
		return nil, fmt.Errorf("item %s: %w: payload of %d bytes but only %d available", code, ErrFormat, size, d.Remaining())
	}
	payload := d.RawN(int(size))
	return DecodePayload(code, payload)
}

// DecodeItem decodes one enveloped item from a byte slice.
func DecodeItem(b []byte) (Item, error) {
	return Decode(NewDecoder(b))
}

// DecodePayload decodes the payload of a known envelope.
func DecodePayload(code Code, payload []byte) (Item, error) {
	d := NewDecoder(payload)
	var it Item
	var err error
	switch code {
	case CodeReftime:
		it, err = decodeReftime(d)
	case CodeOrigin:
		it, err = decodeOrigin(d)
	case CodeProduct:
		it, err = decodeProduct(d)
	case CodeLevel:
		it, err = decodeLevel(d)
	case CodeTimerange:
		it, err = decodeTimerange(d)
	case CodeArea:
		it, err = decodeArea(d)
	case CodeProddef:
		it, err = decodeProddef(d)
	case CodeRun:
		it, err = decodeRun(d)
	case CodeTask:
		it, err = decodeTask(d)
	case CodeQuantity:
		it, err = decodeQuantity(d)
	case CodeValue:
		it, err = decodeValue(d)
	case CodeSource:
		it, err = decodeSource(d)
	case CodeNote:
		it, err = decodeNote(d)
	case CodeAssignedDataset:
		it, err = decodeAssignedDataset(d)
	default:
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return &Unknown{ItemCode: code, Data: cp}, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, fmt.Errorf("item %s: %w", code, d.Err)
	}
	return it, nil
}

// ParseItem parses the canonical text form of a value of the given
// dimension.
func ParseItem(code Code, s string) (Item, error) {
	switch code {
	case CodeReftime:
		return ParseReftime(s)
	case CodeOrigin:
		return ParseOrigin(s)
	case CodeProduct:
		return ParseProduct(s)
	case CodeLevel:
		return ParseLevel(s)
	case CodeTimerange:
		return ParseTimerange(s)
	case CodeArea:
		return ParseArea(s)
	case CodeProddef:
		return ParseProddef(s)
	case CodeRun:
		return ParseRun(s)
	case CodeTask:
		return Task{Value: s}, nil
	case CodeQuantity:
		return ParseQuantity(s)
	case CodeValue:
		return ParseValueItem(s)
	case CodeSource:
		return ParseSource(s)
	default:
		return nil, fmt.Errorf("cannot parse a %s from text: %w", code, ErrFormat)
	}
}

// Unknown preserves an item whose type code this build does not know,
// so that round-tripping a record through an older reader does not
// destroy it.
type Unknown struct {
	ItemCode Code
	Data     []byte
}

func (u *Unknown) Code() Code { return u.ItemCode }

func (u *Unknown) EncodePayload(e *Encoder) { e.Raw(u.Data) }

func (u *Unknown) String() string {
	return fmt.Sprintf("unknown(%d, %d bytes)", uint8(u.ItemCode), len(u.Data))
}

func (u *Unknown) Compare(o Item) int { return CompareItems(u, o) }

func (u *Unknown) Serialise() map[string]interface{} {
	return map[string]interface{}{"type": u.ItemCode.String(), "unknown": true}
}

// splitArgs splits "GRIB1(200, 0, 2)" into style "GRIB1" and args
// {"200","0","2"}. Used by the per-dimension text parsers.
func splitArgs(s string) (style string, args []string, err error) {
	open := -1
	for i, c := range s {
		if c == '(' {
			open = i
			break
		}
	}
	if open < 0 || !endsWithParen(s) {
		return "", nil, fmt.Errorf("cannot parse %q: %w: expected STYLE(args)", s, ErrFormat)
	}
	style = trim(s[:open])
	inner := trim(s[open+1 : len(s)-1])
	if inner == "" {
		return style, nil, nil
	}
	for _, a := range splitTop(inner, ',') {
		args = append(args, trim(a))
	}
	return style, args, nil
}

func endsWithParen(s string) bool {
	return len(s) > 0 && s[len(s)-1] == ')'
}

func trim(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// splitTop splits on sep outside of quotes and parentheses.
func splitTop(s string, sep byte) []string {
	var out []string
	depth := 0
	inq := false
	last := 0
	for i := 0; i < len(s); i++ {
		switch {
		case inq:
			if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
				inq = false
			}
		case s[i] == '"':
			inq = true
		case s[i] == '(':
			depth++
		case s[i] == ')':
			depth--
		case s[i] == sep && depth == 0:
			out = append(out, s[last:i])
			last = i + 1
		}
	}
	out = append(out, s[last:])
	return out
}
