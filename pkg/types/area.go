// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"strings"
)

const (
	areaStyleGRIB   uint8 = 1
	areaStyleODIMH5 uint8 = 2
	areaStyleVM2    uint8 = 3
)

// Area describes the geographic coverage of a message.
type Area interface {
	Item
	Style() string
}

type AreaGRIB struct {
	Values ValueBag
}

func (a AreaGRIB) Code() Code    { return CodeArea }
func (a AreaGRIB) Style() string { return "GRIB" }

func (a AreaGRIB) EncodePayload(e *Encoder) {
	e.U8(areaStyleGRIB)
	a.Values.Encode(e)
}

func (a AreaGRIB) String() string {
	return fmt.Sprintf("GRIB(%s)", a.Values)
}

func (a AreaGRIB) Compare(o Item) int { return CompareItems(a, o) }

func (a AreaGRIB) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "area", "style": "GRIB", "value": a.Values.Serialise(),
	}
}

type AreaODIMH5 struct {
	Values ValueBag
}

func (a AreaODIMH5) Code() Code    { return CodeArea }
func (a AreaODIMH5) Style() string { return "ODIMH5" }

func (a AreaODIMH5) EncodePayload(e *Encoder) {
	e.U8(areaStyleODIMH5)
	a.Values.Encode(e)
}

func (a AreaODIMH5) String() string {
	return fmt.Sprintf("ODIMH5(%s)", a.Values)
}

func (a AreaODIMH5) Compare(o Item) int { return CompareItems(a, o) }

func (a AreaODIMH5) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "area", "style": "ODIMH5", "value": a.Values.Serialise(),
	}
}

// AreaVM2 identifies a VM2 observation station.
type AreaVM2 struct {
	Station uint32
}

func (a AreaVM2) Code() Code    { return CodeArea }
func (a AreaVM2) Style() string { return "VM2" }

func (a AreaVM2) EncodePayload(e *Encoder) {
	e.U8(areaStyleVM2)
	e.Varint(uint64(a.Station))
}

func (a AreaVM2) String() string {
	return fmt.Sprintf("VM2(%d)", a.Station)
}

func (a AreaVM2) Compare(o Item) int { return CompareItems(a, o) }

func (a AreaVM2) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "area", "style": "VM2", "id": int(a.Station),
	}
}

func decodeArea(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case areaStyleGRIB:
		return AreaGRIB{Values: DecodeValueBag(d)}, nil
	case areaStyleODIMH5:
		return AreaODIMH5{Values: DecodeValueBag(d)}, nil
	case areaStyleVM2:
		return AreaVM2{Station: uint32(d.Varint())}, nil
	default:
		return nil, fmt.Errorf("area style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseArea parses "GRIB(lat=45, lon=11)", "ODIMH5(...)" or "VM2(1)".
func ParseArea(s string) (Item, error) {
	s = trim(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !endsWithParen(s) {
		return nil, fmt.Errorf("cannot parse area %q: %w: expected STYLE(args)", s, ErrFormat)
	}
	style := trim(s[:open])
	inner := s[open+1 : len(s)-1]
	switch style {
	case "GRIB":
		bag, err := ParseValueBag(inner)
		if err != nil {
			return nil, err
		}
		return AreaGRIB{Values: bag}, nil
	case "ODIMH5":
		bag, err := ParseValueBag(inner)
		if err != nil {
			return nil, err
		}
		return AreaODIMH5{Values: bag}, nil
	case "VM2":
		id, err := parseUint(inner, 32)
		if err != nil {
			return nil, err
		}
		return AreaVM2{Station: uint32(id)}, nil
	default:
		return nil, fmt.Errorf("area style %q: %w", style, ErrUnsupportedStyle)
	}
}
