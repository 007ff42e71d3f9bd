// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import "fmt"

const (
	originStyleGRIB1  uint8 = 1
	originStyleGRIB2  uint8 = 2
	originStyleBUFR   uint8 = 3
	originStyleODIMH5 uint8 = 4
)

// Origin identifies the producing centre of a message.
type Origin interface {
	Item
	Style() string
}

type OriginGRIB1 struct {
	Centre    uint8
	Subcentre uint8
	Process   uint8
}

func (o OriginGRIB1) Code() Code    { return CodeOrigin }
func (o OriginGRIB1) Style() string { return "GRIB1" }

func (o OriginGRIB1) EncodePayload(e *Encoder) {
	e.U8(originStyleGRIB1)
	e.U8(o.Centre)
	e.U8(o.Subcentre)
	e.U8(o.Process)
}

func (o OriginGRIB1) String() string {
	return fmt.Sprintf("GRIB1(%03d, %03d, %03d)", o.Centre, o.Subcentre, o.Process)
}

func (o OriginGRIB1) Compare(other Item) int { return CompareItems(o, other) }

func (o OriginGRIB1) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "origin", "style": "GRIB1",
		"centre": int(o.Centre), "subcentre": int(o.Subcentre), "process": int(o.Process),
	}
}

type OriginGRIB2 struct {
	Centre       uint16
	Subcentre    uint16
	ProcessType  uint8
	BackgroundID uint8
	ProcessID    uint8
}

func (o OriginGRIB2) Code() Code    { return CodeOrigin }
func (o OriginGRIB2) Style() string { return "GRIB2" }

func (o OriginGRIB2) EncodePayload(e *Encoder) {
	e.U8(originStyleGRIB2)
	e.U16(o.Centre)
	e.U16(o.Subcentre)
	e.U8(o.ProcessType)
	e.U8(o.BackgroundID)
	e.U8(o.ProcessID)
}

func (o OriginGRIB2) String() string {
	return fmt.Sprintf("GRIB2(%05d, %05d, %03d, %03d, %03d)",
		o.Centre, o.Subcentre, o.ProcessType, o.BackgroundID, o.ProcessID)
}

func (o OriginGRIB2) Compare(other Item) int { return CompareItems(o, other) }

func (o OriginGRIB2) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "origin", "style": "GRIB2",
		"centre": int(o.Centre), "subcentre": int(o.Subcentre),
		"processtype": int(o.ProcessType), "bgprocessid": int(o.BackgroundID), "processid": int(o.ProcessID),
	}
}

type OriginBUFR struct {
	Centre    uint8
	Subcentre uint8
}

func (o OriginBUFR) Code() Code    { return CodeOrigin }
func (o OriginBUFR) Style() string { return "BUFR" }

func (o OriginBUFR) EncodePayload(e *Encoder) {
	e.U8(originStyleBUFR)
	e.U8(o.Centre)
	e.U8(o.Subcentre)
}

func (o OriginBUFR) String() string {
	return fmt.Sprintf("BUFR(%03d, %03d)", o.Centre, o.Subcentre)
}

func (o OriginBUFR) Compare(other Item) int { return CompareItems(o, other) }

func (o OriginBUFR) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "origin", "style": "BUFR",
		"centre": int(o.Centre), "subcentre": int(o.Subcentre),
	}
}

type OriginODIMH5 struct {
	WMO string
	RAD string
	PLC string
}

func (o OriginODIMH5) Code() Code    { return CodeOrigin }
func (o OriginODIMH5) Style() string { return "ODIMH5" }

func (o OriginODIMH5) EncodePayload(e *Encoder) {
	e.U8(originStyleODIMH5)
	e.String(o.WMO)
	e.String(o.RAD)
	e.String(o.PLC)
}

func (o OriginODIMH5) String() string {
	return fmt.Sprintf("ODIMH5(%s, %s, %s)", o.WMO, o.RAD, o.PLC)
}

func (o OriginODIMH5) Compare(other Item) int { return CompareItems(o, other) }

func (o OriginODIMH5) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "origin", "style": "ODIMH5",
		"wmo": o.WMO, "rad": o.RAD, "plc": o.PLC,
	}
}

func decodeOrigin(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case originStyleGRIB1:
		return OriginGRIB1{Centre: d.U8(), Subcentre: d.U8(), Process: d.U8()}, nil
	case originStyleGRIB2:
		return OriginGRIB2{
			Centre: d.U16(), Subcentre: d.U16(),
			ProcessType: d.U8(), BackgroundID: d.U8(), ProcessID: d.U8(),
		}, nil
	case originStyleBUFR:
		return OriginBUFR{Centre: d.U8(), Subcentre: d.U8()}, nil
	case originStyleODIMH5:
		return OriginODIMH5{WMO: d.String(), RAD: d.String(), PLC: d.String()}, nil
	default:
		return nil, fmt.Errorf("origin style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseOrigin parses forms like "GRIB1(200, 0, 101)".
func ParseOrigin(s string) (Item, error) {
	style, args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		ce, err := parseUint(args[0], 8)
		if err != nil {
			return nil, err
		}
		sc, err := parseUint(args[1], 8)
		if err != nil {
			return nil, err
		}
		pr, err := parseUint(args[2], 8)
		if err != nil {
			return nil, err
		}
		return OriginGRIB1{Centre: uint8(ce), Subcentre: uint8(sc), Process: uint8(pr)}, nil
	case "GRIB2":
		if err := wantArgs(style, args, 5); err != nil {
			return nil, err
		}
		var vals [5]uint64
		bits := []int{16, 16, 8, 8, 8}
		for i, a := range args {
			v, err := parseUint(a, bits[i])
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return OriginGRIB2{
			Centre: uint16(vals[0]), Subcentre: uint16(vals[1]),
			ProcessType: uint8(vals[2]), BackgroundID: uint8(vals[3]), ProcessID: uint8(vals[4]),
		}, nil
	case "BUFR":
		if err := wantArgs(style, args, 2); err != nil {
			return nil, err
		}
		ce, err := parseUint(args[0], 8)
		if err != nil {
			return nil, err
		}
		sc, err := parseUint(args[1], 8)
		if err != nil {
			return nil, err
		}
		return OriginBUFR{Centre: uint8(ce), Subcentre: uint8(sc)}, nil
	case "ODIMH5":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		return OriginODIMH5{WMO: args[0], RAD: args[1], PLC: args[2]}, nil
	default:
		return nil, fmt.Errorf("origin style %q: %w", style, ErrUnsupportedStyle)
	}
}
