// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"math"
)

const (
	levelStyleGRIB1  uint8 = 1
	levelStyleGRIB2S uint8 = 2
	levelStyleGRIB2D uint8 = 3
	levelStyleODIMH5 uint8 = 4
)

// Level is the vertical coordinate of a message.
type Level interface {
	Item
	Style() string
}

type LevelGRIB1 struct {
	Type uint8
	L1   uint16
	L2   uint16
}

func (l LevelGRIB1) Code() Code    { return CodeLevel }
func (l LevelGRIB1) Style() string { return "GRIB1" }

func (l LevelGRIB1) EncodePayload(e *Encoder) {
	e.U8(levelStyleGRIB1)
	e.U8(l.Type)
	e.U16(l.L1)
	e.U16(l.L2)
}

func (l LevelGRIB1) String() string {
	return fmt.Sprintf("GRIB1(%03d, %05d, %05d)", l.Type, l.L1, l.L2)
}

func (l LevelGRIB1) Compare(o Item) int { return CompareItems(l, o) }

func (l LevelGRIB1) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "level", "style": "GRIB1",
		"leveltype": int(l.Type), "l1": int(l.L1), "l2": int(l.L2),
	}
}

// LevelGRIB2S is a GRIB2 single-surface level.
type LevelGRIB2S struct {
	Type  uint8
	Scale uint8
	Value uint32
}

func (l LevelGRIB2S) Code() Code    { return CodeLevel }
func (l LevelGRIB2S) Style() string { return "GRIB2S" }

func (l LevelGRIB2S) EncodePayload(e *Encoder) {
	e.U8(levelStyleGRIB2S)
	e.U8(l.Type)
	e.U8(l.Scale)
	e.U32(l.Value)
}

func (l LevelGRIB2S) String() string {
	return fmt.Sprintf("GRIB2S(%03d, %03d, %010d)", l.Type, l.Scale, l.Value)
}

func (l LevelGRIB2S) Compare(o Item) int { return CompareItems(l, o) }

func (l LevelGRIB2S) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "level", "style": "GRIB2S",
		"leveltype": int(l.Type), "scale": int(l.Scale), "value": int(l.Value),
	}
}

// LevelGRIB2D is a GRIB2 layer between two surfaces.
type LevelGRIB2D struct {
	Type1  uint8
	Scale1 uint8
	Value1 uint32
	Type2  uint8
	Scale2 uint8
	Value2 uint32
}

func (l LevelGRIB2D) Code() Code    { return CodeLevel }
func (l LevelGRIB2D) Style() string { return "GRIB2D" }

func (l LevelGRIB2D) EncodePayload(e *Encoder) {
	e.U8(levelStyleGRIB2D)
	e.U8(l.Type1)
	e.U8(l.Scale1)
	e.U32(l.Value1)
	e.U8(l.Type2)
	e.U8(l.Scale2)
	e.U32(l.Value2)
}

func (l LevelGRIB2D) String() string {
	return fmt.Sprintf("GRIB2D(%03d, %03d, %010d, %03d, %03d, %010d)",
		l.Type1, l.Scale1, l.Value1, l.Type2, l.Scale2, l.Value2)
}

func (l LevelGRIB2D) Compare(o Item) int { return CompareItems(l, o) }

func (l LevelGRIB2D) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "level", "style": "GRIB2D",
		"l1": map[string]interface{}{"leveltype": int(l.Type1), "scale": int(l.Scale1), "value": int(l.Value1)},
		"l2": map[string]interface{}{"leveltype": int(l.Type2), "scale": int(l.Scale2), "value": int(l.Value2)},
	}
}

type LevelODIMH5 struct {
	Min float64
	Max float64
}

func (l LevelODIMH5) Code() Code    { return CodeLevel }
func (l LevelODIMH5) Style() string { return "ODIMH5" }

func (l LevelODIMH5) EncodePayload(e *Encoder) {
	e.U8(levelStyleODIMH5)
	e.U64(math.Float64bits(l.Min))
	e.U64(math.Float64bits(l.Max))
}

func (l LevelODIMH5) String() string {
	return fmt.Sprintf("ODIMH5(%g, %g)", l.Min, l.Max)
}

func (l LevelODIMH5) Compare(o Item) int { return CompareItems(l, o) }

func (l LevelODIMH5) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "level", "style": "ODIMH5", "min": l.Min, "max": l.Max,
	}
}

func decodeLevel(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case levelStyleGRIB1:
		return LevelGRIB1{Type: d.U8(), L1: d.U16(), L2: d.U16()}, nil
	case levelStyleGRIB2S:
		return LevelGRIB2S{Type: d.U8(), Scale: d.U8(), Value: d.U32()}, nil
	case levelStyleGRIB2D:
		return LevelGRIB2D{
			Type1: d.U8(), Scale1: d.U8(), Value1: d.U32(),
			Type2: d.U8(), Scale2: d.U8(), Value2: d.U32(),
		}, nil
	case levelStyleODIMH5:
		return LevelODIMH5{Min: math.Float64frombits(d.U64()), Max: math.Float64frombits(d.U64())}, nil
	default:
		return nil, fmt.Errorf("level style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseLevel parses forms like "GRIB1(105, 2, 0)".
func ParseLevel(s string) (Item, error) {
	style, args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		ty, err := parseUint(args[0], 8)
		if err != nil {
			return nil, err
		}
		l1, err := parseUint(args[1], 16)
		if err != nil {
			return nil, err
		}
		l2, err := parseUint(args[2], 16)
		if err != nil {
			return nil, err
		}
		return LevelGRIB1{Type: uint8(ty), L1: uint16(l1), L2: uint16(l2)}, nil
	case "GRIB2S":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		ty, err := parseUint(args[0], 8)
		if err != nil {
			return nil, err
		}
		sc, err := parseUint(args[1], 8)
		if err != nil {
			return nil, err
		}
		va, err := parseUint(args[2], 32)
		if err != nil {
			return nil, err
		}
		return LevelGRIB2S{Type: uint8(ty), Scale: uint8(sc), Value: uint32(va)}, nil
	case "GRIB2D":
		if err := wantArgs(style, args, 6); err != nil {
			return nil, err
		}
		var vals [6]uint64
		bits := []int{8, 8, 32, 8, 8, 32}
		for i, a := range args {
			v, err := parseUint(a, bits[i])
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return LevelGRIB2D{
			Type1: uint8(vals[0]), Scale1: uint8(vals[1]), Value1: uint32(vals[2]),
			Type2: uint8(vals[3]), Scale2: uint8(vals[4]), Value2: uint32(vals[5]),
		}, nil
	case "ODIMH5":
		if err := wantArgs(style, args, 2); err != nil {
			return nil, err
		}
		min, err := parseFloat(args[0])
		if err != nil {
			return nil, err
		}
		max, err := parseFloat(args[1])
		if err != nil {
			return nil, err
		}
		return LevelODIMH5{Min: min, Max: max}, nil
	default:
		return nil, fmt.Errorf("level style %q: %w", style, ErrUnsupportedStyle)
	}
}
