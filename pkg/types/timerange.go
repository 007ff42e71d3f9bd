// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import "fmt"

const (
	timerangeStyleGRIB1   uint8 = 1
	timerangeStyleGRIB2   uint8 = 2
	timerangeStyleTimedef uint8 = 3
	timerangeStyleBUFR    uint8 = 4
)

// Timerange is the statistical period of a message.
type Timerange interface {
	Item
	Style() string
}

type TimerangeGRIB1 struct {
	Type uint8
	Unit uint8
	P1   int32
	P2   int32
}

func (t TimerangeGRIB1) Code() Code    { return CodeTimerange }
func (t TimerangeGRIB1) Style() string { return "GRIB1" }

func (t TimerangeGRIB1) EncodePayload(e *Encoder) {
	e.U8(timerangeStyleGRIB1)
	e.U8(t.Type)
	e.U8(t.Unit)
	e.SVarint(int64(t.P1))
	e.SVarint(int64(t.P2))
}

func (t TimerangeGRIB1) String() string {
	return fmt.Sprintf("GRIB1(%03d, %03d, %d, %d)", t.Type, t.Unit, t.P1, t.P2)
}

func (t TimerangeGRIB1) Compare(o Item) int { return CompareItems(t, o) }

func (t TimerangeGRIB1) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "timerange", "style": "GRIB1",
		"trange": int(t.Type), "unit": int(t.Unit), "p1": int(t.P1), "p2": int(t.P2),
	}
}

type TimerangeGRIB2 struct {
	Type uint8
	Unit uint8
	P1   int32
	P2   int32
}

func (t TimerangeGRIB2) Code() Code    { return CodeTimerange }
func (t TimerangeGRIB2) Style() string { return "GRIB2" }

func (t TimerangeGRIB2) EncodePayload(e *Encoder) {
	e.U8(timerangeStyleGRIB2)
	e.U8(t.Type)
	e.U8(t.Unit)
	e.SVarint(int64(t.P1))
	e.SVarint(int64(t.P2))
}

func (t TimerangeGRIB2) String() string {
	return fmt.Sprintf("GRIB2(%03d, %03d, %d, %d)", t.Type, t.Unit, t.P1, t.P2)
}

func (t TimerangeGRIB2) Compare(o Item) int { return CompareItems(t, o) }

func (t TimerangeGRIB2) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "timerange", "style": "GRIB2",
		"trange": int(t.Type), "unit": int(t.Unit), "p1": int(t.P1), "p2": int(t.P2),
	}
}

// TimerangeTimedef is the format-neutral statistical period: a forecast
// step plus an optional statistical processing over an interval.
type TimerangeTimedef struct {
	StepUnit uint8
	StepLen  uint32
	StatType uint8
	StatUnit uint8
	StatLen  uint32
}

func (t TimerangeTimedef) Code() Code    { return CodeTimerange }
func (t TimerangeTimedef) Style() string { return "Timedef" }

func (t TimerangeTimedef) EncodePayload(e *Encoder) {
	e.U8(timerangeStyleTimedef)
	e.U8(t.StepUnit)
	e.Varint(uint64(t.StepLen))
	e.U8(t.StatType)
	e.U8(t.StatUnit)
	e.Varint(uint64(t.StatLen))
}

func (t TimerangeTimedef) String() string {
	return fmt.Sprintf("Timedef(%d%s, %d, %d%s)",
		t.StepLen, timeUnitSuffix(t.StepUnit), t.StatType, t.StatLen, timeUnitSuffix(t.StatUnit))
}

func (t TimerangeTimedef) Compare(o Item) int { return CompareItems(t, o) }

func (t TimerangeTimedef) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "timerange", "style": "Timedef",
		"stepunit": int(t.StepUnit), "steplen": int(t.StepLen),
		"stattype": int(t.StatType), "statunit": int(t.StatUnit), "statlen": int(t.StatLen),
	}
}

type TimerangeBUFR struct {
	Unit  uint8
	Value uint32
}

func (t TimerangeBUFR) Code() Code    { return CodeTimerange }
func (t TimerangeBUFR) Style() string { return "BUFR" }

func (t TimerangeBUFR) EncodePayload(e *Encoder) {
	e.U8(timerangeStyleBUFR)
	e.U8(t.Unit)
	e.Varint(uint64(t.Value))
}

func (t TimerangeBUFR) String() string {
	return fmt.Sprintf("BUFR(%d, %d)", t.Unit, t.Value)
}

func (t TimerangeBUFR) Compare(o Item) int { return CompareItems(t, o) }

func (t TimerangeBUFR) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "timerange", "style": "BUFR",
		"unit": int(t.Unit), "value": int(t.Value),
	}
}

// GRIB time range units, the subset the text form abbreviates.
func timeUnitSuffix(unit uint8) string {
	switch unit {
	case 0:
		return "m"
	case 1:
		return "h"
	case 2:
		return "d"
	case 3:
		return "mo"
	case 4:
		return "y"
	case 13:
		return "s"
	default:
		return fmt.Sprintf("u%d", unit)
	}
}

func parseTimeUnitSuffix(s string) (value uint32, unit uint8, err error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, 0, fmt.Errorf("cannot parse timedef step %q: %w", s, ErrFormat)
	}
	v, err := parseUint(s[:i], 32)
	if err != nil {
		return 0, 0, err
	}
	switch s[i:] {
	case "m", "":
		unit = 0
	case "h":
		unit = 1
	case "d":
		unit = 2
	case "mo":
		unit = 3
	case "y":
		unit = 4
	case "s":
		unit = 13
	default:
		return 0, 0, fmt.Errorf("unknown time unit suffix %q: %w", s[i:], ErrFormat)
	}
	return uint32(v), unit, nil
}

func decodeTimerange(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case timerangeStyleGRIB1:
		return TimerangeGRIB1{Type: d.U8(), Unit: d.U8(), P1: int32(d.SVarint()), P2: int32(d.SVarint())}, nil
	case timerangeStyleGRIB2:
		return TimerangeGRIB2{Type: d.U8(), Unit: d.U8(), P1: int32(d.SVarint()), P2: int32(d.SVarint())}, nil
	case timerangeStyleTimedef:
		return TimerangeTimedef{
			StepUnit: d.U8(), StepLen: uint32(d.Varint()),
			StatType: d.U8(), StatUnit: d.U8(), StatLen: uint32(d.Varint()),
		}, nil
	case timerangeStyleBUFR:
		return TimerangeBUFR{Unit: d.U8(), Value: uint32(d.Varint())}, nil
	default:
		return nil, fmt.Errorf("timerange style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseTimerange parses forms like "GRIB1(0, 1, 0, 0)" or
// "Timedef(6h, 1, 3h)".
func ParseTimerange(s string) (Item, error) {
	style, args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1", "GRIB2":
		if err := wantArgs(style, args, 4); err != nil {
			return nil, err
		}
		ty, err := parseUint(args[0], 8)
		if err != nil {
			return nil, err
		}
		un, err := parseUint(args[1], 8)
		if err != nil {
			return nil, err
		}
		p1, err := parseInt(args[2])
		if err != nil {
			return nil, err
		}
		p2, err := parseInt(args[3])
		if err != nil {
			return nil, err
		}
		if style == "GRIB1" {
			return TimerangeGRIB1{Type: uint8(ty), Unit: uint8(un), P1: int32(p1), P2: int32(p2)}, nil
		}
		return TimerangeGRIB2{Type: uint8(ty), Unit: uint8(un), P1: int32(p1), P2: int32(p2)}, nil
	case "Timedef", "TIMEDEF":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		stepLen, stepUnit, err := parseTimeUnitSuffix(args[0])
		if err != nil {
			return nil, err
		}
		statType, err := parseUint(args[1], 8)
		if err != nil {
			return nil, err
		}
		statLen, statUnit, err := parseTimeUnitSuffix(args[2])
		if err != nil {
			return nil, err
		}
		return TimerangeTimedef{
			StepUnit: stepUnit, StepLen: stepLen,
			StatType: uint8(statType), StatUnit: statUnit, StatLen: statLen,
		}, nil
	case "BUFR":
		if err := wantArgs(style, args, 2); err != nil {
			return nil, err
		}
		un, err := parseUint(args[0], 8)
		if err != nil {
			return nil, err
		}
		va, err := parseUint(args[1], 32)
		if err != nil {
			return nil, err
		}
		return TimerangeBUFR{Unit: uint8(un), Value: uint32(va)}, nil
	default:
		return nil, fmt.Errorf("timerange style %q: %w", style, ErrUnsupportedStyle)
	}
}
