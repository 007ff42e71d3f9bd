// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import "fmt"

const (
	productStyleGRIB1  uint8 = 1
	productStyleGRIB2  uint8 = 2
	productStyleBUFR   uint8 = 3
	productStyleODIMH5 uint8 = 4
	productStyleVM2    uint8 = 5
)

// Product identifies the variable or parameter of a message.
type Product interface {
	Item
	Style() string
}

type ProductGRIB1 struct {
	Origin  uint8
	Table   uint8
	Product uint8
}

func (p ProductGRIB1) Code() Code    { return CodeProduct }
func (p ProductGRIB1) Style() string { return "GRIB1" }

func (p ProductGRIB1) EncodePayload(e *Encoder) {
	e.U8(productStyleGRIB1)
	e.U8(p.Origin)
	e.U8(p.Table)
	e.U8(p.Product)
}

func (p ProductGRIB1) String() string {
	return fmt.Sprintf("GRIB1(%03d, %03d, %03d)", p.Origin, p.Table, p.Product)
}

func (p ProductGRIB1) Compare(o Item) int { return CompareItems(p, o) }

func (p ProductGRIB1) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "product", "style": "GRIB1",
		"origin": int(p.Origin), "table": int(p.Table), "product": int(p.Product),
	}
}

type ProductGRIB2 struct {
	Centre     uint16
	Discipline uint8
	Category   uint8
	Number     uint8
}

func (p ProductGRIB2) Code() Code    { return CodeProduct }
func (p ProductGRIB2) Style() string { return "GRIB2" }

func (p ProductGRIB2) EncodePayload(e *Encoder) {
	e.U8(productStyleGRIB2)
	e.U16(p.Centre)
	e.U8(p.Discipline)
	e.U8(p.Category)
	e.U8(p.Number)
}

func (p ProductGRIB2) String() string {
	return fmt.Sprintf("GRIB2(%05d, %03d, %03d, %03d)", p.Centre, p.Discipline, p.Category, p.Number)
}

func (p ProductGRIB2) Compare(o Item) int { return CompareItems(p, o) }

func (p ProductGRIB2) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "product", "style": "GRIB2",
		"centre": int(p.Centre), "discipline": int(p.Discipline),
		"category": int(p.Category), "number": int(p.Number),
	}
}

type ProductBUFR struct {
	Type         uint8
	Subtype      uint8
	LocalSubtype uint8
}

func (p ProductBUFR) Code() Code    { return CodeProduct }
func (p ProductBUFR) Style() string { return "BUFR" }

func (p ProductBUFR) EncodePayload(e *Encoder) {
	e.U8(productStyleBUFR)
	e.U8(p.Type)
	e.U8(p.Subtype)
	e.U8(p.LocalSubtype)
}

func (p ProductBUFR) String() string {
	return fmt.Sprintf("BUFR(%03d, %03d, %03d)", p.Type, p.Subtype, p.LocalSubtype)
}

func (p ProductBUFR) Compare(o Item) int { return CompareItems(p, o) }

func (p ProductBUFR) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "product", "style": "BUFR",
		"basetype": int(p.Type), "subtype": int(p.Subtype), "localsubtype": int(p.LocalSubtype),
	}
}

type ProductODIMH5 struct {
	Object  string
	Product string
}

func (p ProductODIMH5) Code() Code    { return CodeProduct }
func (p ProductODIMH5) Style() string { return "ODIMH5" }

func (p ProductODIMH5) EncodePayload(e *Encoder) {
	e.U8(productStyleODIMH5)
	e.String(p.Object)
	e.String(p.Product)
}

func (p ProductODIMH5) String() string {
	return fmt.Sprintf("ODIMH5(%s, %s)", p.Object, p.Product)
}

func (p ProductODIMH5) Compare(o Item) int { return CompareItems(p, o) }

func (p ProductODIMH5) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "product", "style": "ODIMH5",
		"object": p.Object, "product": p.Product,
	}
}

type ProductVM2 struct {
	VariableID uint32
}

func (p ProductVM2) Code() Code    { return CodeProduct }
func (p ProductVM2) Style() string { return "VM2" }

func (p ProductVM2) EncodePayload(e *Encoder) {
	e.U8(productStyleVM2)
	e.U32(p.VariableID)
}

func (p ProductVM2) String() string {
	return fmt.Sprintf("VM2(%d)", p.VariableID)
}

func (p ProductVM2) Compare(o Item) int { return CompareItems(p, o) }

func (p ProductVM2) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "product", "style": "VM2", "id": int(p.VariableID),
	}
}

func decodeProduct(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case productStyleGRIB1:
		return ProductGRIB1{Origin: d.U8(), Table: d.U8(), Product: d.U8()}, nil
	case productStyleGRIB2:
		return ProductGRIB2{Centre: d.U16(), Discipline: d.U8(), Category: d.U8(), Number: d.U8()}, nil
	case productStyleBUFR:
		return ProductBUFR{Type: d.U8(), Subtype: d.U8(), LocalSubtype: d.U8()}, nil
	case productStyleODIMH5:
		return ProductODIMH5{Object: d.String(), Product: d.String()}, nil
	case productStyleVM2:
		return ProductVM2{VariableID: d.U32()}, nil
	default:
		return nil, fmt.Errorf("product style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseProduct parses forms like "GRIB1(200, 2, 11)" or "VM2(227)".
func ParseProduct(s string) (Item, error) {
	style, args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		var vals [3]uint64
		for i, a := range args {
			v, err := parseUint(a, 8)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return ProductGRIB1{Origin: uint8(vals[0]), Table: uint8(vals[1]), Product: uint8(vals[2])}, nil
	case "GRIB2":
		if err := wantArgs(style, args, 4); err != nil {
			return nil, err
		}
		ce, err := parseUint(args[0], 16)
		if err != nil {
			return nil, err
		}
		var vals [3]uint64
		for i, a := range args[1:] {
			v, err := parseUint(a, 8)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return ProductGRIB2{Centre: uint16(ce), Discipline: uint8(vals[0]), Category: uint8(vals[1]), Number: uint8(vals[2])}, nil
	case "BUFR":
		if err := wantArgs(style, args, 3); err != nil {
			return nil, err
		}
		var vals [3]uint64
		for i, a := range args {
			v, err := parseUint(a, 8)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return ProductBUFR{Type: uint8(vals[0]), Subtype: uint8(vals[1]), LocalSubtype: uint8(vals[2])}, nil
	case "ODIMH5":
		if err := wantArgs(style, args, 2); err != nil {
			return nil, err
		}
		return ProductODIMH5{Object: args[0], Product: args[1]}, nil
	case "VM2":
		if err := wantArgs(style, args, 1); err != nil {
			return nil, err
		}
		id, err := parseUint(args[0], 32)
		if err != nil {
			return nil, err
		}
		return ProductVM2{VariableID: uint32(id)}, nil
	default:
		return nil, fmt.Errorf("product style %q: %w", style, ErrUnsupportedStyle)
	}
}
