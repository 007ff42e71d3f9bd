// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"strings"
)

const proddefStyleGRIB uint8 = 1

// ProddefGRIB is an ensemble or experiment specifier.
type ProddefGRIB struct {
	Values ValueBag
}

func (p ProddefGRIB) Code() Code    { return CodeProddef }
func (p ProddefGRIB) Style() string { return "GRIB" }

func (p ProddefGRIB) EncodePayload(e *Encoder) {
	e.U8(proddefStyleGRIB)
	p.Values.Encode(e)
}

func (p ProddefGRIB) String() string {
	return fmt.Sprintf("GRIB(%s)", p.Values)
}

func (p ProddefGRIB) Compare(o Item) int { return CompareItems(p, o) }

func (p ProddefGRIB) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "proddef", "style": "GRIB", "value": p.Values.Serialise(),
	}
}

func decodeProddef(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case proddefStyleGRIB:
		return ProddefGRIB{Values: DecodeValueBag(d)}, nil
	default:
		return nil, fmt.Errorf("proddef style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseProddef parses "GRIB(mc=ti, mt=8)".
func ParseProddef(s string) (Item, error) {
	s = trim(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !endsWithParen(s) {
		return nil, fmt.Errorf("cannot parse proddef %q: %w: expected STYLE(args)", s, ErrFormat)
	}
	style := trim(s[:open])
	if style != "GRIB" {
		return nil, fmt.Errorf("proddef style %q: %w", style, ErrUnsupportedStyle)
	}
	bag, err := ParseValueBag(s[open+1 : len(s)-1])
	if err != nil {
		return nil, err
	}
	return ProddefGRIB{Values: bag}, nil
}
