// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import "fmt"

// DecodeMapping rebuilds an item from its structured form, the inverse
// of Serialise.
func DecodeMapping(m map[string]interface{}) (Item, error) {
	typ, err := mapString(m, "type")
	if err != nil {
		return nil, err
	}
	switch typ {
	case "reftime":
		return reftimeFromMapping(m)
	case "origin":
		return originFromMapping(m)
	case "product":
		return productFromMapping(m)
	case "level":
		return levelFromMapping(m)
	case "timerange":
		return timerangeFromMapping(m)
	case "area":
		return areaFromMapping(m)
	case "proddef":
		return proddefFromMapping(m)
	case "run":
		v, err := mapInt(m, "value")
		if err != nil {
			return nil, err
		}
		return RunMinute{Minute: uint32(v)}, nil
	case "task":
		v, err := mapString(m, "value")
		if err != nil {
			return nil, err
		}
		return Task{Value: v}, nil
	case "quantity":
		raw, ok := m["value"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("quantity mapping without value list: %w", ErrFormat)
		}
		vals := make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("quantity value %v is not a string: %w", v, ErrFormat)
			}
			vals = append(vals, s)
		}
		return NewQuantity(vals...), nil
	case "value":
		v, err := mapString(m, "value")
		if err != nil {
			return nil, err
		}
		return ParseValueItem(v)
	case "source":
		return sourceFromMapping(m)
	case "note":
		t, err := mapTime(m, "time")
		if err != nil {
			return nil, err
		}
		v, err := mapString(m, "value")
		if err != nil {
			return nil, err
		}
		return Note{Time: t, Content: v}, nil
	case "assigneddataset":
		t, err := mapTime(m, "changed")
		if err != nil {
			return nil, err
		}
		name, err := mapString(m, "name")
		if err != nil {
			return nil, err
		}
		id, err := mapString(m, "id")
		if err != nil {
			return nil, err
		}
		return AssignedDataset{Changed: t, Name: name, ID: id}, nil
	default:
		return nil, fmt.Errorf("unknown item type %q in mapping: %w", typ, ErrFormat)
	}
}

func mapString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("mapping misses key %q: %w", key, ErrFormat)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("mapping key %q is not a string: %w", key, ErrFormat)
	}
	return s, nil
}

func mapInt(m map[string]interface{}, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("mapping misses key %q: %w", key, ErrFormat)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("mapping key %q is not a number: %w", key, ErrFormat)
	}
}

func mapFloat(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("mapping misses key %q: %w", key, ErrFormat)
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("mapping key %q is not a number: %w", key, ErrFormat)
	}
}

func mapTime(m map[string]interface{}, key string) (Time, error) {
	s, err := mapString(m, key)
	if err != nil {
		return Time{}, err
	}
	return ParseTime(s)
}

func mapBag(m map[string]interface{}, key string) (ValueBag, error) {
	v, ok := m[key]
	if !ok {
		return ValueBag{}, fmt.Errorf("mapping misses key %q: %w", key, ErrFormat)
	}
	sub, ok := v.(map[string]interface{})
	if !ok {
		return ValueBag{}, fmt.Errorf("mapping key %q is not a mapping: %w", key, ErrFormat)
	}
	return ValueBagFromMapping(sub)
}

func reftimeFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	switch style {
	case "POSITION":
		t, err := mapTime(m, "time")
		if err != nil {
			return nil, err
		}
		return ReftimePosition{Time: t}, nil
	case "PERIOD":
		begin, err := mapTime(m, "begin")
		if err != nil {
			return nil, err
		}
		end, err := mapTime(m, "end")
		if err != nil {
			return nil, err
		}
		return ReftimePeriod{Begin: begin, End: end}, nil
	default:
		return nil, fmt.Errorf("reftime style %q: %w", style, ErrUnsupportedStyle)
	}
}

func originFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1":
		ce, err1 := mapInt(m, "centre")
		sc, err2 := mapInt(m, "subcentre")
		pr, err3 := mapInt(m, "process")
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, err
		}
		return OriginGRIB1{Centre: uint8(ce), Subcentre: uint8(sc), Process: uint8(pr)}, nil
	case "GRIB2":
		ce, err1 := mapInt(m, "centre")
		sc, err2 := mapInt(m, "subcentre")
		pt, err3 := mapInt(m, "processtype")
		bg, err4 := mapInt(m, "bgprocessid")
		pi, err5 := mapInt(m, "processid")
		if err := firstErr(err1, err2, err3, err4, err5); err != nil {
			return nil, err
		}
		return OriginGRIB2{
			Centre: uint16(ce), Subcentre: uint16(sc),
			ProcessType: uint8(pt), BackgroundID: uint8(bg), ProcessID: uint8(pi),
		}, nil
	case "BUFR":
		ce, err1 := mapInt(m, "centre")
		sc, err2 := mapInt(m, "subcentre")
		if err := firstErr(err1, err2); err != nil {
			return nil, err
		}
		return OriginBUFR{Centre: uint8(ce), Subcentre: uint8(sc)}, nil
	case "ODIMH5":
		wmo, err1 := mapString(m, "wmo")
		rad, err2 := mapString(m, "rad")
		plc, err3 := mapString(m, "plc")
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, err
		}
		return OriginODIMH5{WMO: wmo, RAD: rad, PLC: plc}, nil
	default:
		return nil, fmt.Errorf("origin style %q: %w", style, ErrUnsupportedStyle)
	}
}

func productFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1":
		or, err1 := mapInt(m, "origin")
		ta, err2 := mapInt(m, "table")
		pr, err3 := mapInt(m, "product")
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, err
		}
		return ProductGRIB1{Origin: uint8(or), Table: uint8(ta), Product: uint8(pr)}, nil
	case "GRIB2":
		ce, err1 := mapInt(m, "centre")
		di, err2 := mapInt(m, "discipline")
		ca, err3 := mapInt(m, "category")
		nu, err4 := mapInt(m, "number")
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, err
		}
		return ProductGRIB2{Centre: uint16(ce), Discipline: uint8(di), Category: uint8(ca), Number: uint8(nu)}, nil
	case "BUFR":
		ty, err1 := mapInt(m, "basetype")
		su, err2 := mapInt(m, "subtype")
		lo, err3 := mapInt(m, "localsubtype")
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, err
		}
		return ProductBUFR{Type: uint8(ty), Subtype: uint8(su), LocalSubtype: uint8(lo)}, nil
	case "ODIMH5":
		ob, err1 := mapString(m, "object")
		pr, err2 := mapString(m, "product")
		if err := firstErr(err1, err2); err != nil {
			return nil, err
		}
		return ProductODIMH5{Object: ob, Product: pr}, nil
	case "VM2":
		id, err := mapInt(m, "id")
		if err != nil {
			return nil, err
		}
		return ProductVM2{VariableID: uint32(id)}, nil
	default:
		return nil, fmt.Errorf("product style %q: %w", style, ErrUnsupportedStyle)
	}
}

func levelFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1":
		ty, err1 := mapInt(m, "leveltype")
		l1, err2 := mapInt(m, "l1")
		l2, err3 := mapInt(m, "l2")
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, err
		}
		return LevelGRIB1{Type: uint8(ty), L1: uint16(l1), L2: uint16(l2)}, nil
	case "GRIB2S":
		ty, err1 := mapInt(m, "leveltype")
		sc, err2 := mapInt(m, "scale")
		va, err3 := mapInt(m, "value")
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, err
		}
		return LevelGRIB2S{Type: uint8(ty), Scale: uint8(sc), Value: uint32(va)}, nil
	case "GRIB2D":
		sub1, ok1 := m["l1"].(map[string]interface{})
		sub2, ok2 := m["l2"].(map[string]interface{})
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("GRIB2D level mapping without l1/l2: %w", ErrFormat)
		}
		t1, err1 := mapInt(sub1, "leveltype")
		s1, err2 := mapInt(sub1, "scale")
		v1, err3 := mapInt(sub1, "value")
		t2, err4 := mapInt(sub2, "leveltype")
		s2, err5 := mapInt(sub2, "scale")
		v2, err6 := mapInt(sub2, "value")
		if err := firstErr(err1, err2, err3, err4, err5, err6); err != nil {
			return nil, err
		}
		return LevelGRIB2D{
			Type1: uint8(t1), Scale1: uint8(s1), Value1: uint32(v1),
			Type2: uint8(t2), Scale2: uint8(s2), Value2: uint32(v2),
		}, nil
	case "ODIMH5":
		min, err1 := mapFloat(m, "min")
		max, err2 := mapFloat(m, "max")
		if err := firstErr(err1, err2); err != nil {
			return nil, err
		}
		return LevelODIMH5{Min: min, Max: max}, nil
	default:
		return nil, fmt.Errorf("level style %q: %w", style, ErrUnsupportedStyle)
	}
}

func timerangeFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB1", "GRIB2":
		ty, err1 := mapInt(m, "trange")
		un, err2 := mapInt(m, "unit")
		p1, err3 := mapInt(m, "p1")
		p2, err4 := mapInt(m, "p2")
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, err
		}
		if style == "GRIB1" {
			return TimerangeGRIB1{Type: uint8(ty), Unit: uint8(un), P1: int32(p1), P2: int32(p2)}, nil
		}
		return TimerangeGRIB2{Type: uint8(ty), Unit: uint8(un), P1: int32(p1), P2: int32(p2)}, nil
	case "Timedef":
		su, err1 := mapInt(m, "stepunit")
		sl, err2 := mapInt(m, "steplen")
		tt, err3 := mapInt(m, "stattype")
		tu, err4 := mapInt(m, "statunit")
		tl, err5 := mapInt(m, "statlen")
		if err := firstErr(err1, err2, err3, err4, err5); err != nil {
			return nil, err
		}
		return TimerangeTimedef{
			StepUnit: uint8(su), StepLen: uint32(sl),
			StatType: uint8(tt), StatUnit: uint8(tu), StatLen: uint32(tl),
		}, nil
	case "BUFR":
		un, err1 := mapInt(m, "unit")
		va, err2 := mapInt(m, "value")
		if err := firstErr(err1, err2); err != nil {
			return nil, err
		}
		return TimerangeBUFR{Unit: uint8(un), Value: uint32(va)}, nil
	default:
		return nil, fmt.Errorf("timerange style %q: %w", style, ErrUnsupportedStyle)
	}
}

func areaFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	switch style {
	case "GRIB":
		bag, err := mapBag(m, "value")
		if err != nil {
			return nil, err
		}
		return AreaGRIB{Values: bag}, nil
	case "ODIMH5":
		bag, err := mapBag(m, "value")
		if err != nil {
			return nil, err
		}
		return AreaODIMH5{Values: bag}, nil
	case "VM2":
		id, err := mapInt(m, "id")
		if err != nil {
			return nil, err
		}
		return AreaVM2{Station: uint32(id)}, nil
	default:
		return nil, fmt.Errorf("area style %q: %w", style, ErrUnsupportedStyle)
	}
}

func proddefFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	if style != "GRIB" {
		return nil, fmt.Errorf("proddef style %q: %w", style, ErrUnsupportedStyle)
	}
	bag, err := mapBag(m, "value")
	if err != nil {
		return nil, err
	}
	return ProddefGRIB{Values: bag}, nil
}

func sourceFromMapping(m map[string]interface{}) (Item, error) {
	style, err := mapString(m, "style")
	if err != nil {
		return nil, err
	}
	format, err := mapString(m, "format")
	if err != nil {
		return nil, err
	}
	switch style {
	case "BLOB":
		relpath, err := mapString(m, "file")
		if err != nil {
			return nil, err
		}
		basedir, _ := mapString(m, "basedir")
		offset, err1 := mapInt(m, "offset")
		size, err2 := mapInt(m, "size")
		if err := firstErr(err1, err2); err != nil {
			return nil, err
		}
		return SourceBlob{
			Fmt: format, Basedir: basedir, Relpath: relpath,
			Offset: uint64(offset), Size: uint64(size),
		}, nil
	case "URL":
		url, err := mapString(m, "url")
		if err != nil {
			return nil, err
		}
		return SourceURL{Fmt: format, URL: url}, nil
	case "INLINE":
		size, err := mapInt(m, "size")
		if err != nil {
			return nil, err
		}
		return SourceInline{Fmt: format, Size: uint64(size)}, nil
	default:
		return nil, fmt.Errorf("source style %q: %w", style, ErrUnsupportedStyle)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
