// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItems() []Item {
	bag := NewValueBag()
	bag.SetInt("lat", 4500000)
	bag.SetInt("lon", 1100000)
	bag.SetString("utm", "32")
	pd := NewValueBag()
	pd.SetString("mc", "ti")
	pd.SetInt("mt", 8)

	return []Item{
		ReftimePosition{Time: NewTime(2024, 1, 15, 12, 0, 0)},
		ReftimePeriod{Begin: NewTime(2024, 1, 15, 0, 0, 0), End: NewTime(2024, 1, 16, 0, 0, 0)},
		OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101},
		OriginGRIB2{Centre: 98, Subcentre: 0, ProcessType: 2, BackgroundID: 0, ProcessID: 101},
		OriginBUFR{Centre: 80, Subcentre: 255},
		OriginODIMH5{WMO: "16144", RAD: "IY46", PLC: "itspc"},
		ProductGRIB1{Origin: 200, Table: 2, Product: 11},
		ProductGRIB2{Centre: 98, Discipline: 0, Category: 2, Number: 22},
		ProductBUFR{Type: 0, Subtype: 255, LocalSubtype: 1},
		ProductODIMH5{Object: "PVOL", Product: "SCAN"},
		ProductVM2{VariableID: 227},
		LevelGRIB1{Type: 105, L1: 2, L2: 0},
		LevelGRIB2S{Type: 103, Scale: 0, Value: 2000},
		LevelGRIB2D{Type1: 103, Scale1: 0, Value1: 2000, Type2: 103, Scale2: 0, Value2: 10000},
		LevelODIMH5{Min: 0.5, Max: 1.5},
		TimerangeGRIB1{Type: 0, Unit: 1, P1: 0, P2: 0},
		TimerangeGRIB2{Type: 4, Unit: 1, P1: 0, P2: 12},
		TimerangeTimedef{StepUnit: 1, StepLen: 6, StatType: 1, StatUnit: 1, StatLen: 3},
		TimerangeBUFR{Unit: 1, Value: 0},
		AreaGRIB{Values: bag},
		AreaVM2{Station: 1},
		ProddefGRIB{Values: pd},
		RunMinute{Minute: 12 * 60},
		Task{Value: "pluviometric analysis"},
		NewQuantity("ACRR", "BRDR"),
		ValueItem{Buffer: []byte{1, 2, 3, 250}},
		SourceBlob{Fmt: "grib", Basedir: "/srv/arkimet", Relpath: "2024/01-15.grib", Offset: 7218, Size: 34960},
		SourceURL{Fmt: "grib", URL: "http://localhost:8080/dataset/cosmo"},
		SourceInline{Fmt: "bufr", Size: 194},
		Note{Time: NewTime(2024, 1, 15, 12, 30, 0), Content: "Acquired"},
		AssignedDataset{Changed: NewTime(2024, 1, 15, 12, 30, 0), Name: "cosmo", ID: "2024/01-15.grib:7218"},
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, it := range sampleItems() {
		enc := EncodeItem(it)
		back, err := DecodeItem(enc)
		require.NoError(t, err, "decoding %s", it)
		assert.Equal(t, 0, CompareItems(it, back), "binary round trip of %s gave %s", it, back)
		assert.Equal(t, enc, EncodeItem(back), "re-encoding %s changed bytes", it)
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, it := range sampleItems() {
		switch it.Code() {
		case CodeNote, CodeAssignedDataset:
			// no text parse surface
			continue
		}
		parsed, err := ParseItem(it.Code(), it.String())
		require.NoError(t, err, "parsing %q as %s", it.String(), it.Code())
		assert.True(t, Equal(it, parsed), "text round trip of %q gave %q", it.String(), parsed.String())
	}
}

func TestStructuredRoundTrip(t *testing.T) {
	for _, it := range sampleItems() {
		back, err := DecodeMapping(it.Serialise())
		require.NoError(t, err, "mapping round trip of %s", it)
		assert.True(t, Equal(it, back), "structured round trip of %s gave %s", it, back)
	}
}

func TestUnknownTypePreserved(t *testing.T) {
	e := NewEncoder()
	e.U8(200)
	e.Varint(4)
	e.Raw([]byte{0xde, 0xad, 0xbe, 0xef})
	it, err := DecodeItem(e.Bytes())
	require.NoError(t, err)

	u, ok := it.(*Unknown)
	require.True(t, ok, "expected *Unknown, got %T", it)
	assert.Equal(t, Code(200), u.Code())
	assert.Equal(t, e.Bytes(), EncodeItem(u), "unknown item must re-encode to the same bytes")
}

func TestCompareOrdersByCode(t *testing.T) {
	origin := OriginGRIB1{Centre: 200}
	product := ProductGRIB1{Origin: 200, Table: 2, Product: 11}
	if origin.Compare(product) >= 0 {
		t.Fatalf("origin should order before product")
	}
	if product.Compare(origin) <= 0 {
		t.Fatalf("product should order after origin")
	}
}

func TestReftimeOrdering(t *testing.T) {
	early := ReftimePosition{Time: NewTime(2024, 1, 15, 0, 0, 0)}
	late := ReftimePosition{Time: NewTime(2024, 1, 15, 12, 0, 0)}
	assert.Negative(t, early.Compare(late))
	assert.Positive(t, late.Compare(early))
	assert.Zero(t, early.Compare(ReftimePosition{Time: NewTime(2024, 1, 15, 0, 0, 0)}))
}

func TestParseTimePartial(t *testing.T) {
	cases := []struct {
		in   string
		want Time
		prec int
	}{
		{"2024", NewTime(2024, 1, 1, 0, 0, 0), 1},
		{"2024-01", NewTime(2024, 1, 1, 0, 0, 0), 2},
		{"2024-01-15", NewTime(2024, 1, 15, 0, 0, 0), 3},
		{"2024-01-15 12", NewTime(2024, 1, 15, 12, 0, 0), 4},
		{"2024-01-15 12:30", NewTime(2024, 1, 15, 12, 30, 0), 5},
		{"2024-01-15 12:30:45", NewTime(2024, 1, 15, 12, 30, 45), 6},
		{"2024-01-15T12:30:45Z", NewTime(2024, 1, 15, 12, 30, 45), 6},
	}
	for _, c := range cases {
		got, prec, err := ParseTimePartial(c.in)
		require.NoError(t, err, "parsing %q", c.in)
		assert.Equal(t, c.want, got, "parsing %q", c.in)
		assert.Equal(t, c.prec, prec, "precision of %q", c.in)
	}

	if _, _, err := ParseTimePartial("not a time"); err == nil {
		t.Fatal("expected an error parsing garbage")
	}
}

func TestUpperBound(t *testing.T) {
	base := NewTime(2024, 1, 15, 12, 30, 45)
	assert.Equal(t, NewTime(2025, 1, 15, 12, 30, 45), base.UpperBound(1))
	assert.Equal(t, NewTime(2024, 2, 15, 12, 30, 45), base.UpperBound(2))
	assert.Equal(t, NewTime(2024, 1, 16, 12, 30, 45), base.UpperBound(3))
	assert.Equal(t, NewTime(2024, 1, 15, 13, 30, 45), base.UpperBound(4))
	assert.Equal(t, NewTime(2024, 1, 15, 12, 31, 45), base.UpperBound(5))
	assert.Equal(t, NewTime(2024, 1, 15, 12, 30, 46), base.UpperBound(6))
}

func TestIntervalIntersect(t *testing.T) {
	jan := Interval{Begin: NewTime(2024, 1, 1, 0, 0, 0), End: NewTime(2024, 2, 1, 0, 0, 0)}
	midJan := Interval{Begin: NewTime(2024, 1, 10, 0, 0, 0), End: NewTime(2024, 1, 20, 0, 0, 0)}
	feb := Interval{Begin: NewTime(2024, 2, 1, 0, 0, 0), End: NewTime(2024, 3, 1, 0, 0, 0)}

	got, ok := jan.Intersect(midJan)
	require.True(t, ok)
	assert.Equal(t, midJan, got)

	_, ok = jan.Intersect(feb)
	assert.False(t, ok, "adjacent intervals must not intersect")

	got, ok = jan.Intersect(Interval{})
	require.True(t, ok)
	assert.Equal(t, jan, got)

	assert.True(t, jan.Contains(NewTime(2024, 1, 31, 23, 59, 59)))
	assert.False(t, jan.Contains(NewTime(2024, 2, 1, 0, 0, 0)))
}

func TestValueBag(t *testing.T) {
	bag, err := ParseValueBag(`lat=45, lon=11, name="bologna"`)
	require.NoError(t, err)
	assert.Equal(t, 3, bag.Len())

	sub, err := ParseValueBag("lat=45")
	require.NoError(t, err)
	assert.True(t, bag.Contains(sub))

	other, err := ParseValueBag("lat=46")
	require.NoError(t, err)
	assert.False(t, bag.Contains(other))

	reparsed, err := ParseValueBag(bag.String())
	require.NoError(t, err)
	assert.True(t, bag.Equal(reparsed), "bag text form %q did not round trip", bag.String())
}
