// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func sampleMD() *metadata.Metadata {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, 12, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: 11})
	md.Set(types.LevelGRIB1{Type: 105, L1: 2})
	md.Set(types.RunMinute{Minute: 12 * 60})
	md.Set(types.Task{Value: "Pluviometric Analysis"})
	md.Set(types.NewQuantity("ACRR", "BRDR"))
	bag := types.NewValueBag()
	bag.SetInt("lat", 45)
	bag.SetInt("lon", 11)
	md.Set(types.AreaGRIB{Values: bag})
	return md
}

func TestEmptyMatcherMatchesAll(t *testing.T) {
	m, err := Parse("", nil)
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())
	assert.True(t, m.Match(sampleMD()))
}

func TestMatchExpressions(t *testing.T) {
	md := sampleMD()
	cases := []struct {
		expr string
		want bool
	}{
		{"origin:GRIB1", true},
		{"origin:GRIB1,200", true},
		{"origin:GRIB1,200,,101", true},
		{"origin:GRIB1,98", false},
		{"origin:GRIB2", false},
		{"origin:GRIB1,98 or GRIB1,200", true},
		{"product:GRIB1,200,2,11", true},
		{"product:GRIB1,200,2,12", false},
		{"level:GRIB1,105", true},
		{"level:GRIB1,100", false},
		{"reftime:=2024-01-15", true},
		{"reftime:=2024-01-16", false},
		{"reftime:>=2024-01-15 12:00,<2024-01-16", true},
		{"reftime:>2024-01-15 12:00", false},
		{"reftime:<2024-01-15 12:00:01", true},
		{"area:GRIB:lat=45", true},
		{"area:GRIB:lat=45, lon=11", true},
		{"area:GRIB:lat=46", false},
		{"area:VM2", false},
		{"run:MINUTE,12:00", true},
		{"run:MINUTE,00:00", false},
		{"task:pluviometric", true},
		{"task:radar", false},
		{"quantity:ACRR", true},
		{"quantity:ACRR,BRDR", true},
		{"quantity:ACRR,MISSING", false},
		{"origin:GRIB1,200; reftime:=2024-01-15; product:GRIB1", true},
		{"origin:GRIB1,200; product:GRIB1,200,2,99", false},
		// clause on an unset dimension rejects
		{"proddef:GRIB", false},
	}
	for _, c := range cases {
		m, err := Parse(c.expr, nil)
		require.NoError(t, err, "parsing %q", c.expr)
		assert.Equal(t, c.want, m.Match(md), "matching %q", c.expr)
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"nosuchdim:GRIB1",
		"origin GRIB1",
		"origin:NOSTYLE",
		"reftime:2024-01-15",
		"origin:GRIB1; origin:GRIB2",
	} {
		_, err := Parse(expr, nil)
		assert.Error(t, err, "parsing %q should fail", expr)
	}
}

func TestReftimeInterval(t *testing.T) {
	m := MustParse("reftime:>=2024-01-10,<=2024-01-12")
	iv := m.Interval()
	assert.Equal(t, types.NewTime(2024, 1, 10, 0, 0, 0), iv.Begin)
	assert.Equal(t, types.NewTime(2024, 1, 13, 0, 0, 0), iv.End)

	assert.True(t, m.MatchInterval(types.Interval{
		Begin: types.NewTime(2024, 1, 12, 0, 0, 0),
		End:   types.NewTime(2024, 1, 13, 0, 0, 0),
	}))
	assert.False(t, m.MatchInterval(types.Interval{
		Begin: types.NewTime(2024, 1, 13, 0, 0, 0),
		End:   types.NewTime(2024, 1, 14, 0, 0, 0),
	}))
}

func TestAliasExpansion(t *testing.T) {
	aliases := NewAliases()
	aliases.Add(types.CodeOrigin, "cosmo", "GRIB1,200 or GRIB1,80")

	m, err := Parse("origin:cosmo", aliases)
	require.NoError(t, err)
	assert.True(t, m.Match(sampleMD()))

	reparsed, err := ParseAliases(aliases.Serialise())
	require.NoError(t, err)
	m2, err := Parse("origin:cosmo", reparsed)
	require.NoError(t, err)
	assert.True(t, m2.Match(sampleMD()))
}

func TestMatcherStringReparses(t *testing.T) {
	exprs := []string{
		"origin:GRIB1,200; product:GRIB1,200,2,11; reftime:>=2024-01-01",
		"area:GRIB:lat=45; run:MINUTE,12:00",
	}
	for _, expr := range exprs {
		m := MustParse(expr)
		again, err := Parse(m.String(), nil)
		require.NoError(t, err, "reparsing %q", m.String())
		assert.Equal(t, m.Match(sampleMD()), again.Match(sampleMD()))
	}
}
