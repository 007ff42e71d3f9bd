// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/scan/scantest"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func fixtureMD(hour int) *metadata.Metadata {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, hour, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: 11})
	return md
}

func TestFrameGRIBMessages(t *testing.T) {
	scantest.RegisterScanners()
	one := scantest.GRIB(fixtureMD(0))
	two := scantest.GRIB(fixtureMD(12))
	data := append(append([]byte{}, one...), two...)

	spans, err := scan.Messages("grib", data)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, scan.Span{Offset: 0, Size: uint64(len(one))}, spans[0])
	assert.Equal(t, scan.Span{Offset: uint64(len(one)), Size: uint64(len(two))}, spans[1])

	var got []*metadata.Metadata
	require.NoError(t, scan.Data("grib", data, func(md *metadata.Metadata, span scan.Span) (bool, error) {
		got = append(got, md)
		return true, nil
	}))
	require.Len(t, got, 2)
	assert.True(t, fixtureMD(0).EqualItems(got[0]))
	assert.True(t, fixtureMD(12).EqualItems(got[1]))
}

func TestFrameRejectsTruncated(t *testing.T) {
	msg := scantest.GRIB(fixtureMD(0))
	_, err := scan.Messages("grib", msg[:len(msg)-6])
	assert.Error(t, err)
}

func TestVM2Scanner(t *testing.T) {
	data := []byte("202401151200,1,227,12.5,,,000000000\n202401160000,2,158,0.0,,,000000000\n")
	var got []*metadata.Metadata
	require.NoError(t, scan.Data("vm2", data, func(md *metadata.Metadata, span scan.Span) (bool, error) {
		got = append(got, md)
		return true, nil
	}))
	require.Len(t, got, 2)

	rt, ok := got[0].ReftimePosition()
	require.True(t, ok)
	assert.Equal(t, types.NewTime(2024, 1, 15, 12, 0, 0), rt)
	assert.True(t, types.Equal(types.AreaVM2{Station: 1}, got[0].Get(types.CodeArea)))
	assert.True(t, types.Equal(types.ProductVM2{VariableID: 227}, got[0].Get(types.CodeProduct)))
}

func TestUpdateSequenceNumber(t *testing.T) {
	scantest.RegisterScanners()
	msg := scantest.BUFR(fixtureMD(0), 3)
	usn, ok := scan.UpdateSequenceNumber("bufr", msg)
	require.True(t, ok)
	assert.Equal(t, 3, usn)

	_, ok = scan.UpdateSequenceNumber("grib", scantest.GRIB(fixtureMD(0)))
	assert.False(t, ok)
}

func TestEndMarker(t *testing.T) {
	marker, ok := scan.EndMarker("grib")
	require.True(t, ok)
	assert.Equal(t, []byte("7777"), marker)

	_, ok = scan.EndMarker("odimh5")
	assert.False(t, ok)
}

func TestNormaliseFormat(t *testing.T) {
	for in, want := range map[string]string{
		"grib1": "grib", "GRIB2": "grib", ".grib": "grib",
		"bufr": "bufr", "h5": "odimh5", "vm2": "vm2",
	} {
		got, err := scan.NormaliseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := scan.NormaliseFormat("netcdf")
	assert.Error(t, err)
}
