// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metadata

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func sampleMetadata() *Metadata {
	md := New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, 12, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: 11})
	md.Set(types.LevelGRIB1{Type: 105, L1: 2})
	md.Set(types.TimerangeGRIB1{Type: 0, Unit: 1})
	md.Set(types.RunMinute{Minute: 12 * 60})
	md.SetSource(types.SourceBlob{Fmt: "grib", Relpath: "2024/01-15.grib", Offset: 0, Size: 42})
	return md
}

func TestStreamRoundTrip(t *testing.T) {
	md := sampleMetadata()
	md.AddNote("Acquired from test suite")

	var buf bytes.Buffer
	require.NoError(t, md.Write(&buf))

	back, err := ReadOne(&buf)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.True(t, md.Equal(back))
	assert.Len(t, back.Notes(), 1)
	assert.Equal(t, "Acquired from test suite", back.Notes()[0].Content)
}

func TestInlineFrame(t *testing.T) {
	md := sampleMetadata()
	data := []byte("GRIB payload bytes 7777")
	md.SetInlineData("grib", data)

	var buf bytes.Buffer
	require.NoError(t, md.Write(&buf))
	assert.Equal(t, SigInline, string(buf.Bytes()[:2]))

	back, err := ReadOne(&buf)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, data, back.Data())

	src, ok := back.Source().(types.SourceInline)
	require.True(t, ok)
	assert.Equal(t, uint64(len(data)), src.Size)
}

func TestGroupFrame(t *testing.T) {
	var mds []*Metadata
	for i := 0; i < 5; i++ {
		md := sampleMetadata()
		md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, i, 0, 0)})
		mds = append(mds, md)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteGroup(&buf, mds))
	assert.Equal(t, SigGroup, string(buf.Bytes()[:2]))

	var back []*Metadata
	require.NoError(t, Read(&buf, func(md *Metadata) (bool, error) {
		back = append(back, md)
		return true, nil
	}))
	require.Len(t, back, 5)
	for i, md := range back {
		assert.True(t, mds[i].Equal(md), "record %d did not round trip", i)
	}
}

func TestUnknownItemPreserved(t *testing.T) {
	// no source: decoded sources are re-encoded after the items, which
	// would reorder the spliced payload below
	md := sampleMetadata()
	md.SetSource(nil)

	// splice an unknown item into the payload by rebuilding the frame
	payload := md.encodePayload()
	e := types.NewEncoder()
	e.Raw(payload)
	e.U8(201)
	e.Varint(3)
	e.Raw([]byte{1, 2, 3})

	var framed bytes.Buffer
	require.NoError(t, WriteFrame(&framed, SigMetadata, e.Bytes()))

	back, err := ReadOne(bytes.NewReader(framed.Bytes()))
	require.NoError(t, err)
	require.NotNil(t, back)

	var reencoded bytes.Buffer
	require.NoError(t, back.Write(&reencoded))
	assert.Equal(t, framed.Bytes(), reencoded.Bytes(),
		"re-encoding a record with an unknown item must preserve its bytes")
}

func TestTruncatedStream(t *testing.T) {
	md := sampleMetadata()
	var buf bytes.Buffer
	require.NoError(t, md.Write(&buf))

	cut := buf.Bytes()[:buf.Len()-4]
	err := Read(bytes.NewReader(cut), func(md *Metadata) (bool, error) { return true, nil })
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.Contains(t, err.Error(), "offset 0")
}

func TestYAMLRoundTrip(t *testing.T) {
	md := sampleMetadata()
	md.AddNote("imported")

	var buf bytes.Buffer
	require.NoError(t, md.WriteYAML(&buf))

	var back []*Metadata
	require.NoError(t, ReadYAML(&buf, func(md *Metadata) (bool, error) {
		back = append(back, md)
		return true, nil
	}))
	require.Len(t, back, 1)
	assert.True(t, md.EqualItems(back[0]))
	require.Len(t, back[0].Notes(), 1)
}

func TestStructuredRoundTrip(t *testing.T) {
	md := sampleMetadata()
	md.AddNote("structured")
	back, err := FromMapping(md.Serialise())
	require.NoError(t, err)
	assert.True(t, md.Equal(back))
	assert.Len(t, back.Notes(), 1)
}

func TestSetReplacesInPlace(t *testing.T) {
	md := New()
	md.Set(types.OriginGRIB1{Centre: 200})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: 11})
	md.Set(types.OriginGRIB1{Centre: 80})

	items := md.Items()
	require.Len(t, items, 2)
	assert.Equal(t, types.CodeOrigin, items[0].Code(), "Set must keep insertion order")
	origin := items[0].(types.OriginGRIB1)
	assert.Equal(t, uint8(80), origin.Centre)
}

func TestMakeInline(t *testing.T) {
	md := sampleMetadata()
	err := md.MakeInline(func(blob types.SourceBlob) ([]byte, error) {
		return bytes.Repeat([]byte{0xAA}, int(blob.Size)), nil
	})
	require.NoError(t, err)
	assert.Len(t, md.Data(), 42)
	_, ok := md.Source().(types.SourceInline)
	assert.True(t, ok)
}
