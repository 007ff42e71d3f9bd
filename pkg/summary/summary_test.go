// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package summary

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func makeMD(day, hour int, product uint8, size uint64) *metadata.Metadata {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, day, hour, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: product})
	md.SetSource(types.SourceBlob{Fmt: "grib", Relpath: "x.grib", Offset: 0, Size: size})
	return md
}

func TestAddAndStats(t *testing.T) {
	s := New()
	s.Add(makeMD(15, 0, 11, 100))
	s.Add(makeMD(15, 12, 11, 110))
	s.Add(makeMD(16, 0, 22, 120))

	assert.Equal(t, uint64(3), s.Count())
	assert.Equal(t, uint64(330), s.Size())

	iv := s.Interval()
	assert.Equal(t, types.NewTime(2024, 1, 15, 0, 0, 0), iv.Begin)
	assert.Equal(t, types.NewTime(2024, 1, 16, 0, 0, 1), iv.End)
}

// Merging per-record summaries in any order must equal the summary of
// the whole stream.
func TestMergeMonoid(t *testing.T) {
	var mds []*metadata.Metadata
	for day := 1; day <= 5; day++ {
		for _, p := range []uint8{11, 22, 33} {
			mds = append(mds, makeMD(day, day%24, p, uint64(day*100+int(p))))
		}
	}

	whole := New()
	for _, md := range mds {
		whole.Add(md)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		perm := rng.Perm(len(mds))
		merged := New()
		for _, i := range perm {
			one := New()
			one.Add(mds[i])
			merged.AddSummary(one)
		}
		require.True(t, whole.Equal(merged), "merge order %v changed the summary", perm)
	}

	// associativity: (a+b)+c == a+(b+c)
	a, b, c := New(), New(), New()
	a.Add(mds[0])
	b.Add(mds[1])
	c.Add(mds[2])
	left := a.Clone()
	left.AddSummary(b)
	left.AddSummary(c)
	right := b.Clone()
	right.AddSummary(c)
	rightTotal := a.Clone()
	rightTotal.AddSummary(right)
	assert.True(t, left.Equal(rightTotal))
}

func TestBinaryRoundTrip(t *testing.T) {
	s := New()
	s.Add(makeMD(15, 0, 11, 100))
	s.Add(makeMD(16, 12, 22, 200))

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf))
	assert.Equal(t, metadata.SigSummary, string(buf.Bytes()[:2]))

	back, err := Read(&buf)
	require.NoError(t, err)
	assert.True(t, s.Equal(back))
}

func TestFilterAndIdempotence(t *testing.T) {
	s := New()
	s.Add(makeMD(15, 0, 11, 100))
	s.Add(makeMD(15, 12, 11, 110))
	s.Add(makeMD(16, 0, 22, 120))

	m := matcher.MustParse("product:GRIB1,200,2,11")
	got := s.Filter(m)
	assert.Equal(t, uint64(2), got.Count())
	assert.Equal(t, uint64(210), got.Size())

	// matcher idempotence: filtering twice changes nothing
	again := got.Filter(m)
	assert.True(t, got.Equal(again))

	// reftime filter works on the interval
	mt := matcher.MustParse("reftime:=2024-01-16")
	byTime := s.Filter(mt)
	assert.Equal(t, uint64(1), byTime.Count())

	none := s.Filter(matcher.MustParse("origin:GRIB1,99"))
	assert.True(t, none.IsEmpty())
}

func TestVisitDeterministic(t *testing.T) {
	s := New()
	s.Add(makeMD(15, 0, 33, 1))
	s.Add(makeMD(15, 0, 11, 1))
	s.Add(makeMD(15, 0, 22, 1))

	var first, second []string
	s.Visit(func(items []types.Item, stats Stats) error {
		first = append(first, items[1].String())
		return nil
	})
	s.Visit(func(items []types.Item, stats Stats) error {
		second = append(second, items[1].String())
		return nil
	})
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
}

func TestShorten(t *testing.T) {
	s := New()
	s.Add(makeMD(15, 0, 11, 100))
	s.Add(makeMD(15, 12, 22, 100))
	s.Add(makeMD(16, 0, 11, 100))

	short := s.Shorten()
	assert.Equal(t, uint64(3), short.Stats.Count)
	assert.Len(t, short.Items[types.CodeProduct], 2)
	assert.Len(t, short.Items[types.CodeOrigin], 1)

	var buf bytes.Buffer
	require.NoError(t, short.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "Count: 3")
}
