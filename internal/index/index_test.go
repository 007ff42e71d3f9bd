// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func testConfig(t *testing.T) *config.Dataset {
	t.Helper()
	return &config.Dataset{
		Name: "test", Path: t.TempDir(), Type: "iseg", Format: "grib", Step: "daily",
		Unique:  []types.Code{types.CodeReftime, types.CodeOrigin, types.CodeProduct},
		Index:   config.DefaultIndex,
		Replace: config.ReplaceNever,
		Locking: true,
	}
}

func openIndex(t *testing.T, cfg *config.Dataset) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.sqlite"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func indexMD(day, hour int, product uint8) *metadata.Metadata {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, day, hour, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: product})
	md.Set(types.LevelGRIB1{Type: 105, L1: 2})
	return md
}

func mustInsert(t *testing.T, ix *Index, seg string, offset uint64, md *metadata.Metadata, usn int) {
	t.Helper()
	tx, err := ix.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Insert(seg, offset, 100, md, usn, config.ReplaceDefault))
	require.NoError(t, tx.Commit())
}

func TestInsertAndQuery(t *testing.T) {
	ix := openIndex(t, testConfig(t))
	mustInsert(t, ix, "2024/01-15.grib", 0, indexMD(15, 0, 11), 0)
	mustInsert(t, ix, "2024/01-15.grib", 100, indexMD(15, 12, 11), 0)
	mustInsert(t, ix, "2024/01-16.grib", 0, indexMD(16, 0, 11), 0)

	var got []Row
	m := matcher.MustParse("reftime:=2024-01-15")
	require.NoError(t, ix.Query(m, "", func(row Row) (bool, error) {
		got = append(got, row)
		return true, nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, "2024/01-15.grib", got[0].Segment)
	assert.Equal(t, uint64(0), got[0].Offset)
	assert.Equal(t, uint64(100), got[1].Offset)

	count, err := ix.Count("")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	iv, err := ix.Interval()
	require.NoError(t, err)
	assert.Equal(t, types.NewTime(2024, 1, 15, 0, 0, 0), iv.Begin)
	assert.True(t, iv.Contains(types.NewTime(2024, 1, 16, 0, 0, 0)))
}

func TestQueryExactDimension(t *testing.T) {
	ix := openIndex(t, testConfig(t))
	mustInsert(t, ix, "a.grib", 0, indexMD(15, 0, 11), 0)
	mustInsert(t, ix, "a.grib", 100, indexMD(15, 1, 22), 0)

	var products []uint8
	m := matcher.MustParse("product:GRIB1,200,2,22")
	require.NoError(t, ix.Query(m, "", func(row Row) (bool, error) {
		products = append(products, row.MD.Get(types.CodeProduct).(types.ProductGRIB1).Product)
		return true, nil
	}))
	assert.Equal(t, []uint8{22}, products)

	// wildcard styles fall back to post-filtering
	var n int
	require.NoError(t, ix.Query(matcher.MustParse("product:GRIB1"), "", func(Row) (bool, error) {
		n++
		return true, nil
	}))
	assert.Equal(t, 2, n)
}

func TestDuplicateNever(t *testing.T) {
	ix := openIndex(t, testConfig(t))
	mustInsert(t, ix, "a.grib", 0, indexMD(15, 0, 11), 0)

	tx, err := ix.Begin()
	require.NoError(t, err)
	err = tx.Insert("a.grib", 100, 100, indexMD(15, 0, 11), 0, config.ReplaceDefault)
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, tx.Rollback())

	// different product is a different unique key
	mustInsert(t, ix, "a.grib", 100, indexMD(15, 0, 22), 0)
	count, err := ix.Count("")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReplaceAlways(t *testing.T) {
	cfg := testConfig(t)
	cfg.Replace = config.ReplaceAlways
	ix := openIndex(t, cfg)
	mustInsert(t, ix, "a.grib", 0, indexMD(15, 0, 11), 0)
	mustInsert(t, ix, "a.grib", 100, indexMD(15, 0, 11), 0)

	count, err := ix.Count("a.grib")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "replaced row must be soft-deleted")

	deleted, err := ix.CountDeleted("a.grib")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	rows, err := ix.SegmentRows("a.grib")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(100), rows[0].Offset, "the replacement must win")
}

func TestReplaceHigherUSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Replace = config.ReplaceHigherUSN
	ix := openIndex(t, cfg)
	mustInsert(t, ix, "a.bufr", 0, indexMD(15, 0, 11), 3)

	tx, err := ix.Begin()
	require.NoError(t, err)
	err = tx.Insert("a.bufr", 100, 100, indexMD(15, 0, 11), 2, config.ReplaceDefault)
	assert.ErrorIs(t, err, ErrDuplicate, "lower USN must not replace")
	require.NoError(t, tx.Rollback())

	mustInsert(t, ix, "a.bufr", 200, indexMD(15, 0, 11), 4)
	rows, err := ix.SegmentRows("a.bufr")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].USN)
}

func TestMarkDeletedHidesFromQueries(t *testing.T) {
	ix := openIndex(t, testConfig(t))
	mustInsert(t, ix, "a.grib", 0, indexMD(15, 0, 11), 0)
	rows, err := ix.SegmentRows("a.grib")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	tx, err := ix.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.MarkDeleted(rows[0].ID))
	require.NoError(t, tx.Commit())

	var n int
	require.NoError(t, ix.Query(matcher.Matcher{}, "", func(Row) (bool, error) {
		n++
		return true, nil
	}))
	assert.Zero(t, n, "deleted rows must never surface in queries")
}

func TestUpdateOffsetsAfterRepack(t *testing.T) {
	ix := openIndex(t, testConfig(t))
	mustInsert(t, ix, "a.grib", 0, indexMD(15, 0, 11), 0)
	mustInsert(t, ix, "a.grib", 100, indexMD(15, 12, 11), 0)

	rows, err := ix.SegmentRows("a.grib")
	require.NoError(t, err)

	tx, err := ix.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.UpdateOffset(rows[1].ID, 0))
	require.NoError(t, tx.DeleteRow(rows[0].ID))
	require.NoError(t, tx.Commit())

	rows, err = ix.SegmentRows("a.grib")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(0), rows[0].Offset)
}

func TestSummary(t *testing.T) {
	ix := openIndex(t, testConfig(t))
	mustInsert(t, ix, "a.grib", 0, indexMD(15, 0, 11), 0)
	mustInsert(t, ix, "a.grib", 100, indexMD(15, 12, 11), 0)
	mustInsert(t, ix, "a.grib", 200, indexMD(16, 0, 22), 0)

	s, err := ix.Summary(matcher.MustParse("reftime:=2024-01-15"), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Count())
	assert.Equal(t, uint64(200), s.Size())
}

func TestManifest(t *testing.T) {
	man, err := OpenManifest(filepath.Join(t.TempDir(), "MANIFEST"))
	require.NoError(t, err)
	defer man.Close()

	jan15 := types.Interval{
		Begin: types.NewTime(2024, 1, 15, 0, 0, 0),
		End:   types.NewTime(2024, 1, 16, 0, 0, 0),
	}
	require.NoError(t, man.Upsert(ManifestEntry{Relpath: "2024/01-15.grib", Mtime: 1000, Size: 500, Interval: jan15}))
	jan16 := types.Interval{
		Begin: types.NewTime(2024, 1, 16, 0, 0, 0),
		End:   types.NewTime(2024, 1, 17, 0, 0, 0),
	}
	require.NoError(t, man.Upsert(ManifestEntry{Relpath: "2024/01-16.grib", Mtime: 1000, Size: 600, Interval: jan16}))

	all, err := man.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	hits, err := man.Matching(jan15)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "2024/01-15.grib", hits[0].Relpath)

	// refresh keeps one row per segment
	require.NoError(t, man.Upsert(ManifestEntry{Relpath: "2024/01-15.grib", Mtime: 2000, Size: 700, Interval: jan15}))
	en, ok, err := man.Get("2024/01-15.grib")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2000), en.Mtime)

	require.NoError(t, man.Remove("2024/01-16.grib"))
	all, err = man.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
