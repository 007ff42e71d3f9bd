// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/scan/scantest"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func isegConfig(t *testing.T, format string) *config.Dataset {
	t.Helper()
	scantest.RegisterScanners()
	return &config.Dataset{
		Name: "testds", Path: t.TempDir(), Type: "iseg",
		Format: format, Step: "daily",
		Unique:  []types.Code{types.CodeReftime, types.CodeOrigin, types.CodeProduct},
		Index:   config.DefaultIndex,
		Replace: config.ReplaceNever,
		Locking: true,
		Test:    true,
	}
}

func gribMD(mo, day, hour int, product uint8) *metadata.Metadata {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, mo, day, hour, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: product})
	md.Set(types.LevelGRIB1{Type: 105, L1: 2})
	return md
}

func gribInbound(mo, day, hour int, product uint8) *Inbound {
	md := gribMD(mo, day, hour, product)
	return &Inbound{MD: md, Data: scantest.GRIB(md)}
}

func acquireAll(t *testing.T, w Writer, ins ...*Inbound) {
	t.Helper()
	for _, in := range ins {
		res, err := w.Acquire(in, config.ReplaceDefault)
		require.NoError(t, err)
		require.Equal(t, AcquireOK, res)
	}
	require.NoError(t, w.Flush())
}

func queryAll(t *testing.T, r Reader, q Query) []*metadata.Metadata {
	t.Helper()
	var out []*metadata.Metadata
	require.NoError(t, r.QueryData(q, func(md *metadata.Metadata) (bool, error) {
		out = append(out, md)
		return true, nil
	}))
	return out
}

// Scenario: create and query a daily dataset.
func TestCreateAndQueryDaily(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	in1 := gribInbound(1, 15, 0, 11)
	in2 := gribInbound(1, 15, 12, 11)
	in3 := gribInbound(1, 16, 0, 11)
	acquireAll(t, w, in1, in2, in3)
	require.NoError(t, w.Close())

	// after acquire, sources are blobs inside the dataset
	blob, ok := in1.MD.Source().(types.SourceBlob)
	require.True(t, ok)
	assert.Equal(t, "2024/01-15.grib", blob.Relpath)
	assert.Equal(t, cfg.Path, blob.Basedir)

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	m := matcher.MustParse("reftime:=2024-01-15")
	got := queryAll(t, r, Query{Matcher: m})
	require.Len(t, got, 2)
	rt0, _ := got[0].ReftimePosition()
	rt1, _ := got[1].ReftimePosition()
	assert.Equal(t, types.NewTime(2024, 1, 15, 0, 0, 0), rt0)
	assert.Equal(t, types.NewTime(2024, 1, 15, 12, 0, 0), rt1)

	sum, err := r.QuerySummary(m)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sum.Count())
	expected := uint64(len(in1.Data) + len(in2.Data))
	assert.Equal(t, expected, sum.Size())
}

// Scenario: duplicates under replace=never.
func TestDuplicateNever(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	defer w.Close()

	first := gribInbound(1, 15, 0, 11)
	res, err := w.Acquire(first, config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireOK, res)

	again := gribInbound(1, 15, 0, 11)
	res, err = w.Acquire(again, config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireDuplicate, res)
	require.NoError(t, w.Flush())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()
	got := queryAll(t, r, Query{})
	assert.Len(t, got, 1)
}

// Scenario: replace=higher_usn on BUFR records.
func TestReplaceHigherUSN(t *testing.T) {
	cfg := isegConfig(t, "bufr")
	cfg.Replace = config.ReplaceHigherUSN
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	defer w.Close()

	bufrIn := func(usn uint8) *Inbound {
		md := gribMD(1, 15, 0, 11)
		return &Inbound{MD: md, Data: scantest.BUFR(md, usn)}
	}

	res, err := w.Acquire(bufrIn(3), config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireOK, res)

	res, err = w.Acquire(bufrIn(2), config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireDuplicate, res, "lower USN must not replace")

	winner := bufrIn(4)
	res, err = w.Acquire(winner, config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireOK, res)
	require.NoError(t, w.Flush())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()
	got := queryAll(t, r, Query{WithData: true})
	require.Len(t, got, 1)
	assert.Equal(t, winner.Data, got[0].Data(), "the USN=4 variant must win")
}

// Scenario: repack after deletes frees exactly the deleted bytes.
func TestRepackAfterDelete(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	var ins []*Inbound
	for hour := 0; hour < 10; hour++ {
		ins = append(ins, gribInbound(1, 15, hour, 11))
	}
	for _, in := range ins {
		res, err := w.Acquire(in, config.ReplaceDefault)
		require.NoError(t, err)
		require.Equal(t, AcquireOK, res)
	}
	require.NoError(t, w.Close())

	checker, err := session.OpenChecker(cfg)
	require.NoError(t, err)
	tester, ok := checker.(CheckerTester)
	require.True(t, ok)
	// positions count live messages, so the later one goes first
	require.NoError(t, tester.TestDeleteFromIndex("2024/01-15.grib", 7))
	require.NoError(t, tester.TestDeleteFromIndex("2024/01-15.grib", 3))

	freed, err := checker.Repack(true, NullReporter)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(ins[3].Data)+len(ins[7].Data)), freed)
	require.NoError(t, checker.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()
	got := queryAll(t, r, Query{WithData: true})
	require.Len(t, got, 8)
	want := []int{0, 1, 2, 4, 5, 6, 8, 9}
	for i, md := range got {
		rt, _ := md.ReftimePosition()
		assert.Equal(t, want[i], rt.Hour, "record %d out of order", i)
		assert.Equal(t, ins[want[i]].Data, md.Data(), "record %d bytes corrupted by repack", i)
	}
}

// Scenario: summary cache coherence across new acquisitions.
func TestSummaryCacheCoherence(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w,
		gribInbound(1, 15, 0, 11),
		gribInbound(1, 16, 0, 11),
		gribInbound(2, 10, 0, 11),
	)

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	sum, err := r.QuerySummary(matcher.Matcher{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Count())

	janPath := filepath.Join(cfg.Path, ".summaries", "2024-01.summary")
	febPath := filepath.Join(cfg.Path, ".summaries", "2024-02.summary")
	janBefore, err := os.ReadFile(janPath)
	require.NoError(t, err)
	febBefore, err := os.ReadFile(febPath)
	require.NoError(t, err)

	// one more January record invalidates only January
	acquireAll(t, w, gribInbound(1, 15, 12, 11))
	require.NoError(t, w.Close())

	_, err = os.Stat(janPath)
	assert.True(t, os.IsNotExist(err), "the touched month must be dropped from the cache")
	febAfter, err := os.ReadFile(febPath)
	require.NoError(t, err)
	assert.Equal(t, febBefore, febAfter, "untouched months must stay untouched")

	sum, err = r.QuerySummary(matcher.Matcher{})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), sum.Count())

	janAfter, err := os.ReadFile(janPath)
	require.NoError(t, err)
	assert.NotEqual(t, janBefore, janAfter, "January must have been recomputed")
}

// Scenario: the checker classifies a truncated segment as UNALIGNED
// and repairs it by truncating the index.
func TestCheckerDetectsUnaligned(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w,
		gribInbound(1, 15, 0, 11),
		gribInbound(1, 15, 12, 11),
		gribInbound(1, 16, 0, 11),
	)
	require.NoError(t, w.Close())

	checker, err := session.OpenChecker(cfg)
	require.NoError(t, err)
	tester := checker.(CheckerTester)
	size := getFileSize(t, filepath.Join(cfg.Path, "2024/01-15.grib"))
	// cut the second message of the segment in half
	half := int64(len(gribInbound(1, 15, 12, 11).Data) / 2)
	require.NoError(t, tester.TestTruncateData("2024/01-15.grib", size-half))

	states := map[string]segment.State{}
	require.NoError(t, checker.Check(false, func(relpath string, state segment.State, msg string) {
		states[relpath] = state
	}))
	assert.Equal(t, segment.StateUnaligned, states["2024/01-15.grib"])
	assert.Equal(t, segment.StateOK, states["2024/01-16.grib"], "only the truncated segment may be flagged")

	require.NoError(t, checker.Check(true, NullReporter))

	// checker fixpoint: a second fixing run finds a healthy dataset
	states = map[string]segment.State{}
	require.NoError(t, checker.Check(true, func(relpath string, state segment.State, msg string) {
		states[relpath] = state
	}))
	for relpath, state := range states {
		assert.Equal(t, segment.StateOK, state, "segment %s not healthy after fix", relpath)
	}
	require.NoError(t, checker.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()
	got := queryAll(t, r, Query{})
	assert.Len(t, got, 2, "the message cut in half must be gone, the rest must survive")
}

func getFileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

// Query completeness: everything acquired is returned exactly once by
// any matcher accepting it.
func TestQueryCompleteness(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	var ins []*Inbound
	for day := 14; day <= 16; day++ {
		for _, p := range []uint8{11, 22} {
			ins = append(ins, gribInbound(1, day, 6, p))
		}
	}
	acquireAll(t, w, ins...)
	require.NoError(t, w.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	for _, expr := range []string{"", "product:GRIB1,200,2,11", "reftime:>=2024-01-15", "origin:GRIB1,200"} {
		m := matcher.MustParse(expr)
		want := 0
		for _, in := range ins {
			if m.Match(in.MD) {
				want++
			}
		}
		got := queryAll(t, r, Query{Matcher: m})
		assert.Len(t, got, want, "matcher %q", expr)
	}
}

// Write durability: a fresh session observes what a closed writer
// stored.
func TestWriteDurability(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w, gribInbound(1, 15, 0, 11))
	require.NoError(t, w.Close())
	session.Close()

	fresh := NewSession()
	defer fresh.Close()
	r, err := fresh.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()
	got := queryAll(t, r, Query{WithData: true})
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].Data())
}

func TestSortedQuery(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w,
		gribInbound(1, 15, 0, 33),
		gribInbound(1, 15, 0, 11),
		gribInbound(1, 15, 0, 22),
	)
	require.NoError(t, w.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	spec, err := ParseSort("day:product")
	require.NoError(t, err)
	got := queryAll(t, r, Query{Sort: spec})
	require.Len(t, got, 3)
	var products []uint8
	for _, md := range got {
		products = append(products, md.Get(types.CodeProduct).(types.ProductGRIB1).Product)
	}
	assert.Equal(t, []uint8{11, 22, 33}, products)
}

func TestCancellation(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w,
		gribInbound(1, 15, 0, 11),
		gribInbound(1, 16, 0, 11),
		gribInbound(1, 17, 0, 11),
	)
	require.NoError(t, w.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	// a false progress return cancels at the next segment boundary
	calls := 0
	got := 0
	err = r.QueryData(Query{Progress: func(count int, bytes uint64) bool {
		calls++
		return calls <= 1
	}}, func(md *metadata.Metadata) (bool, error) {
		got++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got, "only the first segment should have been delivered")

	// a false sink return stops cleanly mid-stream
	got = 0
	err = r.QueryData(Query{}, func(md *metadata.Metadata) (bool, error) {
		got++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestDeletedRecordsStayHidden(t *testing.T) {
	cfg := isegConfig(t, "grib")
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w, gribInbound(1, 15, 0, 11), gribInbound(1, 15, 12, 11))
	require.NoError(t, w.Close())

	// open the reader before the delete: the index is authoritative,
	// so the deleted record must not surface even for it
	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	checker, err := session.OpenChecker(cfg)
	require.NoError(t, err)
	require.NoError(t, checker.(CheckerTester).TestDeleteFromIndex("2024/01-15.grib", 0))
	require.NoError(t, checker.Close())

	got := queryAll(t, r, Query{})
	assert.Len(t, got, 1)
}

func TestOutboundWriter(t *testing.T) {
	cfg := isegConfig(t, "grib")
	cfg.Type = "outbound"
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w, gribInbound(1, 15, 0, 11))
	require.NoError(t, w.Close())

	// the segment exists, nothing is indexed
	assert.True(t, fileExists(filepath.Join(cfg.Path, "2024/01-15.grib")))
	assert.False(t, fileExists(filepath.Join(cfg.Path, "2024/01-15.grib.index")))
}

func TestDiscardAndEmpty(t *testing.T) {
	cfg := isegConfig(t, "grib")
	cfg.Type = "discard"
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	res, err := w.Acquire(gribInbound(1, 15, 0, 11), config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireOK, res)
	require.NoError(t, w.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	got := queryAll(t, r, Query{})
	assert.Empty(t, got)
}

func TestSimpleDataset(t *testing.T) {
	cfg := isegConfig(t, "grib")
	cfg.Type = "simple"
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w, gribInbound(1, 15, 0, 11), gribInbound(1, 16, 0, 22))
	require.NoError(t, w.Close())

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()

	got := queryAll(t, r, Query{Matcher: matcher.MustParse("reftime:=2024-01-15")})
	require.Len(t, got, 1)

	sum, err := r.QuerySummary(matcher.MustParse("product:GRIB1,200,2,22"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sum.Count())
}

func TestOndisk2Dataset(t *testing.T) {
	cfg := isegConfig(t, "grib")
	cfg.Type = "ondisk2"
	session := NewSession()
	defer session.Close()

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	acquireAll(t, w,
		gribInbound(1, 15, 0, 11),
		gribInbound(1, 15, 12, 11),
		gribInbound(1, 16, 0, 11),
	)

	// the global unique constraint rejects duplicates too
	res, err := w.Acquire(gribInbound(1, 15, 0, 11), config.ReplaceDefault)
	require.NoError(t, err)
	assert.Equal(t, AcquireDuplicate, res)
	require.NoError(t, w.Close())

	assert.True(t, fileExists(filepath.Join(cfg.Path, "index.sqlite")))

	r, err := session.OpenReader(cfg)
	require.NoError(t, err)
	defer r.Close()
	got := queryAll(t, r, Query{Matcher: matcher.MustParse("reftime:=2024-01-15")})
	assert.Len(t, got, 2)

	sum, err := r.QuerySummary(matcher.Matcher{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Count())
}
