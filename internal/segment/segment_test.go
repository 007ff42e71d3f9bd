// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/internal/scan/scantest"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func fixtureMD(hour int) *metadata.Metadata {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, hour, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: 11})
	return md
}

// fills a file segment with three fixture messages, committing after
// each append, and writes its sidecars
func fillSegment(t *testing.T, abspath string) ([][]byte, []Span) {
	t.Helper()
	scantest.RegisterScanners()
	w, err := OpenWriter("grib", abspath, WriterOptions{})
	require.NoError(t, err)
	defer w.Close()

	var blobs [][]byte
	var spans []Span
	var mds []*metadata.Metadata
	for hour := 0; hour < 3; hour++ {
		md := fixtureMD(hour)
		data := scantest.GRIB(md)
		offset, err := w.Append(data)
		require.NoError(t, err)
		span := Span{Offset: offset, Size: uint64(len(data))}
		md.SetSource(BlobSource("grib", filepath.Base(abspath), span))
		blobs = append(blobs, data)
		spans = append(spans, span)
		mds = append(mds, md)
	}
	require.NoError(t, w.Commit())
	require.NoError(t, WriteMetadataSidecar(abspath, mds))

	sum := summary.New()
	for _, md := range mds {
		sum.Add(md)
	}
	require.NoError(t, WriteSummarySidecar(abspath, sum))
	return blobs, spans
}

func TestFdAppendAndRead(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "2024", "01-15.grib")
	blobs, spans := fillSegment(t, abspath)

	r, err := OpenReader("grib", abspath)
	require.NoError(t, err)
	defer r.Close()

	for i, span := range spans {
		data, err := r.Read(span.Offset, span.Size)
		require.NoError(t, err)
		assert.Equal(t, blobs[i], data)

		var buf bytes.Buffer
		n, err := r.ReadInto(span.Offset, span.Size, &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(span.Size), n)
		assert.Equal(t, blobs[i], buf.Bytes())
	}

	var count int
	require.NoError(t, r.Scan(func(md *metadata.Metadata) (bool, error) {
		count++
		return true, nil
	}))
	assert.Equal(t, 3, count)
}

func TestFdRollback(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	w, err := OpenWriter("grib", abspath, WriterOptions{})
	require.NoError(t, err)

	data := scantest.GRIB(fixtureMD(0))
	_, err = w.Append(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	_, err = w.Append(data)
	require.NoError(t, err)
	require.NoError(t, w.Rollback())
	require.NoError(t, w.Close())

	fi, err := os.Stat(abspath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), fi.Size(), "rollback must truncate to the last commit")
}

func TestFdCloseDropsUncommitted(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	w, err := OpenWriter("grib", abspath, WriterOptions{})
	require.NoError(t, err)

	data := scantest.GRIB(fixtureMD(0))
	_, err = w.Append(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, int64(0), getSize(t, abspath))
}

func getSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

func TestFdRepack(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	blobs, spans := fillSegment(t, abspath)

	// keep messages 2 and 0, in that order
	checker, err := OpenChecker("grib", abspath)
	require.NoError(t, err)
	newSize, relocated, err := checker.Repack([]Span{spans[2], spans[0]})
	require.NoError(t, err)
	assert.Equal(t, int64(spans[2].Size+spans[0].Size), newSize)
	require.Len(t, relocated, 2)

	r, err := OpenReader("grib", abspath)
	require.NoError(t, err)
	defer r.Close()
	data, err := r.Read(relocated[0].Offset, relocated[0].Size)
	require.NoError(t, err)
	assert.Equal(t, blobs[2], data)
	data, err = r.Read(relocated[1].Offset, relocated[1].Size)
	require.NoError(t, err)
	assert.Equal(t, blobs[0], data)
}

func TestFdScanData(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	_, spans := fillSegment(t, abspath)

	checker, err := OpenChecker("grib", abspath)
	require.NoError(t, err)

	var got []Span
	require.NoError(t, checker.ScanData(func(md *metadata.Metadata, span Span) (bool, error) {
		got = append(got, span)
		return true, nil
	}))
	assert.Equal(t, spans, got)
}

func TestDirSegment(t *testing.T) {
	scantest.RegisterScanners()
	abspath := filepath.Join(t.TempDir(), "seg.odimh5")
	w, err := newDirWriter("odimh5", abspath, WriterOptions{})
	require.NoError(t, err)

	first, err := w.Append([]byte("volume zero"))
	require.NoError(t, err)
	second, err := w.Append([]byte("volume one"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(1), second)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	r, err := OpenReader("odimh5", abspath)
	require.NoError(t, err)
	data, err := r.Read(1, uint64(len("volume one")))
	require.NoError(t, err)
	assert.Equal(t, []byte("volume one"), data)

	// size mismatch against the index is a consistency error
	_, err = r.Read(1, 5)
	assert.ErrorIs(t, err, ErrConsistency)

	// a new writer continues the sequence
	w2, err := newDirWriter("odimh5", abspath, WriterOptions{})
	require.NoError(t, err)
	third, err := w2.Append([]byte("volume two"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), third)
	require.NoError(t, w2.Rollback())
	require.NoError(t, w2.Close())
	assert.False(t, pathExists(filepath.Join(abspath, "000002.odimh5")))
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestTarConversion(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	blobs, spans := fillSegment(t, abspath)

	checker, err := OpenChecker("grib", abspath)
	require.NoError(t, err)
	relocated, err := checker.Tar(spans)
	require.NoError(t, err)
	require.Len(t, relocated, 3)
	assert.False(t, pathExists(abspath))
	assert.True(t, pathExists(abspath+".tar"))

	r, err := OpenReader("grib", abspath)
	require.NoError(t, err)
	defer r.Close()
	for i, span := range relocated {
		data, err := r.Read(span.Offset, span.Size)
		require.NoError(t, err)
		assert.Equal(t, blobs[i], data, "member %d", i)
	}

	// rescan of the archived layout yields the same messages
	archived, err := OpenChecker("grib", abspath)
	require.NoError(t, err)
	var got []Span
	require.NoError(t, archived.ScanData(func(md *metadata.Metadata, span Span) (bool, error) {
		got = append(got, span)
		return true, nil
	}))
	assert.Equal(t, relocated, got)
}

func TestZipConversion(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	blobs, spans := fillSegment(t, abspath)

	checker, err := OpenChecker("grib", abspath)
	require.NoError(t, err)
	relocated, err := checker.Zip(spans)
	require.NoError(t, err)
	assert.True(t, pathExists(abspath+".zip"))

	r, err := OpenReader("grib", abspath)
	require.NoError(t, err)
	defer r.Close()
	for i, span := range relocated {
		data, err := r.Read(span.Offset, span.Size)
		require.NoError(t, err)
		assert.Equal(t, blobs[i], data, "member %d", i)
	}
}

func TestGzConversion(t *testing.T) {
	for _, groupSize := range []int{0, 2} {
		abspath := filepath.Join(t.TempDir(), "seg.grib")
		blobs, spans := fillSegment(t, abspath)

		checker, err := OpenChecker("grib", abspath)
		require.NoError(t, err)
		require.NoError(t, checker.Compress(spans, groupSize))
		assert.True(t, pathExists(abspath+".gz"))
		assert.Equal(t, groupSize > 0, pathExists(abspath+".gz.idx"))

		r, err := OpenReader("grib", abspath)
		require.NoError(t, err)
		// gz keeps the original uncompressed offsets
		for i, span := range spans {
			data, err := r.Read(span.Offset, span.Size)
			require.NoError(t, err, "group size %d message %d", groupSize, i)
			assert.Equal(t, blobs[i], data)
		}
		r.Close()
	}
}

func TestRemove(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	fillSegment(t, abspath)
	size := getSize(t, abspath)

	checker, err := OpenChecker("grib", abspath)
	require.NoError(t, err)
	freed, err := checker.Remove(true)
	require.NoError(t, err)
	assert.Equal(t, uint64(size), freed)
	assert.False(t, pathExists(abspath))
	assert.False(t, pathExists(MetadataPath(abspath)))
	assert.False(t, pathExists(SummaryPath(abspath)))
}

func TestLockExclusion(t *testing.T) {
	lockPath := DataLockPath(filepath.Join(t.TempDir(), "seg.grib"))

	shared1, err := AcquireShared(lockPath)
	require.NoError(t, err)
	shared2, err := AcquireShared(lockPath)
	require.NoError(t, err)
	require.NoError(t, shared1.Release())
	require.NoError(t, shared2.Release())

	excl, err := AcquireExclusive(lockPath)
	require.NoError(t, err)
	require.NoError(t, excl.Release())
	// Release is idempotent
	require.NoError(t, excl.Release())
}

func TestSidecarRoundTrip(t *testing.T) {
	abspath := filepath.Join(t.TempDir(), "seg.grib")
	fillSegment(t, abspath)

	mds, err := ReadMetadataSidecar(abspath)
	require.NoError(t, err)
	require.Len(t, mds, 3)
	blob, ok := mds[0].Source().(types.SourceBlob)
	require.True(t, ok)
	assert.Equal(t, "seg.grib", blob.Relpath)

	sum, err := ReadSummarySidecar(abspath)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Count())
}
