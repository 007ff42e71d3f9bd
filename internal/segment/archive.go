// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/util"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// Archived layouts are immutable: conversion happens in the checker,
// queries read them in place. Tar and zip store members uncompressed,
// so message offsets keep pointing straight into the archive file and
// the plain file reader serves them. Gz keeps offsets meaningful in
// the uncompressed stream, with an optional .gz.idx mapping group
// starts to compressed offsets.

type readSpanFunc func(Span) ([]byte, error)

// removeOriginal drops the pre-conversion layout, whichever it was.
func removeOriginal(abspath string) error {
	fi, err := os.Stat(abspath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return os.RemoveAll(abspath)
	}
	return os.Remove(abspath)
}

func tarConvert(format, abspath string, read readSpanFunc, order []Span) ([]Span, error) {
	tmppath := abspath + ".tar.tmp"
	f, err := os.Create(tmppath)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(f)

	relocated := make([]Span, 0, len(order))
	var pos int64
	for i, span := range order {
		data, err := read(span)
		if err != nil {
			f.Close()
			os.Remove(tmppath)
			return nil, err
		}
		hdr := &tar.Header{
			Name: fmt.Sprintf("%06d.%s", i, format),
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			f.Close()
			os.Remove(tmppath)
			return nil, err
		}
		// member data starts right after the 512-byte header block
		dataOffset := pos + 512
		if _, err := tw.Write(data); err != nil {
			f.Close()
			os.Remove(tmppath)
			return nil, err
		}
		relocated = append(relocated, Span{Offset: uint64(dataOffset), Size: uint64(len(data))})
		pos = dataOffset + int64(len(data))
		if pad := pos % 512; pad != 0 {
			pos += 512 - pad
		}
	}
	if err := tw.Close(); err != nil {
		f.Close()
		os.Remove(tmppath)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmppath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmppath)
		return nil, err
	}
	if err := os.Rename(tmppath, abspath+".tar"); err != nil {
		os.Remove(tmppath)
		return nil, err
	}
	if err := removeOriginal(abspath); err != nil {
		return nil, err
	}
	return relocated, nil
}

func zipConvert(format, abspath string, read readSpanFunc, order []Span) ([]Span, error) {
	tmppath := abspath + ".zip.tmp"
	f, err := os.Create(tmppath)
	if err != nil {
		return nil, err
	}
	zw := zip.NewWriter(f)
	for i, span := range order {
		data, err := read(span)
		if err != nil {
			f.Close()
			os.Remove(tmppath)
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   fmt.Sprintf("%06d.%s", i, format),
			Method: zip.Store,
		})
		if err != nil {
			f.Close()
			os.Remove(tmppath)
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			f.Close()
			os.Remove(tmppath)
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmppath)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmppath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmppath)
		return nil, err
	}

	// reopen to learn where the stored members landed
	zr, err := zip.OpenReader(tmppath)
	if err != nil {
		os.Remove(tmppath)
		return nil, err
	}
	relocated := make([]Span, 0, len(order))
	for _, member := range zr.File {
		dataOffset, err := member.DataOffset()
		if err != nil {
			zr.Close()
			os.Remove(tmppath)
			return nil, err
		}
		relocated = append(relocated, Span{Offset: uint64(dataOffset), Size: member.UncompressedSize64})
	}
	zr.Close()

	if err := os.Rename(tmppath, abspath+".zip"); err != nil {
		os.Remove(tmppath)
		return nil, err
	}
	if err := removeOriginal(abspath); err != nil {
		return nil, err
	}
	return relocated, nil
}

// gzIdxPath is the group index alongside a compressed segment.
func gzIdxPath(abspath string) string { return abspath + ".gz.idx" }

func gzConvert(abspath string, read readSpanFunc, order []Span, groupSize int) error {
	tmppath := abspath + ".gz.tmp"
	f, err := os.Create(tmppath)
	if err != nil {
		return err
	}

	type idxEntry struct{ uoff, coff uint64 }
	var idx []idxEntry
	var uoff uint64

	flushGroup := func(group [][]byte) error {
		here, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		idx = append(idx, idxEntry{uoff: uoff, coff: uint64(here)})
		zw := gzip.NewWriter(f)
		for _, data := range group {
			if _, err := zw.Write(data); err != nil {
				return err
			}
			uoff += uint64(len(data))
		}
		return zw.Close()
	}

	var group [][]byte
	for _, span := range order {
		data, err := read(span)
		if err != nil {
			f.Close()
			os.Remove(tmppath)
			return err
		}
		group = append(group, data)
		if groupSize > 0 && len(group) >= groupSize {
			if err := flushGroup(group); err != nil {
				f.Close()
				os.Remove(tmppath)
				return err
			}
			group = nil
		}
	}
	if len(group) > 0 {
		if err := flushGroup(group); err != nil {
			f.Close()
			os.Remove(tmppath)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmppath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmppath)
		return err
	}

	if groupSize > 0 {
		var sb strings.Builder
		for _, en := range idx {
			fmt.Fprintf(&sb, "%d %d\n", en.uoff, en.coff)
		}
		if err := util.WriteFileAtomically(gzIdxPath(abspath), []byte(sb.String())); err != nil {
			os.Remove(tmppath)
			return err
		}
	}
	if err := os.Rename(tmppath, abspath+".gz"); err != nil {
		os.Remove(tmppath)
		return err
	}
	return removeOriginal(abspath)
}

// gzReader serves compressed segments; offsets address the
// uncompressed stream.
type gzReader struct {
	format  string
	abspath string
	groups  []gzGroup
}

type gzGroup struct {
	uoff uint64
	coff uint64
}

func newGzReader(format, abspath string) (*gzReader, error) {
	r := &gzReader{format: format, abspath: abspath}
	idxf, err := os.Open(gzIdxPath(abspath))
	if err == nil {
		defer idxf.Close()
		scanner := bufio.NewScanner(idxf)
		for scanner.Scan() {
			var g gzGroup
			if _, err := fmt.Sscanf(scanner.Text(), "%d %d", &g.uoff, &g.coff); err != nil {
				return nil, fmt.Errorf("segment %s: corrupted gz index: %w", abspath, ErrConsistency)
			}
			r.groups = append(r.groups, g)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return r, nil
}

func (r *gzReader) Scan(f func(*metadata.Metadata) (bool, error)) error {
	mds, err := ReadMetadataSidecar(r.abspath)
	if err != nil {
		return err
	}
	for _, md := range mds {
		goOn, err := f(md)
		if err != nil || !goOn {
			return err
		}
	}
	return nil
}

func (r *gzReader) Read(offset, size uint64) ([]byte, error) {
	f, err := os.Open(r.abspath + ".gz")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	skip := offset
	if len(r.groups) > 0 {
		group := r.groups[0]
		for _, g := range r.groups {
			if g.uoff > offset {
				break
			}
			group = g
		}
		if _, err := f.Seek(int64(group.coff), io.SeekStart); err != nil {
			return nil, err
		}
		skip = offset - group.uoff
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	zr.Multistream(len(r.groups) == 0)

	if _, err := io.CopyN(io.Discard, zr, int64(skip)); err != nil {
		return nil, fmt.Errorf("segment %s: seeking to offset %d: %w", r.abspath, offset, err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(zr, buf); err != nil {
		return nil, fmt.Errorf("segment %s: reading %d bytes at %d: %w", r.abspath, size, offset, err)
	}
	return buf, nil
}

func (r *gzReader) ReadInto(offset, size uint64, w io.Writer) (int64, error) {
	data, err := r.Read(offset, size)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (r *gzReader) Close() error { return nil }

// archivedChecker covers the immutable layouts: scan and remove work,
// everything that would rewrite data refuses.
type archivedChecker struct {
	format   string
	abspath  string
	datapath string
}

func (c *archivedChecker) ScanData(f func(md *metadata.Metadata, span Span) (bool, error)) error {
	scanner, err := scan.Get(c.format)
	if err != nil {
		return err
	}
	switch {
	case strings.HasSuffix(c.datapath, ".tar"):
		return c.scanTar(scanner, f)
	case strings.HasSuffix(c.datapath, ".zip"):
		return c.scanZip(scanner, f)
	default:
		return c.scanGz(f)
	}
}

func (c *archivedChecker) scanTar(scanner scan.Scanner, f func(md *metadata.Metadata, span Span) (bool, error)) error {
	file, err := os.Open(c.datapath)
	if err != nil {
		return err
	}
	defer file.Close()
	tr := tar.NewReader(file)
	// members were written with plain ustar headers, so offsets are
	// deterministic: header block, data, padding to 512
	var pos uint64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		offset := pos + 512
		pos = offset + uint64(len(data))
		if pad := pos % 512; pad != 0 {
			pos += 512 - pad
		}
		md, err := scanner.Scan(data)
		if err != nil {
			return fmt.Errorf("segment %s member %s: %w", c.datapath, hdr.Name, err)
		}
		goOn, err := f(md, Span{Offset: offset, Size: uint64(len(data))})
		if err != nil || !goOn {
			return err
		}
	}
}

func (c *archivedChecker) scanZip(scanner scan.Scanner, f func(md *metadata.Metadata, span Span) (bool, error)) error {
	zr, err := zip.OpenReader(c.datapath)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, member := range zr.File {
		rc, err := member.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		offset, err := member.DataOffset()
		if err != nil {
			return err
		}
		md, err := scanner.Scan(data)
		if err != nil {
			return fmt.Errorf("segment %s member %s: %w", c.datapath, member.Name, err)
		}
		goOn, err := f(md, Span{Offset: uint64(offset), Size: uint64(len(data))})
		if err != nil || !goOn {
			return err
		}
	}
	return nil
}

func (c *archivedChecker) scanGz(f func(md *metadata.Metadata, span Span) (bool, error)) error {
	file, err := os.Open(c.datapath)
	if err != nil {
		return err
	}
	defer file.Close()
	zr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer zr.Close()
	zr.Multistream(true)
	data, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	return scan.Data(c.format, data, f)
}

func (c *archivedChecker) Size() int64 {
	return util.GetFilesize(c.datapath)
}

func (c *archivedChecker) Repack([]Span) (int64, []Span, error) {
	return 0, nil, fmt.Errorf("segment %s: archived segments are immutable", c.abspath)
}

func (c *archivedChecker) Tar([]Span) ([]Span, error) {
	return nil, fmt.Errorf("segment %s: already archived", c.abspath)
}

func (c *archivedChecker) Zip([]Span) ([]Span, error) {
	return nil, fmt.Errorf("segment %s: already archived", c.abspath)
}

func (c *archivedChecker) Compress([]Span, int) error {
	return fmt.Errorf("segment %s: already archived", c.abspath)
}

func (c *archivedChecker) Remove(withData bool) (uint64, error) {
	RemoveSidecars(c.abspath)
	os.Remove(gzIdxPath(c.abspath))
	if !withData {
		return 0, nil
	}
	freed := uint64(util.GetFilesize(c.datapath))
	if err := os.Remove(c.datapath); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return freed, nil
}
