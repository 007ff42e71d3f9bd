// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/util"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// Directory segments hold one file per message, named by the message's
// intra-segment sequence number; the message "offset" is that
// sequence number. A .sequence file holds the next number to assign.

const sequenceFile = ".sequence"

func dirMemberName(format string, seq uint64) string {
	return fmt.Sprintf("%06d.%s", seq, format)
}

func dirMemberSeq(name string) (uint64, bool) {
	base := name
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	} else {
		return 0, false
	}
	seq, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func readSequence(abspath string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(abspath, sequenceFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("segment %s: corrupted sequence file: %w", abspath, ErrConsistency)
	}
	return seq, nil
}

func writeSequence(abspath string, seq uint64) error {
	return util.WriteFileAtomically(filepath.Join(abspath, sequenceFile), []byte(strconv.FormatUint(seq, 10)+"\n"))
}

// listMembers returns the member sequence numbers in order.
func listMembers(abspath string) ([]uint64, error) {
	entries, err := os.ReadDir(abspath)
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, de := range entries {
		if de.IsDir() || de.Name() == sequenceFile {
			continue
		}
		if seq, ok := dirMemberSeq(de.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

type dirReader struct {
	format  string
	abspath string
}

func newDirReader(format, abspath string) (*dirReader, error) {
	if fi, err := os.Stat(abspath); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("segment %s: not a directory", abspath)
	}
	return &dirReader{format: format, abspath: abspath}, nil
}

func (r *dirReader) Scan(f func(*metadata.Metadata) (bool, error)) error {
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

func (r *dirReader) Read(offset, size uint64) ([]byte, error) {
	path := filepath.Join(r.abspath, dirMemberName(r.format, offset))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != size {
		return nil, fmt.Errorf("segment %s: member %06d is %d bytes, index says %d: %w",
			r.abspath, offset, len(data), size, ErrConsistency)
	}
	return data, nil
}

func (r *dirReader) ReadInto(offset, size uint64, w io.Writer) (int64, error) {
	data, err := r.Read(offset, size)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (r *dirReader) Close() error { return nil }

type dirWriter struct {
	format     string
	abspath    string
	checkpoint uint64
	next       uint64
	opts       WriterOptions
	written    []uint64
}

func newDirWriter(format, abspath string, opts WriterOptions) (*dirWriter, error) {
	if err := os.MkdirAll(abspath, 0o777); err != nil {
		return nil, err
	}
	next, err := readSequence(abspath)
	if err != nil {
		return nil, err
	}
	return &dirWriter{
		format:     format,
		abspath:    abspath,
		checkpoint: next,
		next:       next,
		opts:       opts,
	}, nil
}

func (w *dirWriter) Tell() uint64 {
	return w.next
}

func (w *dirWriter) Append(data []byte) (uint64, error) {
	seq := w.next
	path := filepath.Join(w.abspath, dirMemberName(w.format, seq))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}
	if !w.opts.Eatmydata {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(path)
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, err
	}
	w.written = append(w.written, seq)
	w.next++
	return seq, nil
}

func (w *dirWriter) Commit() error {
	if err := writeSequence(w.abspath, w.next); err != nil {
		return err
	}
	if !w.opts.Eatmydata {
		if err := fsyncDir(filepath.Join(w.abspath, sequenceFile)); err != nil {
			return err
		}
	}
	w.checkpoint = w.next
	w.written = nil
	return nil
}

func (w *dirWriter) Rollback() error {
	for _, seq := range w.written {
		os.Remove(filepath.Join(w.abspath, dirMemberName(w.format, seq)))
	}
	w.written = nil
	w.next = w.checkpoint
	return nil
}

func (w *dirWriter) Close() error {
	if len(w.written) > 0 {
		return w.Rollback()
	}
	return nil
}

type dirChecker struct {
	format  string
	abspath string
}

func (c *dirChecker) ScanData(f func(md *metadata.Metadata, span Span) (bool, error)) error {
	scanner, err := scan.Get(c.format)
	if err != nil {
		return err
	}
	seqs, err := listMembers(c.abspath)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		data, err := os.ReadFile(filepath.Join(c.abspath, dirMemberName(c.format, seq)))
		if err != nil {
			return err
		}
		md, err := scanner.Scan(data)
		if err != nil {
			return fmt.Errorf("segment %s member %06d: %w", c.abspath, seq, err)
		}
		goOn, err := f(md, Span{Offset: seq, Size: uint64(len(data))})
		if err != nil || !goOn {
			return err
		}
	}
	return nil
}

func (c *dirChecker) Size() int64 {
	seqs, err := listMembers(c.abspath)
	if err != nil {
		return 0
	}
	var total int64
	for _, seq := range seqs {
		total += util.GetFilesize(filepath.Join(c.abspath, dirMemberName(c.format, seq)))
	}
	return total
}

// Repack renumbers the surviving members from zero, dropping the
// rest.
func (c *dirChecker) Repack(order []Span) (int64, []Span, error) {
	tmppath := c.abspath + ".repack"
	if err := os.RemoveAll(tmppath); err != nil {
		return 0, nil, err
	}
	if err := os.MkdirAll(tmppath, 0o777); err != nil {
		return 0, nil, err
	}

	relocated := make([]Span, 0, len(order))
	var total int64
	for i, span := range order {
		src := filepath.Join(c.abspath, dirMemberName(c.format, span.Offset))
		dst := filepath.Join(tmppath, dirMemberName(c.format, uint64(i)))
		data, err := os.ReadFile(src)
		if err != nil {
			os.RemoveAll(tmppath)
			return 0, nil, err
		}
		if err := os.WriteFile(dst, data, 0o666); err != nil {
			os.RemoveAll(tmppath)
			return 0, nil, err
		}
		relocated = append(relocated, Span{Offset: uint64(i), Size: span.Size})
		total += int64(len(data))
	}
	if err := writeSequence(tmppath, uint64(len(order))); err != nil {
		os.RemoveAll(tmppath)
		return 0, nil, err
	}

	old := c.abspath + ".repack.old"
	if err := os.Rename(c.abspath, old); err != nil {
		os.RemoveAll(tmppath)
		return 0, nil, err
	}
	if err := os.Rename(tmppath, c.abspath); err != nil {
		os.Rename(old, c.abspath)
		os.RemoveAll(tmppath)
		return 0, nil, err
	}
	os.RemoveAll(old)
	return total, relocated, nil
}

func (c *dirChecker) Tar(order []Span) ([]Span, error) {
	spans, err := tarConvert(c.format, c.abspath, c.readSpan, order)
	if err != nil {
		return nil, err
	}
	return spans, nil
}

func (c *dirChecker) Zip(order []Span) ([]Span, error) {
	return zipConvert(c.format, c.abspath, c.readSpan, order)
}

func (c *dirChecker) Compress(order []Span, groupSize int) error {
	return gzConvert(c.abspath, c.readSpan, order, groupSize)
}

func (c *dirChecker) readSpan(span Span) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.abspath, dirMemberName(c.format, span.Offset)))
}

func (c *dirChecker) Remove(withData bool) (uint64, error) {
	RemoveSidecars(c.abspath)
	if !withData {
		return 0, nil
	}
	freed := uint64(c.Size())
	if err := os.RemoveAll(c.abspath); err != nil {
		return 0, err
	}
	return freed, nil
}
