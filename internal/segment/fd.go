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

	"golang.org/x/sys/unix"

	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/util"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// fdReader reads messages out of one concatenated file. It also
// serves tar and zip layouts, whose message offsets point straight
// into the archive file.
type fdReader struct {
	format   string
	abspath  string
	datapath string
	f        *os.File
}

func newFdReader(format, abspath, datapath string) (*fdReader, error) {
	f, err := os.Open(datapath)
	if err != nil {
		return nil, err
	}
	return &fdReader{format: format, abspath: abspath, datapath: datapath, f: f}, nil
}

func (r *fdReader) Scan(f func(*metadata.Metadata) (bool, error)) error {
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

func (r *fdReader) Read(offset, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := r.f.ReadAt(buf, int64(offset))
	if err != nil {
		return nil, fmt.Errorf("segment %s: reading %d bytes at %d: %w (got %d)", r.datapath, size, offset, err, n)
	}
	return buf, nil
}

func (r *fdReader) ReadInto(offset, size uint64, w io.Writer) (int64, error) {
	// io.Copy from a SectionReader lets the runtime use
	// copy_file_range/sendfile when w is file-backed
	return io.Copy(w, io.NewSectionReader(r.f, int64(offset), int64(size)))
}

func (r *fdReader) Close() error {
	return r.f.Close()
}

// fdWriter appends to one concatenated file.
type fdWriter struct {
	format     string
	abspath    string
	f          *os.File
	checkpoint int64
	pos        int64
	opts       WriterOptions
	done       bool
}

func newFdWriter(format, abspath string, opts WriterOptions) (*fdWriter, error) {
	if err := os.MkdirAll(filepath.Dir(abspath), 0o777); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(abspath, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fdWriter{
		format:     format,
		abspath:    abspath,
		f:          f,
		checkpoint: fi.Size(),
		pos:        fi.Size(),
		opts:       opts,
	}, nil
}

func (w *fdWriter) Tell() uint64 {
	return uint64(w.pos)
}

func (w *fdWriter) Append(data []byte) (uint64, error) {
	offset := uint64(w.pos)
	if _, err := w.f.WriteAt(data, w.pos); err != nil {
		return 0, err
	}
	w.pos += int64(len(data))
	return offset, nil
}

func (w *fdWriter) Commit() error {
	if w.opts.Eatmydata {
		w.checkpoint = w.pos
		return nil
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	if w.opts.DropCachedDataOnCommit {
		if err := unix.Fadvise(int(w.f.Fd()), 0, w.pos, unix.FADV_DONTNEED); err != nil {
			log.Debugf("segment %s: fadvise: %v", w.abspath, err)
		}
	}
	w.checkpoint = w.pos
	return nil
}

func (w *fdWriter) Rollback() error {
	if err := w.f.Truncate(w.checkpoint); err != nil {
		return err
	}
	w.pos = w.checkpoint
	return nil
}

func (w *fdWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	// uncommitted appends do not survive the writer
	if w.pos != w.checkpoint {
		if err := w.Rollback(); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.f.Close()
}

// fdChecker maintains one concatenated file segment.
type fdChecker struct {
	format  string
	abspath string
}

func (c *fdChecker) ScanData(f func(md *metadata.Metadata, span Span) (bool, error)) error {
	data, err := os.ReadFile(c.abspath)
	if err != nil {
		return err
	}
	return scan.Data(c.format, data, f)
}

func (c *fdChecker) Size() int64 {
	return util.GetFilesize(c.abspath)
}

func (c *fdChecker) Repack(order []Span) (int64, []Span, error) {
	src, err := os.Open(c.abspath)
	if err != nil {
		return 0, nil, err
	}
	defer src.Close()

	tmppath := c.abspath + ".repack"
	dst, err := os.Create(tmppath)
	if err != nil {
		return 0, nil, err
	}

	relocated := make([]Span, 0, len(order))
	var pos uint64
	for _, span := range order {
		if _, err := io.Copy(dst, io.NewSectionReader(src, int64(span.Offset), int64(span.Size))); err != nil {
			dst.Close()
			os.Remove(tmppath)
			return 0, nil, fmt.Errorf("segment %s: repacking span %d+%d: %w", c.abspath, span.Offset, span.Size, err)
		}
		relocated = append(relocated, Span{Offset: pos, Size: span.Size})
		pos += span.Size
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmppath)
		return 0, nil, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmppath)
		return 0, nil, err
	}
	if err := os.Rename(tmppath, c.abspath); err != nil {
		os.Remove(tmppath)
		return 0, nil, err
	}
	if err := fsyncDir(c.abspath); err != nil {
		return 0, nil, err
	}
	return int64(pos), relocated, nil
}

func (c *fdChecker) Tar(order []Span) ([]Span, error) {
	return tarConvert(c.format, c.abspath, c.readSpan, order)
}

func (c *fdChecker) Zip(order []Span) ([]Span, error) {
	return zipConvert(c.format, c.abspath, c.readSpan, order)
}

func (c *fdChecker) Compress(order []Span, groupSize int) error {
	return gzConvert(c.abspath, c.readSpan, order, groupSize)
}

func (c *fdChecker) readSpan(span Span) ([]byte, error) {
	f, err := os.Open(c.abspath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, span.Size)
	if _, err := f.ReadAt(buf, int64(span.Offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *fdChecker) Remove(withData bool) (uint64, error) {
	RemoveSidecars(c.abspath)
	if !withData {
		return 0, nil
	}
	freed := uint64(util.GetFilesize(c.abspath))
	if err := os.Remove(c.abspath); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return freed, nil
}
