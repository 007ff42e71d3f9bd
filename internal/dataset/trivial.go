// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"os"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// emptyReader answers every query with nothing; it backs the empty
// and discard dataset types.
type emptyReader struct {
	cfg *config.Dataset
}

func newEmptyReader(cfg *config.Dataset) Reader {
	return &emptyReader{cfg: cfg}
}

func (d *emptyReader) Name() string            { return d.cfg.Name }
func (d *emptyReader) Config() *config.Dataset { return d.cfg }
func (d *emptyReader) Close() error            { return nil }

func (d *emptyReader) QueryData(q Query, f metadata.ReadFunc) error {
	return nil
}

func (d *emptyReader) QuerySummary(m matcher.Matcher) (*summary.Summary, error) {
	return summary.New(), nil
}

// discardWriter accepts everything and stores nothing.
type discardWriter struct {
	cfg *config.Dataset
}

func newDiscardWriter(cfg *config.Dataset) Writer {
	return &discardWriter{cfg: cfg}
}

func (d *discardWriter) Name() string            { return d.cfg.Name }
func (d *discardWriter) Config() *config.Dataset { return d.cfg }

func (d *discardWriter) Acquire(in *Inbound, replace config.ReplaceStrategy) (AcquireResult, error) {
	return AcquireOK, nil
}

func (d *discardWriter) AcquireBatch(batch []*Inbound, replace config.ReplaceStrategy) ([]AcquireResult, error) {
	results := make([]AcquireResult, len(batch))
	return results, nil
}

func (d *discardWriter) Flush() error { return nil }
func (d *discardWriter) Close() error { return nil }

// outboundWriter writes segments without any index: a drop box for
// forwarding to other systems. The data is not queryable here.
type outboundWriter struct {
	*segmented
	open   map[string]*outboundOpenSegment
	closed bool
}

type outboundOpenSegment struct {
	w    segment.Writer
	lock *segment.Lock
}

func newOutboundWriter(s *Session, cfg *config.Dataset) (Writer, error) {
	seg, err := newSegmented(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, 0o777); err != nil {
		return nil, err
	}
	return &outboundWriter{segmented: seg, open: make(map[string]*outboundOpenSegment)}, nil
}

func (d *outboundWriter) Name() string            { return d.cfg.Name }
func (d *outboundWriter) Config() *config.Dataset { return d.cfg }

func (d *outboundWriter) Acquire(in *Inbound, replace config.ReplaceStrategy) (AcquireResult, error) {
	md := in.MD
	rt, ok := md.ReftimePosition()
	if !ok {
		return AcquireError, fmt.Errorf("dataset %s: record has no reference time", d.cfg.Name)
	}
	format := md.Format()
	if format == "" {
		format = d.cfg.Format
	}
	if format == "" {
		return AcquireError, fmt.Errorf("dataset %s: record carries no format", d.cfg.Name)
	}
	relpath := d.relpathFor(rt, format)
	seg, ok := d.open[relpath]
	if !ok {
		lock, err := d.segmentLockExclusive(relpath)
		if err != nil {
			return AcquireError, err
		}
		w, err := segment.OpenWriter(format, d.abspath(relpath), segment.WriterOptions{Eatmydata: d.cfg.Eatmydata})
		if err != nil {
			lock.Release()
			return AcquireError, err
		}
		seg = &outboundOpenSegment{w: w, lock: lock}
		d.open[relpath] = seg
	}
	offset, err := seg.w.Append(in.Data)
	if err != nil {
		return AcquireError, err
	}
	md.SetSource(types.SourceBlob{
		Fmt: format, Basedir: d.root, Relpath: relpath,
		Offset: offset, Size: uint64(len(in.Data)),
	})
	return AcquireOK, nil
}

func (d *outboundWriter) AcquireBatch(batch []*Inbound, replace config.ReplaceStrategy) ([]AcquireResult, error) {
	results := make([]AcquireResult, len(batch))
	var firstErr error
	for i, in := range batch {
		res, err := d.Acquire(in, replace)
		results[i] = res
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

func (d *outboundWriter) Flush() error {
	var firstErr error
	for relpath, seg := range d.open {
		if err := seg.w.Commit(); err != nil && firstErr == nil {
			firstErr = err
		}
		seg.w.Close()
		seg.lock.Release()
		delete(d.open, relpath)
	}
	return firstErr
}

func (d *outboundWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.Flush()
}

// mergedReader interleaves the results of several readers; there is
// no cross-dataset ordering guarantee.
type mergedReader struct {
	name    string
	readers []Reader
}

// NewMergedReader merges several datasets into one read surface.
func NewMergedReader(readers []Reader) Reader {
	return &mergedReader{name: "merged", readers: readers}
}

func (d *mergedReader) Name() string { return d.name }

func (d *mergedReader) Config() *config.Dataset {
	return &config.Dataset{Name: d.name, Type: "empty"}
}

func (d *mergedReader) QueryData(q Query, f metadata.ReadFunc) error {
	stopped := false
	for _, r := range d.readers {
		if stopped {
			break
		}
		err := r.QueryData(q, func(md *metadata.Metadata) (bool, error) {
			goOn, err := f(md)
			if !goOn {
				stopped = true
			}
			return goOn, err
		})
		if err != nil {
			return fmt.Errorf("dataset %s: %w", r.Name(), err)
		}
	}
	return nil
}

func (d *mergedReader) QuerySummary(m matcher.Matcher) (*summary.Summary, error) {
	total := summary.New()
	for _, r := range d.readers {
		s, err := r.QuerySummary(m)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", r.Name(), err)
		}
		total.AddSummary(s)
	}
	return total, nil
}

func (d *mergedReader) Close() error {
	var firstErr error
	for _, r := range d.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
