// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dataset implements the dataset engine: per-format-variant
// readers, writers and checkers over the segment substrate and the
// indices, plus the session and pool that tie them together.
package dataset

import (
	"errors"
	"fmt"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/segment"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
)

// ErrNotFound is wrapped by lookups of datasets, segments or records
// that do not exist.
var ErrNotFound = errors.New("not found")

// Query is one data query against a reader.
type Query struct {
	Matcher matcher.Matcher
	// WithData loads the message bytes inline into each result.
	WithData bool
	// Sort buffers and reorders results per sort interval; nil keeps
	// the (segment, offset) order.
	Sort *SortSpec
	// Progress is polled between segments; returning false cancels
	// the query at the next segment boundary. Results already
	// delivered stay delivered.
	Progress func(count int, bytes uint64) bool
}

// Reader answers queries against one dataset.
type Reader interface {
	Name() string
	Config() *config.Dataset
	// QueryData streams matching metadata; f returning false stops
	// cleanly.
	QueryData(q Query, f metadata.ReadFunc) error
	// QuerySummary aggregates matching records, served from the
	// summary cache when possible.
	QuerySummary(m matcher.Matcher) (*summary.Summary, error)
	Close() error
}

// AcquireResult is the outcome of offering one record to a writer.
type AcquireResult int

const (
	AcquireOK AcquireResult = iota
	AcquireDuplicate
	AcquireError
)

func (r AcquireResult) String() string {
	switch r {
	case AcquireOK:
		return "OK"
	case AcquireDuplicate:
		return "DUPLICATE"
	default:
		return "ERROR"
	}
}

// Inbound is one scanned message offered for acquisition.
type Inbound struct {
	MD   *metadata.Metadata
	Data []byte
}

// Writer stores records into one dataset. On AcquireOK the record's
// source is rewritten to a blob pointing inside the dataset and the
// record becomes queryable once Flush returns.
type Writer interface {
	Name() string
	Config() *config.Dataset
	Acquire(in *Inbound, replace config.ReplaceStrategy) (AcquireResult, error)
	// AcquireBatch amortizes segment and index opens over records
	// grouped by target segment.
	AcquireBatch(batch []*Inbound, replace config.ReplaceStrategy) ([]AcquireResult, error)
	// Flush commits all open transactions: segment bytes first, then
	// fsync, then the index.
	Flush() error
	Close() error
}

// Reporter receives checker findings, one line per segment.
type Reporter func(relpath string, state segment.State, msg string)

// NullReporter drops findings.
func NullReporter(string, segment.State, string) {}

// Checker maintains consistency between a dataset's index and its
// segments.
type Checker interface {
	Name() string
	Config() *config.Dataset
	// Check classifies every segment; with fix it repairs what can be
	// repaired in place (reindex NEW, truncate the index of UNALIGNED
	// segments).
	Check(fix bool, rep Reporter) error
	// Repack rewrites segments with reclaimable space, returning the
	// bytes freed.
	Repack(fix bool, rep Reporter) (uint64, error)
	// RemoveOld deletes segments past the delete age.
	RemoveOld(fix bool, rep Reporter) (uint64, error)
	// Archive moves segments past the archive age under
	// .archive/last/, read-only.
	Archive(rep Reporter) error
	// CheckIssue51 verifies the end-of-message marker of every
	// indexed message, rewriting the final byte with fix.
	CheckIssue51(fix bool, rep Reporter) error
	Close() error
}

// OpenReader gives read access to a dataset of any type.
func (s *Session) OpenReader(cfg *config.Dataset) (Reader, error) {
	switch cfg.Type {
	case "iseg":
		return newIsegReader(s, cfg)
	case "ondisk2":
		return newOndisk2Reader(s, cfg)
	case "simple":
		return newSimpleReader(s, cfg)
	case "empty", "discard":
		return newEmptyReader(cfg), nil
	case "remote":
		return newHTTPReader(s, cfg)
	default:
		return nil, fmt.Errorf("dataset %s: type %s has no reader", cfg.Name, cfg.Type)
	}
}

// OpenWriter gives write access to a dataset of any type.
func (s *Session) OpenWriter(cfg *config.Dataset) (Writer, error) {
	switch cfg.Type {
	case "iseg":
		return newIsegWriter(s, cfg)
	case "ondisk2":
		return newOndisk2Writer(s, cfg)
	case "simple":
		return newSimpleWriter(s, cfg)
	case "outbound":
		return newOutboundWriter(s, cfg)
	case "discard":
		return newDiscardWriter(cfg), nil
	default:
		return nil, fmt.Errorf("dataset %s: type %s has no writer", cfg.Name, cfg.Type)
	}
}

// OpenChecker gives maintenance access to a dataset of any type.
func (s *Session) OpenChecker(cfg *config.Dataset) (Checker, error) {
	switch cfg.Type {
	case "iseg":
		return newIsegChecker(s, cfg)
	case "ondisk2":
		return newOndisk2Checker(s, cfg)
	case "simple":
		return newSimpleChecker(s, cfg)
	default:
		return nil, fmt.Errorf("dataset %s: type %s has no checker", cfg.Name, cfg.Type)
	}
}
