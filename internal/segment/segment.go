// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package segment implements the storage substrate: append-only data
// files holding a contiguous run of same-format messages, their
// metadata and summary sidecars, and the archived (tar/zip/gz)
// layouts. A segment is always addressed by its abspath without
// layout suffix; the layout is detected on open.
package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ARPA-SIMC/arkimet/internal/scan"
	"github.com/ARPA-SIMC/arkimet/internal/util"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Span locates one message inside a segment.
type Span = scan.Span

// ErrConsistency is wrapped by errors where the on-disk state
// contradicts itself.
var ErrConsistency = errors.New("consistency error")

// State classifies a segment during a checker run.
type State int

const (
	StateOK State = iota
	// StateDirty marks segments where a repack would reclaim space or
	// restore ordering.
	StateDirty
	// StateUnaligned marks segments whose data disagrees with the
	// index.
	StateUnaligned
	// StateMissing marks segments referenced by the index but absent
	// on disk.
	StateMissing
	// StateDeleted marks segments only the index knows about, with no
	// trace on disk and nothing to salvage.
	StateDeleted
	StateCorrupted
	// StateArchiveAge and StateDeleteAge mark segments past the
	// configured ages.
	StateArchiveAge
	StateDeleteAge
	// StateNew marks segments on disk that the index does not know.
	StateNew
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateDirty:
		return "DIRTY"
	case StateUnaligned:
		return "UNALIGNED"
	case StateMissing:
		return "MISSING"
	case StateDeleted:
		return "DELETED"
	case StateCorrupted:
		return "CORRUPTED"
	case StateArchiveAge:
		return "ARCHIVE_AGE"
	case StateDeleteAge:
		return "DELETE_AGE"
	case StateNew:
		return "NEW"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Layout is the physical shape of a segment on disk.
type Layout int

const (
	LayoutNone Layout = iota
	LayoutFile
	LayoutDir
	LayoutTar
	LayoutZip
	LayoutGz
)

// DetectLayout looks for the segment on disk.
func DetectLayout(abspath string) Layout {
	if fi, err := os.Stat(abspath); err == nil {
		if fi.IsDir() {
			return LayoutDir
		}
		return LayoutFile
	}
	for suffix, layout := range map[string]Layout{
		".tar": LayoutTar, ".zip": LayoutZip, ".gz": LayoutGz,
	} {
		if util.CheckFileExists(abspath + suffix) {
			return layout
		}
	}
	return LayoutNone
}

// Exists reports whether the segment is present in any layout.
func Exists(abspath string) bool {
	return DetectLayout(abspath) != LayoutNone
}

// Reader gives read access to one segment.
type Reader interface {
	// Scan streams the stored metadata from the sidecar.
	Scan(f func(*metadata.Metadata) (bool, error)) error
	// Read returns one message's bytes.
	Read(offset, size uint64) ([]byte, error)
	// ReadInto streams one message's bytes into w.
	ReadInto(offset, size uint64, w io.Writer) (int64, error)
	Close() error
}

// Writer appends messages to one segment. Appends become durable at
// Commit; Rollback truncates back to the last Commit (or to the state
// at open time when there was none).
type Writer interface {
	Append(data []byte) (offset uint64, err error)
	// Tell returns the offset the next Append will use.
	Tell() uint64
	Commit() error
	Rollback() error
	Close() error
}

// WriterOptions tune commit behavior.
type WriterOptions struct {
	// Eatmydata skips fsync entirely, trading durability for speed.
	Eatmydata bool
	// DropCachedDataOnCommit advises the kernel to drop the segment's
	// page cache after a successful fsync. A no-op under Eatmydata:
	// nothing is known durable, so nothing is safe to drop.
	DropCachedDataOnCommit bool
}

// OpenReader opens a segment for reading, detecting its layout.
func OpenReader(format, abspath string) (Reader, error) {
	switch DetectLayout(abspath) {
	case LayoutFile:
		return newFdReader(format, abspath, abspath)
	case LayoutDir:
		return newDirReader(format, abspath)
	case LayoutTar:
		return newFdReader(format, abspath, abspath+".tar")
	case LayoutZip:
		return newFdReader(format, abspath, abspath+".zip")
	case LayoutGz:
		return newGzReader(format, abspath)
	default:
		return nil, fmt.Errorf("segment %s: not found", abspath)
	}
}

// OpenWriter opens a segment for appending, creating it if missing.
// ODIMH5 segments hold one file per message and use the directory
// layout; everything else concatenates into one file.
func OpenWriter(format, abspath string, opts WriterOptions) (Writer, error) {
	switch DetectLayout(abspath) {
	case LayoutTar, LayoutZip, LayoutGz:
		return nil, fmt.Errorf("segment %s: archived segments are read-only", abspath)
	case LayoutDir:
		return newDirWriter(format, abspath, opts)
	case LayoutFile:
		return newFdWriter(format, abspath, opts)
	case LayoutNone:
		if format == "odimh5" {
			return newDirWriter(format, abspath, opts)
		}
		return newFdWriter(format, abspath, opts)
	}
	return nil, fmt.Errorf("segment %s: unsupported layout", abspath)
}

// OpenChecker opens a segment for maintenance.
func OpenChecker(format, abspath string) (Checker, error) {
	switch DetectLayout(abspath) {
	case LayoutFile:
		return &fdChecker{format: format, abspath: abspath}, nil
	case LayoutDir:
		return &dirChecker{format: format, abspath: abspath}, nil
	case LayoutTar:
		return &archivedChecker{format: format, abspath: abspath, datapath: abspath + ".tar"}, nil
	case LayoutZip:
		return &archivedChecker{format: format, abspath: abspath, datapath: abspath + ".zip"}, nil
	case LayoutGz:
		return &archivedChecker{format: format, abspath: abspath, datapath: abspath + ".gz"}, nil
	default:
		return nil, fmt.Errorf("segment %s: not found", abspath)
	}
}

// Checker gives maintenance access to one segment.
type Checker interface {
	// ScanData re-scans the raw bytes through the format scanner,
	// rebuilding metadata from data alone.
	ScanData(f func(md *metadata.Metadata, span Span) (bool, error)) error
	// Repack rewrites the segment keeping only the given spans in the
	// given order, atomically replacing it. It returns the new size
	// and the spans' new locations.
	Repack(order []Span) (newSize int64, relocated []Span, err error)
	// Tar converts to the tar layout, returning the new message
	// locations.
	Tar(order []Span) ([]Span, error)
	// Zip converts to the zip layout, returning the new message
	// locations.
	Zip(order []Span) ([]Span, error)
	// Compress converts to the gz layout; message offsets stay
	// meaningful in the uncompressed stream.
	Compress(order []Span, groupSize int) error
	// Remove deletes the segment (sidecars always; data only with
	// withData), returning the data bytes freed.
	Remove(withData bool) (uint64, error)
	// Size returns the current data size: bytes for file layouts,
	// total message bytes for directories.
	Size() int64
}

/* sidecars */

// MetadataPath returns the metadata sidecar path.
func MetadataPath(abspath string) string { return abspath + ".metadata" }

// SummaryPath returns the summary sidecar path.
func SummaryPath(abspath string) string { return abspath + ".summary" }

// WriteMetadataSidecar rewrites the metadata sidecar atomically; the
// records are written with the sources they carry, unchanged.
func WriteMetadataSidecar(abspath string, mds []*metadata.Metadata) error {
	var buf strings.Builder
	for _, md := range mds {
		if err := md.Write(&buf); err != nil {
			return err
		}
	}
	return util.WriteFileAtomically(MetadataPath(abspath), []byte(buf.String()))
}

// ReadMetadataSidecar loads the metadata sidecar.
func ReadMetadataSidecar(abspath string) ([]*metadata.Metadata, error) {
	f, err := os.Open(MetadataPath(abspath))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []*metadata.Metadata
	err = metadata.Read(f, func(md *metadata.Metadata) (bool, error) {
		out = append(out, md)
		return true, nil
	})
	return out, err
}

// WriteSummarySidecar rewrites the summary sidecar atomically.
func WriteSummarySidecar(abspath string, s *summary.Summary) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return util.WriteFileAtomically(SummaryPath(abspath), data)
}

// ReadSummarySidecar loads the summary sidecar.
func ReadSummarySidecar(abspath string) (*summary.Summary, error) {
	return summary.ReadFile(SummaryPath(abspath))
}

// RemoveSidecars drops both sidecars, ignoring missing files.
func RemoveSidecars(abspath string) {
	os.Remove(MetadataPath(abspath))
	os.Remove(SummaryPath(abspath))
}

// BlobSource builds the blob source for a message stored in this
// segment, with relpath relative to the dataset root.
func BlobSource(format, relpath string, span Span) types.SourceBlob {
	return types.SourceBlob{
		Fmt:     format,
		Relpath: relpath,
		Offset:  span.Offset,
		Size:    span.Size,
	}
}

func fsyncDir(path string) error {
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
