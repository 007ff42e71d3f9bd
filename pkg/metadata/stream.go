// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Stream framing: each frame is signature:2 | version:u16 | length:u32
// | payload. A "!D" frame is followed by the raw message bytes, whose
// size is recorded in the inline source inside the payload.
const (
	SigMetadata = "MD"
	SigInline   = "!D"
	SigSummary  = "SU"
	SigGroup    = "MG"
)

// Version is the stream format version written by this build.
const Version uint16 = 0

// Frame is one undecoded stream frame.
type Frame struct {
	Sig     string
	Version uint16
	Payload []byte
	// Offset of the frame start in the carrying stream.
	Offset int64
}

// WriteFrame writes one frame envelope.
func WriteFrame(w io.Writer, sig string, payload []byte) error {
	if len(sig) != 2 {
		return fmt.Errorf("frame signature %q must be 2 bytes", sig)
	}
	hdr := make([]byte, 8)
	copy(hdr, sig)
	binary.BigEndian.PutUint16(hdr[2:], Version)
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// StreamReader reads frames keeping track of the stream offset, so
// truncation errors can name where the stream broke.
type StreamReader struct {
	r      io.Reader
	offset int64
}

func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

func (sr *StreamReader) Offset() int64 { return sr.offset }

func (sr *StreamReader) readFull(buf []byte) error {
	n, err := io.ReadFull(sr.r, buf)
	sr.offset += int64(n)
	return err
}

// ReadFrame reads the next frame. A clean end of stream returns
// io.EOF; a stream cut mid-frame returns a format error naming the
// offset.
func (sr *StreamReader) ReadFrame() (*Frame, error) {
	start := sr.offset
	hdr := make([]byte, 8)
	if err := sr.readFull(hdr); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("metadata stream truncated inside frame header at offset %d: %w", start, types.ErrFormat)
	}
	f := &Frame{
		Sig:     string(hdr[:2]),
		Version: binary.BigEndian.Uint16(hdr[2:]),
		Offset:  start,
	}
	switch f.Sig {
	case SigMetadata, SigInline, SigSummary, SigGroup:
	default:
		return nil, fmt.Errorf("unknown frame signature %q at offset %d: %w", f.Sig, start, types.ErrFormat)
	}
	size := binary.BigEndian.Uint32(hdr[4:])
	f.Payload = make([]byte, size)
	if err := sr.readFull(f.Payload); err != nil {
		return nil, fmt.Errorf("metadata stream truncated inside %s frame at offset %d: %w", f.Sig, start, types.ErrFormat)
	}
	return f, nil
}

// encodePayload renders the enveloped items: dimension values in
// insertion order, then notes, then the source.
func (md *Metadata) encodePayload() []byte {
	e := types.NewEncoder()
	for _, it := range md.items {
		types.Encode(e, it)
	}
	for _, n := range md.notes {
		types.Encode(e, n)
	}
	if md.source != nil {
		types.Encode(e, md.source)
	}
	return e.Bytes()
}

// decodePayload fills the record from an MD payload.
func decodePayload(payload []byte) (*Metadata, error) {
	md := New()
	d := types.NewDecoder(payload)
	for d.Remaining() > 0 {
		it, err := types.Decode(d)
		if err != nil {
			return nil, err
		}
		switch v := it.(type) {
		case types.Note:
			md.notes = append(md.notes, v)
		case types.Source:
			md.source = v
		default:
			// append directly: decoding must preserve duplicate
			// unknown items verbatim
			md.items = append(md.items, it)
		}
	}
	return md, nil
}

// Write writes the record as one frame, using the inline signature and
// appending the message bytes when they are embedded.
func (md *Metadata) Write(w io.Writer) error {
	payload := md.encodePayload()
	sig := SigMetadata
	if _, inline := md.source.(types.SourceInline); inline && md.data != nil {
		sig = SigInline
	}
	if err := WriteFrame(w, sig, payload); err != nil {
		return err
	}
	if sig == SigInline {
		if _, err := w.Write(md.data); err != nil {
			return err
		}
	}
	return nil
}

// Encode returns the framed binary form.
func (md *Metadata) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFunc consumes a decoded record; returning false stops the read
// cleanly.
type ReadFunc func(*Metadata) (bool, error)

// Read decodes a metadata stream, invoking f per record. Group frames
// are expanded transparently; a summary frame in the stream is a
// format error.
func Read(r io.Reader, f ReadFunc) error {
	sr := NewStreamReader(r)
	for {
		frame, err := sr.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		goOn, err := handleFrame(sr, frame, f)
		if err != nil {
			return err
		}
		if !goOn {
			return nil
		}
	}
}

// ReadOne decodes a single record from the stream, returning nil at a
// clean EOF.
func ReadOne(r io.Reader) (*Metadata, error) {
	var got *Metadata
	err := Read(r, func(md *Metadata) (bool, error) {
		got = md
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return got, nil
}

func handleFrame(sr *StreamReader, frame *Frame, f ReadFunc) (bool, error) {
	switch frame.Sig {
	case SigMetadata:
		md, err := decodePayload(frame.Payload)
		if err != nil {
			return false, err
		}
		return f(md)
	case SigInline:
		md, err := decodePayload(frame.Payload)
		if err != nil {
			return false, err
		}
		inline, ok := md.source.(types.SourceInline)
		if !ok {
			return false, fmt.Errorf("inline frame at offset %d has no inline source: %w", frame.Offset, types.ErrFormat)
		}
		md.data = make([]byte, inline.Size)
		if err := sr.readFull(md.data); err != nil {
			return false, fmt.Errorf("metadata stream truncated inside inline data at offset %d: %w", frame.Offset, types.ErrFormat)
		}
		return f(md)
	case SigGroup:
		return readGroup(frame, f)
	case SigSummary:
		return false, fmt.Errorf("summary frame in metadata stream at offset %d: %w", frame.Offset, types.ErrFormat)
	}
	return true, nil
}

// WriteGroup bundles records into one compressed MG frame for bulk
// transfer.
func WriteGroup(w io.Writer, mds []*Metadata) error {
	var inner bytes.Buffer
	zw := gzip.NewWriter(&inner)
	for _, md := range mds {
		payload := md.encodePayload()
		e := types.NewEncoder()
		e.Varint(uint64(len(payload)))
		if _, err := zw.Write(e.Bytes()); err != nil {
			return err
		}
		if _, err := zw.Write(payload); err != nil {
			return err
		}
		if _, inline := md.source.(types.SourceInline); inline && md.data != nil {
			if _, err := zw.Write(md.data); err != nil {
				return err
			}
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return WriteFrame(w, SigGroup, inner.Bytes())
}

func readGroup(frame *Frame, f ReadFunc) (bool, error) {
	zr, err := gzip.NewReader(bytes.NewReader(frame.Payload))
	if err != nil {
		return false, fmt.Errorf("group frame at offset %d: %w: %v", frame.Offset, types.ErrFormat, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return false, fmt.Errorf("group frame at offset %d: %w: %v", frame.Offset, types.ErrFormat, err)
	}
	for pos := 0; pos < len(raw); {
		size, n := binary.Uvarint(raw[pos:])
		if n <= 0 {
			return false, fmt.Errorf("group frame at offset %d: %w: bad record length", frame.Offset, types.ErrFormat)
		}
		pos += n
		if uint64(len(raw)-pos) < size {
			return false, fmt.Errorf("group frame at offset %d: %w: record truncated", frame.Offset, types.ErrFormat)
		}
		md, err := decodePayload(raw[pos : pos+int(size)])
		if err != nil {
			return false, err
		}
		pos += int(size)
		if inline, ok := md.source.(types.SourceInline); ok {
			if uint64(len(raw)-pos) < inline.Size {
				return false, fmt.Errorf("group frame at offset %d: %w: inline data truncated", frame.Offset, types.ErrFormat)
			}
			md.data = append([]byte(nil), raw[pos:pos+int(inline.Size)]...)
			pos += int(inline.Size)
		}
		goOn, err := f(md)
		if err != nil || !goOn {
			return goOn, err
		}
	}
	return true, nil
}

// IsFormatError reports whether err comes from malformed stream input.
func IsFormatError(err error) bool {
	return errors.Is(err, types.ErrFormat)
}
