// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"encoding/binary"
	"fmt"
)

// Encoder accumulates the canonical binary encoding of typed values.
// Multi-byte integers are big-endian so that encoded values sort the
// same way their decoded counterparts do.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) U8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) U16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) U32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) U64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) Varint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *Encoder) SVarint(v int64) {
	e.buf = binary.AppendVarint(e.buf, v)
}

func (e *Encoder) Raw(b []byte) {
	e.buf = append(e.buf, b...)
}

// String writes a varint length followed by the bytes.
func (e *Encoder) String(s string) {
	e.Varint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Time writes the 7-byte packed form: year:u16 mo:u8 da:u8 ho:u8 mi:u8
// se:u8. The packing sorts chronologically under bytes.Compare.
func (e *Encoder) Time(t Time) {
	e.U16(uint16(t.Year))
	e.U8(uint8(t.Month))
	e.U8(uint8(t.Day))
	e.U8(uint8(t.Hour))
	e.U8(uint8(t.Minute))
	e.U8(uint8(t.Second))
}

// Decoder reads back what Encoder wrote. Errors are sticky: after the
// first failure every read returns the zero value and Err stays set.
type Decoder struct {
	buf []byte
	off int
	Err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) fail(what string) {
	if d.Err == nil {
		d.Err = fmt.Errorf("decoding %s: %w at offset %d", what, ErrFormat, d.off)
	}
}

func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) U8() uint8 {
	if d.Err != nil || d.Remaining() < 1 {
		d.fail("u8")
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *Decoder) U16() uint16 {
	if d.Err != nil || d.Remaining() < 2 {
		d.fail("u16")
		return 0
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

func (d *Decoder) U32() uint32 {
	if d.Err != nil || d.Remaining() < 4 {
		d.fail("u32")
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *Decoder) U64() uint64 {
	if d.Err != nil || d.Remaining() < 8 {
		d.fail("u64")
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *Decoder) Varint() uint64 {
	if d.Err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.off += n
	return v
}

func (d *Decoder) SVarint() int64 {
	if d.Err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		d.fail("svarint")
		return 0
	}
	d.off += n
	return v
}

func (d *Decoder) RawN(n int) []byte {
	if d.Err != nil || n < 0 || d.Remaining() < n {
		d.fail("raw bytes")
		return nil
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v
}

// Rest consumes and returns all remaining bytes.
func (d *Decoder) Rest() []byte {
	return d.RawN(d.Remaining())
}

func (d *Decoder) String() string {
	n := d.Varint()
	if d.Err != nil {
		return ""
	}
	if n > uint64(d.Remaining()) {
		d.fail("string")
		return ""
	}
	return string(d.RawN(int(n)))
}

func (d *Decoder) Time() Time {
	var t Time
	t.Year = int(d.U16())
	t.Month = int(d.U8())
	t.Day = int(d.U8())
	t.Hour = int(d.U8())
	t.Minute = int(d.U8())
	t.Second = int(d.U8())
	return t
}
