// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	bagValueInt    uint8 = 0
	bagValueString uint8 = 1
)

// ValueBag is a set of named scalar values (integers or strings) with a
// canonical, key-sorted encoding. Areas and proddefs are bags.
type ValueBag struct {
	vals map[string]interface{}
}

func NewValueBag() ValueBag {
	return ValueBag{vals: make(map[string]interface{})}
}

func (b ValueBag) Len() int {
	return len(b.vals)
}

// SetInt stores an integer value under name.
func (b ValueBag) SetInt(name string, v int64) {
	b.vals[name] = v
}

// SetString stores a string value under name.
func (b ValueBag) SetString(name string, v string) {
	b.vals[name] = v
}

// Get returns the value for name, an int64 or a string.
func (b ValueBag) Get(name string) (interface{}, bool) {
	v, ok := b.vals[name]
	return v, ok
}

// Keys returns the names in sorted order.
func (b ValueBag) Keys() []string {
	keys := make([]string, 0, len(b.vals))
	for k := range b.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Contains reports whether every entry of sub has the same value here.
func (b ValueBag) Contains(sub ValueBag) bool {
	for k, want := range sub.vals {
		got, ok := b.vals[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (b ValueBag) Equal(o ValueBag) bool {
	return len(b.vals) == len(o.vals) && b.Contains(o)
}

func (b ValueBag) Encode(e *Encoder) {
	keys := b.Keys()
	e.Varint(uint64(len(keys)))
	for _, k := range keys {
		e.String(k)
		switch v := b.vals[k].(type) {
		case int64:
			e.U8(bagValueInt)
			e.SVarint(v)
		case string:
			e.U8(bagValueString)
			e.String(v)
		}
	}
}

func DecodeValueBag(d *Decoder) ValueBag {
	b := NewValueBag()
	n := d.Varint()
	for i := uint64(0); i < n && d.Err == nil; i++ {
		k := d.String()
		switch kind := d.U8(); kind {
		case bagValueInt:
			b.vals[k] = d.SVarint()
		case bagValueString:
			b.vals[k] = d.String()
		default:
			d.fail("value bag entry kind")
		}
	}
	return b
}

// String renders "key1=val1, key2="text"" with keys sorted.
func (b ValueBag) String() string {
	var sb strings.Builder
	for i, k := range b.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		switch v := b.vals[k].(type) {
		case int64:
			sb.WriteString(strconv.FormatInt(v, 10))
		case string:
			sb.WriteString(strconv.Quote(v))
		}
	}
	return sb.String()
}

func (b ValueBag) Serialise() map[string]interface{} {
	out := make(map[string]interface{}, len(b.vals))
	for k, v := range b.vals {
		switch val := v.(type) {
		case int64:
			out[k] = int(val)
		case string:
			out[k] = val
		}
	}
	return out
}

// ValueBagFromMapping rebuilds a bag from its structured form.
func ValueBagFromMapping(m map[string]interface{}) (ValueBag, error) {
	b := NewValueBag()
	for k, v := range m {
		switch val := v.(type) {
		case int:
			b.vals[k] = int64(val)
		case int64:
			b.vals[k] = val
		case float64:
			b.vals[k] = int64(val)
		case string:
			b.vals[k] = val
		default:
			return ValueBag{}, fmt.Errorf("value bag key %q has unsupported type %T: %w", k, v, ErrFormat)
		}
	}
	return b, nil
}

// ParseValueBag parses "k=1, name=\"bologna\"".
func ParseValueBag(s string) (ValueBag, error) {
	b := NewValueBag()
	s = trim(s)
	if s == "" {
		return b, nil
	}
	for _, part := range splitTop(s, ',') {
		part = trim(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return ValueBag{}, fmt.Errorf("cannot parse value bag entry %q: %w: missing '='", part, ErrFormat)
		}
		key := trim(part[:eq])
		val := trim(part[eq+1:])
		if key == "" {
			return ValueBag{}, fmt.Errorf("cannot parse value bag entry %q: %w: empty key", part, ErrFormat)
		}
		if len(val) >= 2 && val[0] == '"' {
			unq, err := strconv.Unquote(val)
			if err != nil {
				return ValueBag{}, fmt.Errorf("cannot parse value bag entry %q: %w", part, ErrFormat)
			}
			b.vals[key] = unq
		} else if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			b.vals[key] = n
		} else {
			b.vals[key] = val
		}
	}
	return b, nil
}
