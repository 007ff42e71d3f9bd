// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"encoding/hex"
	"fmt"
)

// ValueItem is a compact opaque payload, used by VM2 to carry the
// observed value alongside the metadata.
type ValueItem struct {
	Buffer []byte
}

func (v ValueItem) Code() Code { return CodeValue }

func (v ValueItem) EncodePayload(e *Encoder) {
	e.Raw(v.Buffer)
}

func (v ValueItem) String() string {
	return hex.EncodeToString(v.Buffer)
}

func (v ValueItem) Compare(o Item) int { return CompareItems(v, o) }

func (v ValueItem) Serialise() map[string]interface{} {
	return map[string]interface{}{"type": "value", "value": v.String()}
}

func decodeValue(d *Decoder) (Item, error) {
	buf := d.Rest()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return ValueItem{Buffer: cp}, nil
}

// ParseValueItem parses the hex text form.
func ParseValueItem(s string) (Item, error) {
	b, err := hex.DecodeString(trim(s))
	if err != nil {
		return nil, fmt.Errorf("cannot parse value %q: %w", s, ErrFormat)
	}
	return ValueItem{Buffer: b}, nil
}
