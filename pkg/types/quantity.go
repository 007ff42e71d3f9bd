// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"sort"
	"strings"
)

// Quantity is the set of derived quantities a message carries.
type Quantity struct {
	Values []string
}

// NewQuantity builds a quantity set, deduplicated and sorted.
func NewQuantity(values ...string) Quantity {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = trim(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return Quantity{Values: out}
}

func (q Quantity) Code() Code { return CodeQuantity }

func (q Quantity) EncodePayload(e *Encoder) {
	e.Varint(uint64(len(q.Values)))
	for _, v := range q.Values {
		e.String(v)
	}
}

func (q Quantity) String() string { return strings.Join(q.Values, ", ") }

func (q Quantity) Compare(o Item) int { return CompareItems(q, o) }

// Contains reports whether every wanted quantity is present.
func (q Quantity) Contains(wanted []string) bool {
	have := make(map[string]bool, len(q.Values))
	for _, v := range q.Values {
		have[v] = true
	}
	for _, w := range wanted {
		if !have[w] {
			return false
		}
	}
	return true
}

func (q Quantity) Serialise() map[string]interface{} {
	vals := make([]interface{}, len(q.Values))
	for i, v := range q.Values {
		vals[i] = v
	}
	return map[string]interface{}{"type": "quantity", "value": vals}
}

func decodeQuantity(d *Decoder) (Item, error) {
	n := d.Varint()
	vals := make([]string, 0, n)
	for i := uint64(0); i < n && d.Err == nil; i++ {
		vals = append(vals, d.String())
	}
	return Quantity{Values: vals}, nil
}

// ParseQuantity parses a comma-separated list like "ACRR, BRDR".
func ParseQuantity(s string) (Item, error) {
	return NewQuantity(strings.Split(s, ",")...), nil
}
