// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"strings"
)

const (
	reftimeStylePosition uint8 = 1
	reftimeStylePeriod   uint8 = 2
)

// Reftime is the reference instant or span of a message.
type Reftime interface {
	Item
	Style() string
	// Interval returns the time span covered by the reftime.
	Interval() Interval
}

// ReftimePosition is a reference instant.
type ReftimePosition struct {
	Time Time
}

func (r ReftimePosition) Code() Code    { return CodeReftime }
func (r ReftimePosition) Style() string { return "POSITION" }

func (r ReftimePosition) EncodePayload(e *Encoder) {
	e.U8(reftimeStylePosition)
	e.Time(r.Time)
}

func (r ReftimePosition) String() string { return r.Time.String() }

func (r ReftimePosition) Compare(o Item) int { return CompareItems(r, o) }

func (r ReftimePosition) Interval() Interval {
	return Interval{Begin: r.Time, End: r.Time.UpperBound(6)}
}

func (r ReftimePosition) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "reftime", "style": "POSITION", "time": r.Time.ISO8601(),
	}
}

// ReftimePeriod is a reference span, inclusive of both endpoints.
type ReftimePeriod struct {
	Begin Time
	End   Time
}

func (r ReftimePeriod) Code() Code    { return CodeReftime }
func (r ReftimePeriod) Style() string { return "PERIOD" }

func (r ReftimePeriod) EncodePayload(e *Encoder) {
	e.U8(reftimeStylePeriod)
	e.Time(r.Begin)
	e.Time(r.End)
}

func (r ReftimePeriod) String() string {
	return fmt.Sprintf("%s to %s", r.Begin, r.End)
}

func (r ReftimePeriod) Compare(o Item) int { return CompareItems(r, o) }

func (r ReftimePeriod) Interval() Interval {
	return Interval{Begin: r.Begin, End: r.End.UpperBound(6)}
}

func (r ReftimePeriod) Serialise() map[string]interface{} {
	return map[string]interface{}{
		"type": "reftime", "style": "PERIOD",
		"begin": r.Begin.ISO8601(), "end": r.End.ISO8601(),
	}
}

func decodeReftime(d *Decoder) (Item, error) {
	switch style := d.U8(); style {
	case reftimeStylePosition:
		return ReftimePosition{Time: d.Time()}, nil
	case reftimeStylePeriod:
		return ReftimePeriod{Begin: d.Time(), End: d.Time()}, nil
	default:
		return nil, fmt.Errorf("reftime style %d: %w", style, ErrUnsupportedStyle)
	}
}

// ParseReftime parses "2024-01-15 12:00:00" or "<begin> to <end>".
func ParseReftime(s string) (Item, error) {
	if i := strings.Index(s, " to "); i >= 0 {
		begin, err := ParseTime(s[:i])
		if err != nil {
			return nil, err
		}
		end, err := ParseTime(s[i+4:])
		if err != nil {
			return nil, err
		}
		return ReftimePeriod{Begin: begin, End: end}, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, err
	}
	return ReftimePosition{Time: t}, nil
}
