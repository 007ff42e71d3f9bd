// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Time is a point in time, in UTC, with one-second resolution. The zero
// value means "not set".
type Time struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

func NewTime(ye, mo, da, ho, mi, se int) Time {
	return Time{Year: ye, Month: mo, Day: da, Hour: ho, Minute: mi, Second: se}
}

func TimeFromGo(t time.Time) Time {
	t = t.UTC()
	return Time{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()}
}

func Now() Time {
	return TimeFromGo(time.Now())
}

func (t Time) IsZero() bool {
	return t == Time{}
}

func (t Time) ToGo() time.Time {
	return time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, 0, time.UTC)
}

func (t Time) Compare(o Time) int {
	a := [6]int{t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second}
	b := [6]int{o.Year, o.Month, o.Day, o.Hour, o.Minute, o.Second}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (t Time) Before(o Time) bool { return t.Compare(o) < 0 }

func (t Time) After(o Time) bool { return t.Compare(o) > 0 }

// String renders the SQL-style form used by the text encodings:
// "2024-01-15 12:00:00".
func (t Time) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// ISO8601 renders "2024-01-15T12:00:00Z".
func (t Time) ISO8601() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ",
		t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// ParseTime accepts ISO8601 and SQL forms, with either 'T' or a space
// between date and time, and an optional trailing 'Z'.
func ParseTime(s string) (Time, error) {
	t, prec, err := ParseTimePartial(s)
	if err != nil {
		return Time{}, err
	}
	if prec < 3 {
		return Time{}, fmt.Errorf("cannot parse time %q: %w: date is incomplete", s, ErrFormat)
	}
	return t, nil
}

// ParseTimePartial parses a possibly incomplete time like "2024-01" or
// "2024-01-15 12". It returns the lower bound of the described span and
// how many components were given (1=year .. 6=second). Matchers use the
// precision to complete the upper bound.
func ParseTimePartial(s string) (Time, int, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "Z"))
	if s == "" {
		return Time{}, 0, fmt.Errorf("cannot parse time from empty string: %w", ErrFormat)
	}
	s = strings.ReplaceAll(s, "T", " ")

	var vals [6]int
	prec := 0
	rest := s
	seps := []string{"-", "-", " ", ":", ":", ""}
	for i := 0; i < 6 && rest != ""; i++ {
		part := rest
		if seps[i] != "" {
			if j := strings.Index(rest, seps[i]); j >= 0 {
				part, rest = rest[:j], rest[j+1:]
			} else {
				rest = ""
			}
		} else {
			rest = ""
		}
		part = strings.TrimSpace(part)
		if _, err := fmt.Sscanf(part, "%d", &vals[i]); err != nil {
			return Time{}, 0, fmt.Errorf("cannot parse time %q: %w: bad component %q", s, ErrFormat, part)
		}
		prec = i + 1
	}

	t := Time{Year: vals[0], Month: 1, Day: 1}
	if prec > 1 {
		t.Month = vals[1]
	}
	if prec > 2 {
		t.Day = vals[2]
	}
	if prec > 3 {
		t.Hour = vals[3]
	}
	if prec > 4 {
		t.Minute = vals[4]
	}
	if prec > 5 {
		t.Second = vals[5]
	}
	if t.Month < 1 || t.Month > 12 || t.Day < 1 || t.Day > 31 ||
		t.Hour > 23 || t.Minute > 59 || t.Second > 60 {
		return Time{}, 0, fmt.Errorf("cannot parse time %q: %w: component out of range", s, ErrFormat)
	}
	return t, prec, nil
}

// UpperBound returns the first instant after the span described by a
// partial time of the given precision: ("2024-01", 2) → 2024-02-01
// 00:00:00.
func (t Time) UpperBound(prec int) Time {
	g := t.ToGo()
	switch prec {
	case 1:
		g = g.AddDate(1, 0, 0)
	case 2:
		g = g.AddDate(0, 1, 0)
	case 3:
		g = g.AddDate(0, 0, 1)
	case 4:
		g = g.Add(time.Hour)
	case 5:
		g = g.Add(time.Minute)
	default:
		g = g.Add(time.Second)
	}
	return TimeFromGo(g)
}

// Interval is a half-open time span [Begin, End). A zero Begin or End
// means unbounded on that side; the zero Interval spans everything.
type Interval struct {
	Begin Time
	End   Time
}

func (i Interval) IsUnbounded() bool {
	return i.Begin.IsZero() && i.End.IsZero()
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t Time) bool {
	if !i.Begin.IsZero() && t.Before(i.Begin) {
		return false
	}
	if !i.End.IsZero() && !t.Before(i.End) {
		return false
	}
	return true
}

// Intersects reports whether the two intervals share at least one
// instant.
func (i Interval) Intersects(o Interval) bool {
	if !i.End.IsZero() && !o.Begin.IsZero() && !o.Begin.Before(i.End) {
		return false
	}
	if !o.End.IsZero() && !i.Begin.IsZero() && !i.Begin.Before(o.End) {
		return false
	}
	return true
}

// Intersect returns the overlap of the two intervals and whether it is
// non-empty.
func (i Interval) Intersect(o Interval) (Interval, bool) {
	r := i
	if r.Begin.IsZero() || (!o.Begin.IsZero() && r.Begin.Before(o.Begin)) {
		r.Begin = o.Begin
	}
	if r.End.IsZero() || (!o.End.IsZero() && o.End.Before(r.End)) {
		r.End = o.End
	}
	if !r.Begin.IsZero() && !r.End.IsZero() && !r.Begin.Before(r.End) {
		return Interval{}, false
	}
	return r, true
}

// Extend grows the interval to include t, treating End as exclusive.
func (i *Interval) Extend(t Time) {
	if i.Begin.IsZero() || t.Before(i.Begin) {
		i.Begin = t
	}
	if i.End.IsZero() || !t.Before(i.End) {
		i.End = t.UpperBound(6)
	}
}

// ExtendInterval grows the interval to cover o entirely.
func (i *Interval) ExtendInterval(o Interval) {
	if o.Begin.IsZero() && o.End.IsZero() {
		return
	}
	if i.Begin.IsZero() || (!o.Begin.IsZero() && o.Begin.Before(i.Begin)) {
		i.Begin = o.Begin
	}
	if i.End.IsZero() || (!o.End.IsZero() && i.End.Before(o.End)) {
		i.End = o.End
	}
}

func (i Interval) String() string {
	b, e := "*", "*"
	if !i.Begin.IsZero() {
		b = i.Begin.String()
	}
	if !i.End.IsZero() {
		e = i.End.String()
	}
	return fmt.Sprintf("[%s, %s)", b, e)
}
