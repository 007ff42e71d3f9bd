// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package step implements the temporal bucketing schemes that map a
// reference time to a segment relative path, and back to the time
// interval a segment is allowed to contain.
package step

import (
	"fmt"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Step maps reference times to segment paths. Paths never carry the
// format extension; the dataset appends it.
type Step interface {
	Name() string
	// Relpath returns the segment path for a reference time.
	Relpath(t types.Time) string
	// Interval parses a segment path back into the time span its
	// contents must stay within; ok is false when the path does not
	// belong to this scheme.
	Interval(relpath string) (iv types.Interval, ok bool)
}

// Get resolves a step scheme by its configuration name.
func Get(name string) (Step, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "daily":
		return daily{}, nil
	case "weekly":
		return weekly{}, nil
	case "biweekly":
		return biweekly{}, nil
	case "monthly":
		return monthly{}, nil
	case "yearly":
		return yearly{}, nil
	case "singlefile":
		return singlefile{}, nil
	default:
		return nil, fmt.Errorf("unknown step %q", name)
	}
}

type daily struct{}

func (daily) Name() string { return "daily" }

func (daily) Relpath(t types.Time) string {
	return fmt.Sprintf("%04d/%02d-%02d", t.Year, t.Month, t.Day)
}

func (daily) Interval(relpath string) (types.Interval, bool) {
	var ye, mo, da int
	if n, err := fmt.Sscanf(relpath, "%d/%d-%d", &ye, &mo, &da); err != nil || n != 3 {
		return types.Interval{}, false
	}
	begin := types.NewTime(ye, mo, da, 0, 0, 0)
	return types.Interval{Begin: begin, End: begin.UpperBound(3)}, true
}

type weekly struct{}

func (weekly) Name() string { return "weekly" }

func (weekly) Relpath(t types.Time) string {
	return fmt.Sprintf("%04d/%02d-%d", t.Year, t.Month, 1+(t.Day-1)/7)
}

func (weekly) Interval(relpath string) (types.Interval, bool) {
	var ye, mo, week int
	if n, err := fmt.Sscanf(relpath, "%d/%d-%d", &ye, &mo, &week); err != nil || n != 3 {
		return types.Interval{}, false
	}
	if week < 1 || week > 5 {
		return types.Interval{}, false
	}
	begin := types.NewTime(ye, mo, 1+(week-1)*7, 0, 0, 0)
	endDay := week * 7
	var end types.Time
	if endDay >= 28 {
		end = types.NewTime(ye, mo, 1, 0, 0, 0).UpperBound(2)
	} else {
		end = types.NewTime(ye, mo, endDay+1, 0, 0, 0)
	}
	return types.Interval{Begin: begin, End: end}, true
}

type biweekly struct{}

func (biweekly) Name() string { return "biweekly" }

func (biweekly) Relpath(t types.Time) string {
	half := 1
	if t.Day > 15 {
		half = 2
	}
	return fmt.Sprintf("%04d/%02d-%d", t.Year, t.Month, half)
}

func (biweekly) Interval(relpath string) (types.Interval, bool) {
	var ye, mo, half int
	if n, err := fmt.Sscanf(relpath, "%d/%d-%d", &ye, &mo, &half); err != nil || n != 3 {
		return types.Interval{}, false
	}
	switch half {
	case 1:
		begin := types.NewTime(ye, mo, 1, 0, 0, 0)
		return types.Interval{Begin: begin, End: types.NewTime(ye, mo, 16, 0, 0, 0)}, true
	case 2:
		begin := types.NewTime(ye, mo, 16, 0, 0, 0)
		return types.Interval{Begin: begin, End: types.NewTime(ye, mo, 1, 0, 0, 0).UpperBound(2)}, true
	default:
		return types.Interval{}, false
	}
}

type monthly struct{}

func (monthly) Name() string { return "monthly" }

func (monthly) Relpath(t types.Time) string {
	return fmt.Sprintf("%04d/%02d", t.Year, t.Month)
}

func (monthly) Interval(relpath string) (types.Interval, bool) {
	parts := strings.Split(relpath, "/")
	if len(parts) != 2 {
		return types.Interval{}, false
	}
	ye, err1 := parseNum(parts[0])
	mo, err2 := parseNum(parts[1])
	if err1 != nil || err2 != nil || mo < 1 || mo > 12 {
		return types.Interval{}, false
	}
	begin := types.NewTime(ye, mo, 1, 0, 0, 0)
	return types.Interval{Begin: begin, End: begin.UpperBound(2)}, true
}

func parseNum(s string) (int, error) {
	var v int
	if n, err := fmt.Sscanf(s, "%d", &v); err != nil || n != 1 {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

type yearly struct{}

func (yearly) Name() string { return "yearly" }

func (yearly) Relpath(t types.Time) string {
	return fmt.Sprintf("%02d/%04d", t.Year/100, t.Year)
}

func (yearly) Interval(relpath string) (types.Interval, bool) {
	var century, ye int
	if n, err := fmt.Sscanf(relpath, "%d/%d", &century, &ye); err != nil || n != 2 {
		return types.Interval{}, false
	}
	if ye/100 != century {
		return types.Interval{}, false
	}
	begin := types.NewTime(ye, 1, 1, 0, 0, 0)
	return types.Interval{Begin: begin, End: begin.UpperBound(1)}, true
}

type singlefile struct{}

func (singlefile) Name() string { return "singlefile" }

func (singlefile) Relpath(t types.Time) string {
	return fmt.Sprintf("%04d/%02d/%02d/%02d", t.Year, t.Month, t.Day, t.Hour)
}

func (singlefile) Interval(relpath string) (types.Interval, bool) {
	var ye, mo, da, ho int
	if n, err := fmt.Sscanf(relpath, "%d/%d/%d/%d", &ye, &mo, &da, &ho); err != nil || n != 4 {
		return types.Interval{}, false
	}
	begin := types.NewTime(ye, mo, da, ho, 0, 0)
	return types.Interval{Begin: begin, End: begin.UpperBound(4)}, true
}
