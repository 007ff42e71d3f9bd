// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// vm2Scanner decodes the VM2 line format:
// date,station,variable,value1,value2,value3,flags
// with date as YYYYMMDDHHMM or YYYYMMDDHHMMSS.
type vm2Scanner struct{}

func (vm2Scanner) Scan(data []byte) (*metadata.Metadata, error) {
	line := strings.TrimRight(string(data), "\r\n")
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return nil, fmt.Errorf("VM2 line %q has %d fields, want at least 3: %w", line, len(fields), types.ErrFormat)
	}

	reftime, err := parseVM2Date(fields[0])
	if err != nil {
		return nil, err
	}
	station, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("VM2 station %q: %w", fields[1], types.ErrFormat)
	}
	variable, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("VM2 variable %q: %w", fields[2], types.ErrFormat)
	}

	md := metadata.New()
	md.Set(types.ReftimePosition{Time: reftime})
	md.Set(types.AreaVM2{Station: uint32(station)})
	md.Set(types.ProductVM2{VariableID: uint32(variable)})
	// the compact payload carries the value columns for query output
	// without re-reading the segment
	if len(fields) > 3 {
		md.Set(types.ValueItem{Buffer: []byte(strings.Join(fields[3:], ","))})
	}
	return md, nil
}

func parseVM2Date(s string) (types.Time, error) {
	if len(s) != 12 && len(s) != 14 {
		return types.Time{}, fmt.Errorf("VM2 date %q must be 12 or 14 digits: %w", s, types.ErrFormat)
	}
	nums := make([]int, 0, 7)
	for _, span := range []int{4, 2, 2, 2, 2} {
		v, err := strconv.Atoi(s[:span])
		if err != nil {
			return types.Time{}, fmt.Errorf("VM2 date %q: %w", s, types.ErrFormat)
		}
		nums = append(nums, v)
		s = s[span:]
	}
	se := 0
	if len(s) == 2 {
		v, err := strconv.Atoi(s)
		if err != nil {
			return types.Time{}, fmt.Errorf("VM2 seconds %q: %w", s, types.ErrFormat)
		}
		se = v
	}
	return types.NewTime(nums[0], nums[1], nums[2], nums[3], nums[4], se), nil
}
