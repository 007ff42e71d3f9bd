// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package types

import (
	"fmt"
	"strconv"
)

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(trim(s), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("cannot parse number %q: %w", s, ErrFormat)
	}
	return v, nil
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(trim(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse number %q: %w", s, ErrFormat)
	}
	return v, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(trim(s), 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse number %q: %w", s, ErrFormat)
	}
	return v, nil
}

// wantArgs checks the argument count of a parsed STYLE(args) form.
func wantArgs(style string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s wants %d arguments, got %d: %w", style, n, len(args), ErrFormat)
	}
	return nil
}
