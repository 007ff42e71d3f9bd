// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func monthSummary(t *testing.T, day int) *summary.Summary {
	t.Helper()
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, day, 0, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: 200})
	md.SetSource(types.SourceBlob{Fmt: "grib", Relpath: "x.grib", Size: 100})
	s := summary.New()
	s.Add(md)
	return s
}

func TestMonthRoundTrip(t *testing.T) {
	c := New(t.TempDir())

	_, ok := c.ReadMonth(2024, 1)
	assert.False(t, ok)

	s := monthSummary(t, 15)
	require.NoError(t, c.WriteMonth(2024, 1, s))
	back, ok := c.ReadMonth(2024, 1)
	require.True(t, ok)
	assert.True(t, s.Equal(back))
}

func TestInvalidateDropsIntersectingMonths(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	require.NoError(t, c.WriteMonth(2024, 1, monthSummary(t, 15)))
	require.NoError(t, c.WriteMonth(2024, 2, monthSummary(t, 15)))
	require.NoError(t, c.WriteAll(monthSummary(t, 15)))

	c.Invalidate(types.Interval{
		Begin: types.NewTime(2024, 1, 10, 0, 0, 0),
		End:   types.NewTime(2024, 1, 20, 0, 0, 0),
	})

	_, ok := c.ReadMonth(2024, 1)
	assert.False(t, ok, "January intersects the invalidated span")
	_, ok = c.ReadMonth(2024, 2)
	assert.True(t, ok, "February does not")
	_, ok = c.ReadAll()
	assert.False(t, ok, "all.summary always goes")

	_, err := os.Stat(filepath.Join(root, Dir, "all.summary"))
	assert.True(t, os.IsNotExist(err))
}

func TestMonths(t *testing.T) {
	iv := types.Interval{
		Begin: types.NewTime(2023, 11, 20, 0, 0, 0),
		End:   types.NewTime(2024, 2, 5, 0, 0, 0),
	}
	assert.Equal(t, [][2]int{{2023, 11}, {2023, 12}, {2024, 1}, {2024, 2}}, Months(iv))
	assert.Empty(t, Months(types.Interval{}))
}
