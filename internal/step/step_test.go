// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func TestRoundTrips(t *testing.T) {
	ref := types.NewTime(2024, 1, 15, 12, 30, 0)
	cases := []struct {
		step string
		path string
	}{
		{"daily", "2024/01-15"},
		{"weekly", "2024/01-3"},
		{"biweekly", "2024/01-1"},
		{"monthly", "2024/01"},
		{"yearly", "20/2024"},
		{"singlefile", "2024/01/15/12"},
	}
	for _, c := range cases {
		st, err := Get(c.step)
		require.NoError(t, err, c.step)
		assert.Equal(t, c.path, st.Relpath(ref), c.step)

		iv, ok := st.Interval(c.path)
		require.True(t, ok, "%s cannot parse %q back", c.step, c.path)
		assert.True(t, iv.Contains(ref), "%s interval %s does not contain %s", c.step, iv, ref)
	}
}

func TestDailyInterval(t *testing.T) {
	st, err := Get("daily")
	require.NoError(t, err)
	iv, ok := st.Interval("2024/01-15")
	require.True(t, ok)
	assert.Equal(t, types.NewTime(2024, 1, 15, 0, 0, 0), iv.Begin)
	assert.Equal(t, types.NewTime(2024, 1, 16, 0, 0, 0), iv.End)

	_, ok = st.Interval("not-a-segment")
	assert.False(t, ok)
}

func TestBiweeklySecondHalf(t *testing.T) {
	st, err := Get("biweekly")
	require.NoError(t, err)
	assert.Equal(t, "2024/01-2", st.Relpath(types.NewTime(2024, 1, 16, 0, 0, 0)))

	iv, ok := st.Interval("2024/01-2")
	require.True(t, ok)
	assert.Equal(t, types.NewTime(2024, 1, 16, 0, 0, 0), iv.Begin)
	assert.Equal(t, types.NewTime(2024, 2, 1, 0, 0, 0), iv.End)
}

func TestWeeklyLastWeekSpansMonthEnd(t *testing.T) {
	st, err := Get("weekly")
	require.NoError(t, err)
	assert.Equal(t, "2024/01-5", st.Relpath(types.NewTime(2024, 1, 31, 0, 0, 0)))

	iv, ok := st.Interval("2024/01-5")
	require.True(t, ok)
	assert.True(t, iv.Contains(types.NewTime(2024, 1, 31, 23, 0, 0)))
	assert.Equal(t, types.NewTime(2024, 2, 1, 0, 0, 0), iv.End)
}

func TestUnknownStep(t *testing.T) {
	_, err := Get("hourly")
	assert.Error(t, err)
}
