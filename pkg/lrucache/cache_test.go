// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package lrucache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetComputesOnce(t *testing.T) {
	c := New[string](100, nil)
	calls := 0
	compute := func() (string, int, error) {
		calls++
		return "value", 10, nil
	}

	v, err := c.Get("a", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.Get("a", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)

	c.Release("a")
	c.Release("a")
}

func TestEvictsColdEntries(t *testing.T) {
	var evicted []string
	c := New[string](30, func(v string) { evicted = append(evicted, v) })

	for _, key := range []string{"a", "b", "c"} {
		key := key
		_, err := c.Get(key, func() (string, int, error) { return "v-" + key, 10, nil })
		require.NoError(t, err)
		c.Release(key)
	}
	assert.Equal(t, 3, c.Len())

	// one more entry pushes the oldest out
	_, err := c.Get("d", func() (string, int, error) { return "v-d", 10, nil })
	require.NoError(t, err)
	c.Release("d")

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"v-a"}, evicted)
}

func TestPinnedEntrySurvivesEviction(t *testing.T) {
	var evicted []string
	c := New[string](10, func(v string) { evicted = append(evicted, v) })

	v, err := c.Get("pinned", func() (string, int, error) { return "v-pinned", 10, nil })
	require.NoError(t, err)
	assert.Equal(t, "v-pinned", v)

	// force the pinned entry out of the index while still referenced
	_, err = c.Get("other", func() (string, int, error) { return "v-other", 10, nil })
	require.NoError(t, err)
	c.Release("other")

	// hook must not have run for the pinned value yet
	assert.NotContains(t, evicted, "v-pinned")

	c.Release("pinned")
	assert.Contains(t, evicted, "v-pinned")
}

func TestRemove(t *testing.T) {
	var evicted []string
	c := New[string](100, func(v string) { evicted = append(evicted, v) })

	_, err := c.Get("a", func() (string, int, error) { return "v-a", 10, nil })
	require.NoError(t, err)
	c.Release("a")

	c.Remove("a")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, []string{"v-a"}, evicted)

	// a removed key recomputes
	calls := 0
	_, err = c.Get("a", func() (string, int, error) { calls++; return "v-a2", 10, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	c.Release("a")
}

func TestClear(t *testing.T) {
	c := New[int](100, nil)
	for i, key := range []string{"a", "b"} {
		i := i
		_, err := c.Get(key, func() (int, int, error) { return i, 10, nil })
		require.NoError(t, err)
		c.Release(key)
	}
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.UsedMemory())
}
