// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func TestReadDataset(t *testing.T) {
	root := t.TempDir()
	content := `
type = iseg
format = grib
step = daily
filter = origin:GRIB1,200
unique = reftime, origin, product
replace = never
archive age = 30
delete age = 365
postprocess = singlepoint, subarea
; trailing comment line
# another comment
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "config"), []byte(content), 0o644))

	cfg, err := ReadDataset(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(root), cfg.Name)
	assert.Equal(t, root, cfg.Path)
	assert.Equal(t, "iseg", cfg.Type)
	assert.Equal(t, "grib", cfg.Format)
	assert.Equal(t, "daily", cfg.Step)
	assert.Equal(t, "origin:GRIB1,200", cfg.Filter)
	assert.Equal(t, []types.Code{types.CodeReftime, types.CodeOrigin, types.CodeProduct}, cfg.Unique)
	assert.Equal(t, ReplaceNever, cfg.Replace)
	assert.Equal(t, 30, cfg.ArchiveAge)
	assert.Equal(t, 365, cfg.DeleteAge)
	assert.Equal(t, []string{"singlepoint", "subarea"}, cfg.Postprocess)
	assert.True(t, cfg.Locking)
	// defaults
	assert.Equal(t, DefaultIndex, cfg.Index)
	assert.Equal(t, 512, cfg.GzGroupSize)
}

func TestReadSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.conf")
	content := `
[cosmo]
type = iseg
format = grib
step = daily
path = /srv/arkimet/cosmo

[error]
type = simple
step = daily
path = /srv/arkimet/error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sections, err := ReadSections(path)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "/srv/arkimet/cosmo", sections["cosmo"].Path)
	assert.Equal(t, "simple", sections["error"].Type)

	// render and reparse
	rendered := sections["cosmo"].Render(true) + "\n" + sections["error"].Render(true)
	back, err := ParseSections([]byte(rendered))
	require.NoError(t, err)
	assert.Equal(t, sections["cosmo"].Format, back["cosmo"].Format)
	assert.Equal(t, sections["error"].Step, back["error"].Step)
}

func TestValidation(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		name    string
		content string
	}{
		{"iseg without format", "type = iseg\nstep = daily\n"},
		{"unknown type", "type = warehouse\nstep = daily\n"},
		{"unknown step is accepted here, checked on open", ""},
		{"bad replace", "type = iseg\nformat = grib\nstep = daily\nreplace = maybe\n"},
		{"bad age", "type = iseg\nformat = grib\nstep = daily\narchive age = soon\n"},
		{"source unique", "type = iseg\nformat = grib\nstep = daily\nunique = source\n"},
	}
	for _, c := range cases {
		if c.content == "" {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(root, "config"), []byte(c.content), 0o644))
		_, err := ReadDataset(root)
		assert.Error(t, err, c.name)
	}
}

func TestReplaceStrategies(t *testing.T) {
	for in, want := range map[string]ReplaceStrategy{
		"never": ReplaceNever, "no": ReplaceNever, "": ReplaceNever,
		"always": ReplaceAlways, "yes": ReplaceAlways, "true": ReplaceAlways,
		"higher_usn": ReplaceHigherUSN, "USN": ReplaceHigherUSN,
	} {
		got, err := ParseReplace(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseReplace("sometimes")
	assert.Error(t, err)
}

func TestIsIndexed(t *testing.T) {
	cfg := &Dataset{Index: []types.Code{types.CodeOrigin}}
	assert.True(t, cfg.IsIndexed(types.CodeOrigin))
	assert.True(t, cfg.IsIndexed(types.CodeReftime), "reftime is always indexed")
	assert.False(t, cfg.IsIndexed(types.CodeProduct))
}
