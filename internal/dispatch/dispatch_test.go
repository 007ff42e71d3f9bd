// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/internal/scan/scantest"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func testPool(t *testing.T) (*dataset.Pool, *dataset.Session) {
	t.Helper()
	scantest.RegisterScanners()
	root := t.TempDir()
	mk := func(name, filter string) *config.Dataset {
		return &config.Dataset{
			Name: name, Path: filepath.Join(root, name), Type: "iseg",
			Format: "grib", Step: "daily", Filter: filter,
			Unique:  []types.Code{types.CodeReftime, types.CodeOrigin, types.CodeProduct},
			Index:   config.DefaultIndex,
			Replace: config.ReplaceNever,
			Locking: true,
		}
	}
	configs := map[string]*config.Dataset{
		"cosmo":    mk("cosmo", "origin:GRIB1,200"),
		"ecmwf":    mk("ecmwf", "origin:GRIB1,98"),
		"wide":     mk("wide", "origin:GRIB1,150"),
		"wide2":    mk("wide2", "origin:GRIB1,150"),
		"error":    mk("error", ""),
		"duplicates": mk("duplicates", ""),
	}
	// the system datasets accept anything and never reject duplicates
	configs["error"].Unique = nil
	configs["duplicates"].Unique = nil

	session := dataset.NewSession()
	t.Cleanup(session.Close)
	pool := dataset.NewPool(session, configs)
	t.Cleanup(func() { pool.Close() })
	return pool, session
}

func inbound(hour int, centre uint8) *dataset.Inbound {
	md := metadata.New()
	md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, hour, 0, 0)})
	md.Set(types.OriginGRIB1{Centre: centre, Subcentre: 0, Process: 101})
	md.Set(types.ProductGRIB1{Origin: centre, Table: 2, Product: 11})
	return &dataset.Inbound{MD: md, Data: scantest.GRIB(md)}
}

func countIn(t *testing.T, pool *dataset.Pool, name string) int {
	t.Helper()
	r, err := pool.Reader(name)
	require.NoError(t, err)
	n := 0
	require.NoError(t, r.QueryData(dataset.Query{}, func(md *metadata.Metadata) (bool, error) {
		n++
		return true, nil
	}))
	return n
}

func TestRoutesToSingleAcceptor(t *testing.T) {
	pool, _ := testPool(t)
	d, err := New(pool)
	require.NoError(t, err)

	outcome, target := d.Dispatch(inbound(0, 200))
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, "cosmo", target)
	require.NoError(t, d.Flush())

	assert.Equal(t, 1, countIn(t, pool, "cosmo"))
	assert.Equal(t, 0, countIn(t, pool, "error"))
}

func TestRoutesUnacceptedToError(t *testing.T) {
	pool, _ := testPool(t)
	d, err := New(pool)
	require.NoError(t, err)

	outcome, target := d.Dispatch(inbound(0, 11))
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, ErrorDataset, target)
	require.NoError(t, d.Flush())

	r, err := pool.Reader("error")
	require.NoError(t, err)
	var notes []string
	require.NoError(t, r.QueryData(dataset.Query{}, func(md *metadata.Metadata) (bool, error) {
		for _, n := range md.Notes() {
			notes = append(notes, n.Content)
		}
		return true, nil
	}))
	assert.Contains(t, notes, "not accepted by any dataset")
}

func TestAmbiguousRoutesToError(t *testing.T) {
	pool, _ := testPool(t)
	d, err := New(pool)
	require.NoError(t, err)

	outcome, target := d.Dispatch(inbound(0, 150))
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, ErrorDataset, target)
	require.NoError(t, d.Flush())

	assert.Equal(t, 0, countIn(t, pool, "wide"))
	assert.Equal(t, 0, countIn(t, pool, "wide2"))
	assert.Equal(t, 1, countIn(t, pool, "error"))
}

func TestDuplicateRoutesToDuplicates(t *testing.T) {
	pool, _ := testPool(t)
	d, err := New(pool)
	require.NoError(t, err)

	outcome, _ := d.Dispatch(inbound(0, 200))
	assert.Equal(t, OutcomeOK, outcome)
	outcome, target := d.Dispatch(inbound(0, 200))
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, DuplicatesDataset, target)
	require.NoError(t, d.Flush())

	assert.Equal(t, 1, countIn(t, pool, "cosmo"))
	assert.Equal(t, 1, countIn(t, pool, "duplicates"))
	assert.Equal(t, "1 ok, 1 duplicates, 0 errors", d.Summary())
}

func TestCopyStreams(t *testing.T) {
	pool, _ := testPool(t)
	d, err := New(pool)
	require.NoError(t, err)

	var ok, ko bytes.Buffer
	d.CopyOK = &ok
	d.CopyKo = &ko

	d.DispatchBatch([]*dataset.Inbound{inbound(0, 200), inbound(1, 11)})
	require.NoError(t, d.Flush())

	okCount := 0
	require.NoError(t, metadata.Read(&ok, func(md *metadata.Metadata) (bool, error) {
		okCount++
		return true, nil
	}))
	koCount := 0
	require.NoError(t, metadata.Read(&ko, func(md *metadata.Metadata) (bool, error) {
		koCount++
		return true, nil
	}))
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, koCount)
}

func TestBadFilterFailsLoudly(t *testing.T) {
	pool, _ := testPool(t)
	cfg, err := pool.Config("cosmo")
	require.NoError(t, err)
	cfg.Filter = "origin:NOSTYLE"
	_, err = New(pool)
	assert.Error(t, err)
}
