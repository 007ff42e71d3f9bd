// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"io"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/internal/scan/scantest"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	scantest.RegisterScanners()
	cfg := &config.Dataset{
		Name: "cosmo", Path: t.TempDir(), Type: "iseg",
		Format: "grib", Step: "daily",
		Unique:  []types.Code{types.CodeReftime, types.CodeOrigin, types.CodeProduct},
		Index:   config.DefaultIndex,
		Locking: true,
	}
	session := dataset.NewSession()
	t.Cleanup(session.Close)
	pool := dataset.NewPool(session, map[string]*config.Dataset{"cosmo": cfg})
	t.Cleanup(func() { pool.Close() })

	w, err := session.OpenWriter(cfg)
	require.NoError(t, err)
	for hour := 0; hour < 3; hour++ {
		md := metadata.New()
		md.Set(types.ReftimePosition{Time: types.NewTime(2024, 1, 15, hour, 0, 0)})
		md.Set(types.OriginGRIB1{Centre: 200, Subcentre: 0, Process: 101})
		md.Set(types.ProductGRIB1{Origin: 200, Table: 2, Product: 11})
		res, err := w.Acquire(&dataset.Inbound{MD: md, Data: scantest.GRIB(md)}, config.ReplaceDefault)
		require.NoError(t, err)
		require.Equal(t, dataset.AcquireOK, res)
	}
	require.NoError(t, w.Close())

	ts := httptest.NewServer(New(pool).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestQueryMetadata(t *testing.T) {
	ts := testServer(t)
	resp, err := ts.Client().PostForm(ts.URL+"/dataset/cosmo/query", url.Values{
		"query": {"reftime:>=2024-01-15 01:00"},
		"style": {"metadata"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	n := 0
	require.NoError(t, metadata.Read(resp.Body, func(md *metadata.Metadata) (bool, error) {
		n++
		return true, nil
	}))
	assert.Equal(t, 2, n)
}

func TestQueryInlineCarriesData(t *testing.T) {
	ts := testServer(t)
	resp, err := ts.Client().PostForm(ts.URL+"/dataset/cosmo/query", url.Values{
		"query": {""},
		"style": {"inline"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NoError(t, metadata.Read(resp.Body, func(md *metadata.Metadata) (bool, error) {
		assert.NotEmpty(t, md.Data())
		return true, nil
	}))
}

func TestQuerySummary(t *testing.T) {
	ts := testServer(t)
	resp, err := ts.Client().PostForm(ts.URL+"/dataset/cosmo/query", url.Values{
		"query": {""},
		"style": {"rep_summary"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	sum, err := summary.Read(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Count())
}

func TestConfigEndpoints(t *testing.T) {
	ts := testServer(t)
	resp, err := ts.Client().Get(ts.URL + "/dataset/cosmo/config")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	sections, err := config.ParseSections(body)
	require.NoError(t, err)
	require.Contains(t, sections, "cosmo")
	assert.Equal(t, "iseg", sections["cosmo"].Type)

	resp, err = ts.Client().Get(ts.URL + "/dataset/nosuch/config")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRemoteReaderRoundTrip(t *testing.T) {
	ts := testServer(t)

	remote := &config.Dataset{
		Name: "cosmo-remote", Type: "remote",
		Path: ts.URL + "/dataset/cosmo",
	}
	session := dataset.NewSession()
	defer session.Close()
	r, err := session.OpenReader(remote)
	require.NoError(t, err)
	defer r.Close()

	n := 0
	require.NoError(t, r.QueryData(dataset.Query{}, func(md *metadata.Metadata) (bool, error) {
		n++
		return true, nil
	}))
	assert.Equal(t, 3, n)

	m, err := session.Matcher("reftime:=2024-01-15")
	require.NoError(t, err)
	sum, err := r.QuerySummary(m)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Count())
}

func TestUnknownStyleRejected(t *testing.T) {
	ts := testServer(t)
	resp, err := ts.Client().PostForm(ts.URL+"/dataset/cosmo/query", url.Values{
		"query": {""},
		"style": {"parquet"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
