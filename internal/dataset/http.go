// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/pkg/matcher"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/summary"
)

// httpReader queries a dataset served by a remote arkimet over the
// wire protocol: POST /query with style metadata/inline/rep_summary
// (data/postprocess for raw bytes); the response is a binary stream.
type httpReader struct {
	cfg     *config.Dataset
	baseURL string
	client  *http.Client
}

func newHTTPReader(s *Session, cfg *config.Dataset) (Reader, error) {
	base := strings.TrimRight(cfg.Path, "/")
	if base == "" {
		return nil, fmt.Errorf("dataset %s: remote dataset without a server URL", cfg.Name)
	}
	return &httpReader{cfg: cfg, baseURL: base, client: http.DefaultClient}, nil
}

func (d *httpReader) Name() string            { return d.cfg.Name }
func (d *httpReader) Config() *config.Dataset { return d.cfg }
func (d *httpReader) Close() error            { return nil }

func (d *httpReader) post(form url.Values) (*http.Response, error) {
	resp, err := d.client.PostForm(d.baseURL+"/query", form)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("dataset %s: server answered %s: %s", d.cfg.Name, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (d *httpReader) QueryData(q Query, f metadata.ReadFunc) error {
	style := "metadata"
	if q.WithData {
		style = "inline"
	}
	form := url.Values{
		"query": {q.Matcher.String()},
		"style": {style},
	}
	if q.Sort != nil {
		form.Set("sort", sortSpecString(q.Sort))
	}
	resp, err := d.post(form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return metadata.Read(resp.Body, f)
}

func (d *httpReader) QuerySummary(m matcher.Matcher) (*summary.Summary, error) {
	form := url.Values{
		"query": {m.String()},
		"style": {"rep_summary"},
	}
	resp, err := d.post(form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return summary.Read(resp.Body)
}

// QueryBytesRemote streams raw data or a server-side postprocessor's
// output.
func (d *httpReader) QueryBytesRemote(m matcher.Matcher, command string, w io.Writer) error {
	form := url.Values{"query": {m.String()}}
	if command == "" {
		form.Set("style", "data")
	} else {
		form.Set("style", "postprocess")
		form.Set("command", command)
	}
	resp, err := d.post(form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func sortSpecString(sp *SortSpec) string {
	var sb strings.Builder
	switch sp.Interval {
	case SortIntervalMinute:
		sb.WriteString("minute:")
	case SortIntervalHour:
		sb.WriteString("hour:")
	case SortIntervalDay:
		sb.WriteString("day:")
	case SortIntervalMonth:
		sb.WriteString("month:")
	case SortIntervalYear:
		sb.WriteString("year:")
	}
	for i, code := range sp.Keys {
		if i > 0 {
			sb.WriteString(",")
		}
		if sp.Desc[i] {
			sb.WriteString("-")
		}
		sb.WriteString(code.String())
	}
	return sb.String()
}
