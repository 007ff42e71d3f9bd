// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api glues a dataset pool onto the HTTP wire protocol used
// by remote datasets: POST /dataset/{name}/query streaming metadata
// or bytes, GET /config and GET /aliases serving the configuration
// surfaces.
package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ARPA-SIMC/arkimet/internal/dataset"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

type Server struct {
	pool   *dataset.Pool
	router *mux.Router
}

func New(pool *dataset.Pool) *Server {
	s := &Server{pool: pool, router: mux.NewRouter()}
	s.router.HandleFunc("/aliases", s.handleAliases).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/query", s.handleMacroQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/dataset/{name}/config", s.handleDatasetConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/dataset/{name}/query", s.handleQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/dataset/{name}/summary", s.handleSummary).Methods(http.MethodPost)
	return s
}

// Handler returns the routing stack with request logging.
func (s *Server) Handler() http.Handler {
	return handlers.LoggingHandler(os.Stdout, s.router)
}

func (s *Server) handleAliases(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(s.pool.Session().Aliases().Serialise())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range s.pool.Names() {
		cfg, err := s.pool.Config(name)
		if err != nil {
			continue
		}
		fmt.Fprintln(w, cfg.Render(true))
	}
}

func (s *Server) handleDatasetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.pool.Config(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, cfg.Render(true))
}

func (s *Server) parseQuery(r *http.Request) (dataset.Query, error) {
	m, err := s.pool.Session().Matcher(r.FormValue("query"))
	if err != nil {
		return dataset.Query{}, err
	}
	q := dataset.Query{Matcher: m}
	if sortSpec := r.FormValue("sort"); sortSpec != "" {
		if q.Sort, err = dataset.ParseSort(sortSpec); err != nil {
			return dataset.Query{}, err
		}
	}
	return q, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	reader, err := s.pool.Reader(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	style := r.FormValue("style")
	if style == "" {
		style = "metadata"
	}
	switch style {
	case "metadata", "inline":
		q.WithData = style == "inline"
		w.Header().Set("Content-Type", "application/octet-stream")
		err = reader.QueryData(q, func(md *metadata.Metadata) (bool, error) {
			if werr := md.Write(w); werr != nil {
				return false, werr
			}
			return true, nil
		})
	case "data":
		w.Header().Set("Content-Type", "application/octet-stream")
		err = dataset.QueryBytes(reader, q, w)
	case "postprocess":
		w.Header().Set("Content-Type", "application/octet-stream")
		err = dataset.QueryBytesPostprocess(reader, q, r.FormValue("command"), w)
	case "rep_summary":
		sum, serr := reader.QuerySummary(q.Matcher)
		if serr != nil {
			err = serr
			break
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		err = sum.Write(w)
	default:
		http.Error(w, fmt.Sprintf("unsupported style %q", style), http.StatusBadRequest)
		return
	}
	if err != nil {
		// the stream may already be half-written; all we can do is
		// log and cut it
		log.Errorf("dataset %s: query failed: %v", name, err)
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	reader, err := s.pool.Reader(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	m, err := s.pool.Session().Matcher(r.FormValue("query"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum, err := reader.QuerySummary(m)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := sum.Write(w); err != nil {
		log.Errorf("summary query failed: %v", err)
	}
}

// handleMacroQuery runs a registered query macro over the whole pool.
func (s *Server) handleMacroQuery(w http.ResponseWriter, r *http.Request) {
	macroName := r.FormValue("qmacro")
	if macroName == "" {
		http.Error(w, "missing qmacro", http.StatusBadRequest)
		return
	}
	macro, err := dataset.GetQueryMacro(macroName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	err = macro(s.pool, r.FormValue("args"), q, func(md *metadata.Metadata) (bool, error) {
		if werr := md.Write(w); werr != nil {
			return false, werr
		}
		return true, nil
	})
	if err != nil {
		log.Errorf("query macro %s failed: %v", macroName, err)
	}
}
