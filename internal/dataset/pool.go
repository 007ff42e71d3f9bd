// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"sort"

	"github.com/ARPA-SIMC/arkimet/internal/config"
	"github.com/ARPA-SIMC/arkimet/pkg/log"
)

// Pool layers writer and checker state over a session, one handle per
// dataset. Fan-out over datasets is sequential.
type Pool struct {
	session  *Session
	configs  map[string]*config.Dataset
	writers  map[string]Writer
	checkers map[string]Checker
}

// NewPool builds a pool over the datasets of a sections file.
func NewPool(session *Session, configs map[string]*config.Dataset) *Pool {
	return &Pool{
		session:  session,
		configs:  configs,
		writers:  make(map[string]Writer),
		checkers: make(map[string]Checker),
	}
}

func (p *Pool) Session() *Session {
	return p.session
}

// Names lists the datasets sorted by name.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.configs))
	for name := range p.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config looks up one dataset's configuration.
func (p *Pool) Config(name string) (*config.Dataset, error) {
	cfg, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	return cfg, nil
}

// Has reports whether the pool knows a dataset.
func (p *Pool) Has(name string) bool {
	_, ok := p.configs[name]
	return ok
}

// Reader returns a session-cached reader for one dataset.
func (p *Pool) Reader(name string) (Reader, error) {
	cfg, err := p.Config(name)
	if err != nil {
		return nil, err
	}
	return p.session.Reader(cfg)
}

// Writer returns the pool's writer for one dataset, opening it once.
func (p *Pool) Writer(name string) (Writer, error) {
	if w, ok := p.writers[name]; ok {
		return w, nil
	}
	cfg, err := p.Config(name)
	if err != nil {
		return nil, err
	}
	w, err := p.session.OpenWriter(cfg)
	if err != nil {
		return nil, err
	}
	p.writers[name] = w
	return w, nil
}

// Checker returns the pool's checker for one dataset, opening it
// once.
func (p *Pool) Checker(name string) (Checker, error) {
	if c, ok := p.checkers[name]; ok {
		return c, nil
	}
	cfg, err := p.Config(name)
	if err != nil {
		return nil, err
	}
	c, err := p.session.OpenChecker(cfg)
	if err != nil {
		return nil, err
	}
	p.checkers[name] = c
	return c, nil
}

// Flush commits every open writer.
func (p *Pool) Flush() error {
	var firstErr error
	for name, w := range p.writers {
		if err := w.Flush(); err != nil {
			log.Errorf("dataset %s: flush failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close releases every handle.
func (p *Pool) Close() error {
	var firstErr error
	for name, w := range p.writers {
		if err := w.Close(); err != nil {
			log.Errorf("dataset %s: close failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for name, c := range p.checkers {
		if err := c.Close(); err != nil {
			log.Errorf("dataset %s: checker close failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.writers = make(map[string]Writer)
	p.checkers = make(map[string]Checker)
	return firstErr
}
