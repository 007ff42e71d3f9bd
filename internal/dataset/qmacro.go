// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dataset

import (
	"fmt"
	"sync"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
)

// QueryMacro is a named server-side query function: it sees the whole
// pool and emits metadata. Macros replace the scripting hooks of
// older deployments; ARKI_QMACRO names where operator macros used to
// live and is accepted for compatibility but macros are registered
// from code.
type QueryMacro func(p *Pool, args string, q Query, f metadata.ReadFunc) error

var (
	qmacroMu sync.RWMutex
	qmacros  = map[string]QueryMacro{}
)

// RegisterQueryMacro installs a macro under a name.
func RegisterQueryMacro(name string, macro QueryMacro) {
	qmacroMu.Lock()
	defer qmacroMu.Unlock()
	qmacros[name] = macro
}

// GetQueryMacro resolves a macro by name.
func GetQueryMacro(name string) (QueryMacro, error) {
	qmacroMu.RLock()
	defer qmacroMu.RUnlock()
	if m, ok := qmacros[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("query macro %q: %w", name, ErrNotFound)
}

func init() {
	// "noop" queries the named dataset unchanged; it doubles as the
	// macro plumbing test
	RegisterQueryMacro("noop", func(p *Pool, args string, q Query, f metadata.ReadFunc) error {
		r, err := p.Reader(args)
		if err != nil {
			return err
		}
		return r.QueryData(q, f)
	})
}
