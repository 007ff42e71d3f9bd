// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package index

import (
	"context"
	"time"

	"github.com/ARPA-SIMC/arkimet/pkg/log"
)

type hookCtxKey int

const hookBeginKey hookCtxKey = 0

// Hooks satisfies the sqlhooks.Hooks interface
type Hooks struct{}

// Before prints the query with its args and stamps the context
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, hookBeginKey, time.Now()), nil
}

// After prints the elapsed time since the Before hook
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(hookBeginKey).(time.Time); ok {
		log.Debugf("Took: %s", time.Since(begin))
	}
	return ctx, nil
}
