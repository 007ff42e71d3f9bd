// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package matcher compiles the compact query language into predicates
// over metadata. An expression is a semicolon-separated list of
// "dimension:expr" clauses, ANDed together; within most dimensions,
// alternatives can be ORed with " or ".
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/metadata"
	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

// Matcher is a compiled predicate over metadata. The zero value
// matches everything.
type Matcher struct {
	clauses map[types.Code]clause
}

type clause interface {
	// MatchItem tests one value of the clause's dimension.
	MatchItem(it types.Item) bool
	String() string
}

// Parse compiles an expression, expanding aliases first when an alias
// database is given.
func Parse(expr string, aliases *Aliases) (Matcher, error) {
	m := Matcher{clauses: make(map[types.Code]clause)}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return m, nil
	}
	for _, part := range strings.Split(expr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		colon := strings.Index(part, ":")
		if colon < 0 {
			return Matcher{}, fmt.Errorf("cannot parse clause %q: %w: missing ':'", part, types.ErrFormat)
		}
		name := strings.TrimSpace(strings.ToLower(part[:colon]))
		code, err := types.ParseCode(name)
		if err != nil {
			return Matcher{}, fmt.Errorf("cannot parse clause %q: %v", part, err)
		}
		body := strings.TrimSpace(part[colon+1:])
		if aliases != nil {
			body = aliases.Expand(code, body)
		}
		if _, dup := m.clauses[code]; dup {
			return Matcher{}, fmt.Errorf("cannot parse clause %q: %w: duplicate dimension %s", part, types.ErrFormat, name)
		}
		cl, err := parseClause(code, body)
		if err != nil {
			return Matcher{}, err
		}
		m.clauses[code] = cl
	}
	return m, nil
}

// MustParse is Parse for well-known literals in tests and defaults.
func MustParse(expr string) Matcher {
	m, err := Parse(expr, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// IsEmpty reports whether the matcher accepts everything.
func (m Matcher) IsEmpty() bool {
	return len(m.clauses) == 0
}

// Match tests a whole record: every clause must accept the record's
// value for its dimension; a clause on an unset dimension rejects.
func (m Matcher) Match(md *metadata.Metadata) bool {
	return m.MatchItems(md.Get)
}

// MatchItems tests against an item lookup function, which lets summary
// nodes reuse the record logic.
func (m Matcher) MatchItems(get func(types.Code) types.Item) bool {
	for code, cl := range m.clauses {
		it := get(code)
		if it == nil {
			return false
		}
		if !cl.MatchItem(it) {
			return false
		}
	}
	return true
}

// MatchSummaryEntry tests a summary group: non-reftime clauses run
// against the item lookup, the reftime clause against the group's time
// coverage.
func (m Matcher) MatchSummaryEntry(get func(types.Code) types.Item, iv types.Interval) bool {
	for code, cl := range m.clauses {
		if code == types.CodeReftime {
			if !m.MatchInterval(iv) {
				return false
			}
			continue
		}
		it := get(code)
		if it == nil || !cl.MatchItem(it) {
			return false
		}
	}
	return true
}

// MatchItem tests one dimension value; dimensions without a clause
// accept anything.
func (m Matcher) MatchItem(code types.Code, it types.Item) bool {
	cl, ok := m.clauses[code]
	if !ok {
		return true
	}
	return cl.MatchItem(it)
}

// exacter is implemented by clauses that can pin one exact value,
// letting the index turn them into equality lookups.
type exacter interface {
	exactItem(code types.Code) (types.Item, bool)
}

// ExactItem returns the single fully-specified value the clause for a
// dimension pins, if it pins exactly one.
func (m Matcher) ExactItem(code types.Code) (types.Item, bool) {
	cl, ok := m.clauses[code]
	if !ok {
		return nil, false
	}
	ex, ok := cl.(exacter)
	if !ok {
		return nil, false
	}
	return ex.exactItem(code)
}

// HasClause reports whether the matcher constrains a dimension.
func (m Matcher) HasClause(code types.Code) bool {
	_, ok := m.clauses[code]
	return ok
}

// Interval returns the reference time bounds implied by the reftime
// clause, unbounded when there is none.
func (m Matcher) Interval() types.Interval {
	if cl, ok := m.clauses[types.CodeReftime].(*reftimeClause); ok {
		return cl.interval
	}
	return types.Interval{}
}

// MatchInterval reports whether a reftime span can contain matching
// instants.
func (m Matcher) MatchInterval(iv types.Interval) bool {
	return m.Interval().Intersects(iv)
}

func (m Matcher) String() string {
	if len(m.clauses) == 0 {
		return ""
	}
	codes := make([]types.Code, 0, len(m.clauses))
	for code := range m.clauses {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%s:%s", code, m.clauses[code]))
	}
	return strings.Join(parts, "; ")
}
