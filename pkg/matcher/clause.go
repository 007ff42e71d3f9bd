// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package matcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ARPA-SIMC/arkimet/pkg/types"
)

func parseClause(code types.Code, body string) (clause, error) {
	switch code {
	case types.CodeReftime:
		return parseReftimeClause(body)
	case types.CodeOrigin, types.CodeProduct, types.CodeLevel, types.CodeTimerange:
		return parseTupleClause(code, body)
	case types.CodeArea:
		return parseBagClause(code, body)
	case types.CodeProddef:
		return parseBagClause(code, body)
	case types.CodeRun:
		return parseRunClause(body)
	case types.CodeTask:
		return &taskClause{needle: strings.TrimSpace(body)}, nil
	case types.CodeQuantity:
		return parseQuantityClause(body)
	default:
		return nil, fmt.Errorf("dimension %s cannot appear in a matcher: %w", code, types.ErrFormat)
	}
}

/* reftime */

// reftimeClause is a conjunction of comparisons compiled down to one
// half-open interval.
type reftimeClause struct {
	expr     string
	interval types.Interval
}

func parseReftimeClause(body string) (*reftimeClause, error) {
	cl := &reftimeClause{expr: body}
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op := ""
		for _, candidate := range []string{">=", "<=", "==", "=", ">", "<"} {
			if strings.HasPrefix(part, candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return nil, fmt.Errorf("cannot parse reftime comparison %q: %w", part, types.ErrFormat)
		}
		t, prec, err := types.ParseTimePartial(part[len(op):])
		if err != nil {
			return nil, err
		}
		span := types.Interval{Begin: t, End: t.UpperBound(prec)}
		var bound types.Interval
		switch op {
		case "=", "==":
			bound = span
		case ">=":
			bound = types.Interval{Begin: span.Begin}
		case ">":
			bound = types.Interval{Begin: span.End}
		case "<=":
			bound = types.Interval{End: span.End}
		case "<":
			bound = types.Interval{End: span.Begin}
		}
		got, ok := cl.interval.Intersect(bound)
		if !ok {
			// contradictory comparisons: empty interval that
			// matches nothing
			cl.interval = types.Interval{Begin: span.Begin, End: span.Begin}
			return cl, nil
		}
		cl.interval = got
	}
	return cl, nil
}

func (cl *reftimeClause) MatchItem(it types.Item) bool {
	rt, ok := it.(types.Reftime)
	if !ok {
		return false
	}
	if !cl.interval.Begin.IsZero() && cl.interval.Begin == cl.interval.End {
		return false
	}
	return cl.interval.Intersects(rt.Interval())
}

func (cl *reftimeClause) String() string { return cl.expr }

/* tuple dimensions: origin, product, level, timerange */

// styleFields gives the ordered field names of each style, as exposed
// by the structured encoding. Tuple matchers compare against these.
var styleFields = map[types.Code]map[string][]string{
	types.CodeOrigin: {
		"GRIB1":  {"centre", "subcentre", "process"},
		"GRIB2":  {"centre", "subcentre", "processtype", "bgprocessid", "processid"},
		"BUFR":   {"centre", "subcentre"},
		"ODIMH5": {"wmo", "rad", "plc"},
	},
	types.CodeProduct: {
		"GRIB1":  {"origin", "table", "product"},
		"GRIB2":  {"centre", "discipline", "category", "number"},
		"BUFR":   {"basetype", "subtype", "localsubtype"},
		"ODIMH5": {"object", "product"},
		"VM2":    {"id"},
	},
	types.CodeLevel: {
		"GRIB1":  {"leveltype", "l1", "l2"},
		"GRIB2S": {"leveltype", "scale", "value"},
		"GRIB2D": {"l1.leveltype", "l1.scale", "l1.value", "l2.leveltype", "l2.scale", "l2.value"},
		"ODIMH5": {"min", "max"},
	},
	types.CodeTimerange: {
		"GRIB1":   {"trange", "unit", "p1", "p2"},
		"GRIB2":   {"trange", "unit", "p1", "p2"},
		"Timedef": {"stepunit", "steplen", "stattype", "statunit", "statlen"},
		"BUFR":    {"unit", "value"},
	},
}

// tupleAlt is one OR alternative: a style plus per-field expectations,
// empty fields acting as wildcards.
type tupleAlt struct {
	style  string
	fields []string
}

type tupleClause struct {
	code types.Code
	alts []tupleAlt
}

func parseTupleClause(code types.Code, body string) (*tupleClause, error) {
	cl := &tupleClause{code: code}
	for _, alt := range strings.Split(body, " or ") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		parts := strings.Split(alt, ",")
		style := strings.TrimSpace(parts[0])
		known, ok := styleFields[code][canonicalStyle(code, style)]
		if !ok {
			return nil, fmt.Errorf("unknown %s style %q in matcher: %w", code, style, types.ErrFormat)
		}
		if len(parts)-1 > len(known) {
			return nil, fmt.Errorf("%s matcher %q has more than %d fields: %w", code, alt, len(known), types.ErrFormat)
		}
		fields := make([]string, len(parts)-1)
		for i, p := range parts[1:] {
			fields[i] = strings.TrimSpace(p)
		}
		cl.alts = append(cl.alts, tupleAlt{style: canonicalStyle(code, style), fields: fields})
	}
	if len(cl.alts) == 0 {
		return nil, fmt.Errorf("empty %s matcher: %w", code, types.ErrFormat)
	}
	return cl, nil
}

func canonicalStyle(code types.Code, style string) string {
	if code == types.CodeTimerange && strings.EqualFold(style, "timedef") {
		return "Timedef"
	}
	return strings.ToUpper(style)
}

type styled interface {
	Style() string
}

func (cl *tupleClause) MatchItem(it types.Item) bool {
	st, ok := it.(styled)
	if !ok {
		return false
	}
	mapping := it.Serialise()
	for _, alt := range cl.alts {
		if alt.style != canonicalStyle(cl.code, st.Style()) {
			continue
		}
		if matchFields(mapping, styleFields[cl.code][alt.style], alt.fields) {
			return true
		}
	}
	return false
}

func matchFields(mapping map[string]interface{}, names []string, wanted []string) bool {
	for i, want := range wanted {
		if want == "" {
			continue
		}
		got, ok := lookupField(mapping, names[i])
		if !ok {
			return false
		}
		if !valueEquals(got, want) {
			return false
		}
	}
	return true
}

func lookupField(mapping map[string]interface{}, name string) (interface{}, bool) {
	if dot := strings.Index(name, "."); dot >= 0 {
		sub, ok := mapping[name[:dot]].(map[string]interface{})
		if !ok {
			return nil, false
		}
		return lookupField(sub, name[dot+1:])
	}
	v, ok := mapping[name]
	return v, ok
}

func valueEquals(got interface{}, want string) bool {
	switch v := got.(type) {
	case int:
		n, err := strconv.ParseInt(want, 10, 64)
		return err == nil && n == int64(v)
	case int64:
		n, err := strconv.ParseInt(want, 10, 64)
		return err == nil && n == v
	case float64:
		f, err := strconv.ParseFloat(want, 64)
		return err == nil && f == v
	case string:
		return v == want
	default:
		return false
	}
}

// exactItem pins a value when there is one alternative with every
// field given. Timedef is excluded: its matcher fields are raw
// numbers while the text parser wants unit suffixes.
func (cl *tupleClause) exactItem(code types.Code) (types.Item, bool) {
	if len(cl.alts) != 1 {
		return nil, false
	}
	alt := cl.alts[0]
	if alt.style == "Timedef" {
		return nil, false
	}
	known := styleFields[code][alt.style]
	if len(alt.fields) != len(known) {
		return nil, false
	}
	for _, f := range alt.fields {
		if f == "" {
			return nil, false
		}
	}
	it, err := types.ParseItem(code, alt.style+"("+strings.Join(alt.fields, ", ")+")")
	if err != nil {
		return nil, false
	}
	return it, true
}

func (cl *tupleClause) String() string {
	parts := make([]string, 0, len(cl.alts))
	for _, alt := range cl.alts {
		if len(alt.fields) == 0 {
			parts = append(parts, alt.style)
		} else {
			parts = append(parts, alt.style+","+strings.Join(alt.fields, ","))
		}
	}
	return strings.Join(parts, " or ")
}

/* bag dimensions: area, proddef */

// bagAlt matches "STYLE:k=v,..." by subset, or "VM2:id" for stations.
type bagAlt struct {
	style   string
	bag     types.ValueBag
	hasBag  bool
	station uint32
	hasID   bool
}

type bagClause struct {
	code types.Code
	alts []bagAlt
}

func parseBagClause(code types.Code, body string) (*bagClause, error) {
	cl := &bagClause{code: code}
	for _, raw := range strings.Split(body, " or ") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if code == types.CodeArea && strings.HasPrefix(strings.ToLower(raw), "bbox") {
			return nil, fmt.Errorf("area bbox expression %q is not supported: %w", raw, types.ErrFormat)
		}
		var alt bagAlt
		colon := strings.Index(raw, ":")
		if colon < 0 {
			alt.style = strings.ToUpper(raw)
		} else {
			alt.style = strings.ToUpper(strings.TrimSpace(raw[:colon]))
			rest := strings.TrimSpace(raw[colon+1:])
			if alt.style == "VM2" {
				id, err := strconv.ParseUint(rest, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("cannot parse VM2 station %q: %w", rest, types.ErrFormat)
				}
				alt.station = uint32(id)
				alt.hasID = true
			} else {
				bag, err := types.ParseValueBag(rest)
				if err != nil {
					return nil, err
				}
				alt.bag = bag
				alt.hasBag = true
			}
		}
		cl.alts = append(cl.alts, alt)
	}
	if len(cl.alts) == 0 {
		return nil, fmt.Errorf("empty %s matcher: %w", code, types.ErrFormat)
	}
	return cl, nil
}

func (cl *bagClause) MatchItem(it types.Item) bool {
	for _, alt := range cl.alts {
		if cl.matchAlt(alt, it) {
			return true
		}
	}
	return false
}

func (cl *bagClause) matchAlt(alt bagAlt, it types.Item) bool {
	switch v := it.(type) {
	case types.AreaGRIB:
		return alt.style == "GRIB" && (!alt.hasBag || v.Values.Contains(alt.bag))
	case types.AreaODIMH5:
		return alt.style == "ODIMH5" && (!alt.hasBag || v.Values.Contains(alt.bag))
	case types.AreaVM2:
		return alt.style == "VM2" && (!alt.hasID || v.Station == alt.station)
	case types.ProddefGRIB:
		return alt.style == "GRIB" && (!alt.hasBag || v.Values.Contains(alt.bag))
	default:
		return false
	}
}

func (cl *bagClause) String() string {
	parts := make([]string, 0, len(cl.alts))
	for _, alt := range cl.alts {
		switch {
		case alt.hasBag:
			parts = append(parts, fmt.Sprintf("%s:%s", alt.style, alt.bag))
		case alt.hasID:
			parts = append(parts, fmt.Sprintf("%s:%d", alt.style, alt.station))
		default:
			parts = append(parts, alt.style)
		}
	}
	return strings.Join(parts, " or ")
}

/* run */

type runClause struct {
	minutes []uint32
}

func parseRunClause(body string) (*runClause, error) {
	cl := &runClause{}
	for _, raw := range strings.Split(body, " or ") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		// accept "MINUTE,12", "MINUTE,12:30" and bare "12"
		raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(raw, "MINUTE,"), "MINUTE"))
		raw = strings.TrimPrefix(raw, ",")
		if raw == "" {
			continue
		}
		var minute uint64
		if colon := strings.Index(raw, ":"); colon >= 0 {
			ho, err1 := strconv.ParseUint(strings.TrimSpace(raw[:colon]), 10, 32)
			mi, err2 := strconv.ParseUint(strings.TrimSpace(raw[colon+1:]), 10, 32)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("cannot parse run %q: %w", raw, types.ErrFormat)
			}
			minute = ho*60 + mi
		} else {
			ho, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("cannot parse run %q: %w", raw, types.ErrFormat)
			}
			minute = ho * 60
		}
		cl.minutes = append(cl.minutes, uint32(minute))
	}
	return cl, nil
}

func (cl *runClause) MatchItem(it types.Item) bool {
	run, ok := it.(types.RunMinute)
	if !ok {
		return false
	}
	if len(cl.minutes) == 0 {
		return true
	}
	for _, m := range cl.minutes {
		if run.Minute == m {
			return true
		}
	}
	return false
}

func (cl *runClause) exactItem(types.Code) (types.Item, bool) {
	if len(cl.minutes) != 1 {
		return nil, false
	}
	return types.RunMinute{Minute: cl.minutes[0]}, true
}

func (cl *runClause) String() string {
	parts := make([]string, 0, len(cl.minutes))
	for _, m := range cl.minutes {
		parts = append(parts, fmt.Sprintf("MINUTE,%02d:%02d", m/60, m%60))
	}
	if len(parts) == 0 {
		return "MINUTE"
	}
	return strings.Join(parts, " or ")
}

/* task */

// taskClause matches by case-insensitive substring.
type taskClause struct {
	needle string
}

func (cl *taskClause) MatchItem(it types.Item) bool {
	task, ok := it.(types.Task)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(task.Value), strings.ToLower(cl.needle))
}

func (cl *taskClause) String() string { return cl.needle }

/* quantity */

type quantityClause struct {
	wanted []string
}

func parseQuantityClause(body string) (*quantityClause, error) {
	cl := &quantityClause{}
	for _, raw := range strings.Split(body, ",") {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			cl.wanted = append(cl.wanted, raw)
		}
	}
	if len(cl.wanted) == 0 {
		return nil, fmt.Errorf("empty quantity matcher: %w", types.ErrFormat)
	}
	return cl, nil
}

func (cl *quantityClause) MatchItem(it types.Item) bool {
	q, ok := it.(types.Quantity)
	if !ok {
		return false
	}
	return q.Contains(cl.wanted)
}

func (cl *quantityClause) String() string { return strings.Join(cl.wanted, ",") }
