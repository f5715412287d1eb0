// Package planner implements index selection and candidate streaming:
// given a parsed filter, it picks at most one index to narrow the scan,
// streams candidates from either that index or a full collection scan,
// re-verifies every candidate against the complete filter, then applies
// dedup/sort/skip/limit/projection. Scan stages compose as a pipeline of
// Cursors, each layering one more operation (table/index scan, dedup,
// filter, sort, skip, limit, projection) over the one below it.
package planner

import (
	"sort"
	"strings"

	"github.com/kartikbazzad/docengine/internal/codec"
	"github.com/kartikbazzad/docengine/internal/index"
	"github.com/kartikbazzad/docengine/internal/value"
)

// predicate is a top-level, single-field comparison extracted directly from
// the raw filter input, used only to pick an index. Only top-level AND-ed
// field predicates are considered, not ones nested under $or/$nor/$not,
// since those don't guarantee every document satisfying the overall filter
// also satisfies the nested predicate.
type predicate struct {
	path string
	op   string // "$eq", "$in", "$gt", "$gte", "$lt", "$lte"
	val  value.Value
	list []value.Value
}

// extractPredicates scans filterInput's top-level field entries for
// indexable comparison operators.
func extractPredicates(filterInput map[string]any) []predicate {
	var out []predicate
	for key, raw := range filterInput {
		if strings.HasPrefix(key, "$") {
			continue
		}
		if m, ok := raw.(map[string]any); ok && isOperatorMap(m) {
			for op, opRaw := range m {
				switch op {
				case "$eq", "$gt", "$gte", "$lt", "$lte":
					if v, err := value.FromAny(opRaw); err == nil {
						out = append(out, predicate{path: key, op: op, val: v})
					}
				case "$in":
					if list, ok := opRaw.([]any); ok {
						vals := make([]value.Value, 0, len(list))
						for _, item := range list {
							if v, err := value.FromAny(item); err == nil {
								vals = append(vals, v)
							}
						}
						out = append(out, predicate{path: key, op: "$in", list: vals})
					}
				}
			}
			continue
		}
		if v, err := value.FromAny(raw); err == nil {
			out = append(out, predicate{path: key, op: "$eq", val: v})
		}
	}
	return out
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// kind discriminates the shape of scan a Plan performs.
type kind int

const (
	kindTableScan kind = iota
	kindIndexExact
	kindIndexIn
	kindIndexRange
)

// Plan is the selected access path for one query.
type Plan struct {
	kind  kind
	index index.Meta

	exactValue string   // kindIndexExact
	inValues   []string // kindIndexIn

	lowerBound, upperBound       *string // kindIndexRange, serialized
	lowerInclusive, upperInclusive bool
}

// Select picks an index (or a full scan) for filterInput over the indexes
// currently known on collection. Exact-match single/compound-leading-field
// predicates are preferred over range predicates, which are preferred over
// a full scan; the first viable index found wins. There is no cost-based
// planning.
func Select(filterInput map[string]any, indexes []index.Meta) Plan {
	preds := extractPredicates(filterInput)
	byPath := make(map[string][]predicate)
	for _, p := range preds {
		byPath[p.path] = append(byPath[p.path], p)
	}

	sorted := make([]index.Meta, len(indexes))
	copy(sorted, indexes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, meta := range sorted {
		for _, p := range byPath[meta.LeadingPath()] {
			if p.op == "$eq" {
				return Plan{kind: kindIndexExact, index: meta, exactValue: serializeIndexValue(p.val)}
			}
		}
	}
	for _, meta := range sorted {
		for _, p := range byPath[meta.LeadingPath()] {
			if p.op == "$in" {
				vals := make([]string, 0, len(p.list))
				for _, v := range p.list {
					vals = append(vals, serializeIndexValue(v))
				}
				return Plan{kind: kindIndexIn, index: meta, inValues: vals}
			}
		}
	}
	for _, meta := range sorted {
		var lower, upper *string
		lowerIncl, upperIncl := false, false
		ranged := false
		for _, p := range byPath[meta.LeadingPath()] {
			s := serializeIndexValue(p.val)
			bound := &s
			if p.val.IsNumber() {
				// Decimal strings do not sort in numeric order, so a numeric
				// bound cannot prune entries: the whole field range is scanned.
				bound = nil
			}
			switch p.op {
			case "$gt":
				lower, lowerIncl, ranged = bound, false, true
			case "$gte":
				lower, lowerIncl, ranged = bound, true, true
			case "$lt":
				upper, upperIncl, ranged = bound, false, true
			case "$lte":
				upper, upperIncl, ranged = bound, true, true
			}
		}
		if ranged {
			return Plan{kind: kindIndexRange, index: meta, lowerBound: lower, upperBound: upper, lowerInclusive: lowerIncl, upperInclusive: upperIncl}
		}
	}
	return Plan{kind: kindTableScan}
}

func serializeIndexValue(v value.Value) string {
	return codec.SerializeIndexValue(v)
}
