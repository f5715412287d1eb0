package filter

import (
	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

// condition is one operator applied to a resolved field value. Only the
// fields relevant to op are populated.
type condition struct {
	op          string
	operand     value.Value
	list        []value.Value
	boolOperand bool
	strOperand  string
	intOperand  int
	sub         Node
}

// asValues flattens a path.Resolution into the value(s) it yielded, so a
// single resolved value and a fan-out resolution can share matching logic.
func asValues(res path.Resolution) []value.Value {
	switch res.Kind {
	case path.Single:
		return []value.Value{res.Single}
	case path.FanOut:
		return res.FanOut
	default:
		return nil
	}
}

// valueMatchesEq implements MongoDB-style array-contains equality: if v is
// a sequence and operand is not, succeed iff any element equals operand;
// otherwise succeed iff v equals operand structurally.
func valueMatchesEq(v, operand value.Value) bool {
	if v.Kind == value.KindArray && operand.Kind != value.KindArray {
		for _, e := range v.Arr {
			if value.Equal(e, operand) {
				return true
			}
		}
		return false
	}
	return value.Equal(v, operand)
}

func (c condition) eval(res path.Resolution) bool {
	switch c.op {
	case "$eq":
		return evalEq(res, c.operand)
	case "$ne":
		return !evalEq(res, c.operand)
	case "$gt":
		return evalOrdered(res, c.operand, func(cmp int) bool { return cmp > 0 })
	case "$gte":
		return evalOrdered(res, c.operand, func(cmp int) bool { return cmp >= 0 })
	case "$lt":
		return evalOrdered(res, c.operand, func(cmp int) bool { return cmp < 0 })
	case "$lte":
		return evalOrdered(res, c.operand, func(cmp int) bool { return cmp <= 0 })
	case "$in":
		return evalIn(res, c.list)
	case "$nin":
		return !evalIn(res, c.list)
	case "$exists":
		return !res.IsAbsent() == c.boolOperand
	case "$type":
		return evalType(res, c.strOperand)
	case "$size":
		return evalSize(res, c.intOperand)
	case "$all":
		return evalAll(res, c.list)
	case "$elemMatch":
		return evalElemMatch(res, c.sub)
	default:
		return false
	}
}

func evalEq(res path.Resolution, operand value.Value) bool {
	vals := asValues(res)
	if len(vals) == 0 {
		return operand.Kind == value.KindNull
	}
	for _, v := range vals {
		if valueMatchesEq(v, operand) {
			return true
		}
	}
	return false
}

func evalOrdered(res path.Resolution, operand value.Value, satisfies func(int) bool) bool {
	for _, v := range asValues(res) {
		if cmp, ok := value.Compare(v, operand); ok && satisfies(cmp) {
			return true
		}
	}
	return false
}

func evalIn(res path.Resolution, list []value.Value) bool {
	for _, v := range asValues(res) {
		for _, item := range list {
			if value.Equal(v, item) {
				return true
			}
			if v.Kind == value.KindArray {
				for _, e := range v.Arr {
					if value.Equal(e, item) {
						return true
					}
				}
			}
		}
	}
	return false
}

func evalType(res path.Resolution, typeName string) bool {
	for _, v := range asValues(res) {
		if v.Kind.String() == typeName {
			return true
		}
	}
	return false
}

func evalSize(res path.Resolution, n int) bool {
	if res.Kind != path.Single || res.Single.Kind != value.KindArray {
		return false
	}
	return len(res.Single.Arr) == n
}

func evalAll(res path.Resolution, list []value.Value) bool {
	if res.Kind != path.Single || res.Single.Kind != value.KindArray {
		return false
	}
	for _, want := range list {
		found := false
		for _, have := range res.Single.Arr {
			if value.Equal(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func evalElemMatch(res path.Resolution, sub Node) bool {
	if res.Kind != path.Single || res.Single.Kind != value.KindArray || sub == nil {
		return false
	}
	for _, elem := range res.Single.Arr {
		if sub.Match(elem) {
			return true
		}
	}
	return false
}
