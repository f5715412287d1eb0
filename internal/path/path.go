// Package path resolves dotted field paths (e.g. "a.b.0.c") against
// internal/value.Value document trees. Resolution returns a sum type
// rather than conflating absent and null, because downstream operators
// must branch explicitly on whether a step produced one value, a fan-out of
// several, or nothing at all.
package path

import (
	"strconv"
	"strings"

	"github.com/kartikbazzad/docengine/internal/value"
)

// Split breaks a dotted path into its steps.
func Split(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// Join re-assembles path steps back into dotted notation.
func Join(steps []string) string {
	return strings.Join(steps, ".")
}

// Resolution is the sum type a path resolution step produces.
type Resolution struct {
	// Kind discriminates the three possible outcomes.
	Kind ResolutionKind
	// Single holds the resolved value when Kind == Single.
	Single value.Value
	// FanOut holds the projected values when Kind == FanOut.
	FanOut []value.Value
}

type ResolutionKind int

const (
	Absent ResolutionKind = iota
	Single
	FanOut
)

// IsAbsent reports whether resolution failed to find anything.
func (r Resolution) IsAbsent() bool { return r.Kind == Absent }

// Values returns the resolved value(s) as a flat slice, regardless of
// whether the resolution was Single or FanOut. Empty for Absent.
func (r Resolution) Values() []value.Value {
	switch r.Kind {
	case Single:
		return []value.Value{r.Single}
	case FanOut:
		return r.FanOut
	default:
		return nil
	}
}

// Resolve walks doc along the dotted path and returns the sum-typed result.
func Resolve(doc value.Value, p string) Resolution {
	return resolveSteps(doc, Split(p))
}

func resolveSteps(v value.Value, steps []string) Resolution {
	if len(steps) == 0 {
		return Resolution{Kind: Single, Single: v}
	}

	step := steps[0]
	rest := steps[1:]

	switch v.Kind {
	case value.KindObject:
		if step == "$" || step == "" {
			return resolveSteps(v, rest)
		}
		child, ok := v.Obj.Get(step)
		if !ok {
			return Resolution{Kind: Absent}
		}
		return resolveSteps(child, rest)

	case value.KindArray:
		if step == "$" || step == "" {
			return resolveSteps(v, rest)
		}
		if idx, err := strconv.Atoi(step); err == nil && idx >= 0 {
			if idx >= len(v.Arr) {
				return Resolution{Kind: Absent}
			}
			return resolveSteps(v.Arr[idx], rest)
		}
		// Fan-out: collect the field from every mapping element.
		var out []value.Value
		for _, elem := range v.Arr {
			if elem.Kind != value.KindObject {
				continue
			}
			sub := resolveSteps(elem, steps)
			switch sub.Kind {
			case Single:
				out = append(out, sub.Single)
			case FanOut:
				out = append(out, sub.FanOut...)
			}
		}
		if len(out) == 0 {
			return Resolution{Kind: Absent}
		}
		if len(out) == 1 {
			return Resolution{Kind: Single, Single: out[0]}
		}
		return Resolution{Kind: FanOut, FanOut: out}

	default:
		// Descent through a null/scalar fails to absent.
		return Resolution{Kind: Absent}
	}
}

// Set writes v at the dotted path, creating intermediate mappings as
// needed. Only walks through Object nodes; encountering a non-object,
// non-missing intermediate overwrites it with a fresh object, matching
// MongoDB's own dotted-path write semantics.
func Set(doc *value.Value, p string, v value.Value) {
	steps := Split(p)
	if len(steps) == 0 {
		return
	}
	setSteps(doc, steps, v)
}

func setSteps(doc *value.Value, steps []string, v value.Value) {
	if doc.Kind != value.KindObject || doc.Obj == nil {
		*doc = value.Object2(value.NewObject())
	}

	if len(steps) == 1 {
		doc.Obj.Set(steps[0], v)
		return
	}

	key := steps[0]
	child, ok := doc.Obj.Get(key)
	if !ok || child.Kind != value.KindObject {
		child = value.Object2(value.NewObject())
	}
	setSteps(&child, steps[1:], v)
	doc.Obj.Set(key, child)
}

// Unset removes the terminal field at path; a no-op if any intermediate
// step (or the terminal field itself) is missing.
func Unset(doc *value.Value, p string) {
	steps := Split(p)
	if len(steps) == 0 {
		return
	}
	unsetSteps(doc, steps)
}

func unsetSteps(doc *value.Value, steps []string) {
	if doc.Kind != value.KindObject || doc.Obj == nil {
		return
	}
	if len(steps) == 1 {
		doc.Obj.Delete(steps[0])
		return
	}
	child, ok := doc.Obj.Get(steps[0])
	if !ok || child.Kind != value.KindObject {
		return
	}
	unsetSteps(&child, steps[1:])
	doc.Obj.Set(steps[0], child)
}
