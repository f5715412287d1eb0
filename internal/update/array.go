package update

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/docengine/internal/filter"
	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

func currentArray(doc *value.Value, p string) []value.Value {
	res := path.Resolve(*doc, p)
	if res.Kind == path.Single && res.Single.Kind == value.KindArray {
		cp := make([]value.Value, len(res.Single.Arr))
		copy(cp, res.Single.Arr)
		return cp
	}
	return nil
}

// pushSpec captures the optional $each/$position/$slice/$sort modifiers.
type pushSpec struct {
	each     []value.Value
	position *int
	slice    *int
	sortKeys []sortKey
}

type sortKey struct {
	path string
	desc bool
}

func applyPush(doc *value.Value, p string, raw any) error {
	spec, err := parsePushSpec(raw)
	if err != nil {
		return err
	}

	arr := currentArray(doc, p)

	if spec.position != nil {
		idx := *spec.position
		if idx < 0 || idx > len(arr) {
			idx = len(arr)
		}
		next := make([]value.Value, 0, len(arr)+len(spec.each))
		next = append(next, arr[:idx]...)
		next = append(next, spec.each...)
		next = append(next, arr[idx:]...)
		arr = next
	} else {
		arr = append(arr, spec.each...)
	}

	if len(spec.sortKeys) > 0 {
		sortArray(arr, spec.sortKeys)
	}

	if spec.slice != nil {
		arr = sliceArray(arr, *spec.slice)
	}

	path.Set(doc, p, value.Value{Kind: value.KindArray, Arr: arr})
	return nil
}

func parsePushSpec(raw any) (pushSpec, error) {
	m, ok := raw.(map[string]any)
	if ok {
		if _, hasEach := m["$each"]; hasEach {
			spec := pushSpec{}
			eachList, ok := m["$each"].([]any)
			if !ok {
				return spec, fmt.Errorf("$push $each requires a list")
			}
			for _, item := range eachList {
				v, err := value.FromAny(item)
				if err != nil {
					return spec, err
				}
				spec.each = append(spec.each, v)
			}
			if posRaw, ok := m["$position"]; ok {
				n, err := toInt(posRaw)
				if err != nil {
					return spec, fmt.Errorf("$position: %w", err)
				}
				spec.position = &n
			}
			if sliceRaw, ok := m["$slice"]; ok {
				n, err := toInt(sliceRaw)
				if err != nil {
					return spec, fmt.Errorf("$slice: %w", err)
				}
				spec.slice = &n
			}
			if sortRaw, ok := m["$sort"]; ok {
				keys, err := parseSortSpec(sortRaw)
				if err != nil {
					return spec, err
				}
				spec.sortKeys = keys
			}
			return spec, nil
		}
	}

	v, err := value.FromAny(raw)
	if err != nil {
		return pushSpec{}, err
	}
	return pushSpec{each: []value.Value{v}}, nil
}

func toInt(raw any) (int, error) {
	v, err := value.FromAny(raw)
	if err != nil || !v.IsNumber() {
		return 0, fmt.Errorf("expected a number")
	}
	f, _ := v.AsFloat64()
	return int(f), nil
}

func parseSortSpec(raw any) ([]sortKey, error) {
	switch t := raw.(type) {
	case float64, int, int64:
		n, _ := toInt(t)
		return []sortKey{{path: "", desc: n < 0}}, nil
	case map[string]any:
		keys := make([]sortKey, 0, len(t))
		for _, k := range sortedKeys(t) {
			n, err := toInt(t[k])
			if err != nil {
				return nil, err
			}
			keys = append(keys, sortKey{path: k, desc: n < 0})
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("$sort has an unsupported shape")
	}
}

func sortArray(arr []value.Value, keys []sortKey) {
	sort.SliceStable(arr, func(i, j int) bool {
		for _, k := range keys {
			a, b := arr[i], arr[j]
			if k.path != "" {
				ra := path.Resolve(a, k.path)
				rb := path.Resolve(b, k.path)
				if ra.Kind != path.Single || rb.Kind != path.Single {
					continue
				}
				a, b = ra.Single, rb.Single
			}
			cmp, ok := value.Compare(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if k.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func sliceArray(arr []value.Value, n int) []value.Value {
	if n >= 0 {
		if n >= len(arr) {
			return arr
		}
		return arr[:n]
	}
	keep := -n
	if keep >= len(arr) {
		return arr
	}
	return arr[len(arr)-keep:]
}

func applyPull(doc *value.Value, p string, raw any) error {
	arr := currentArray(doc, p)
	if arr == nil {
		return nil
	}

	var matchLiteral value.Value
	var matchNode filter.Node
	if m, ok := raw.(map[string]any); ok {
		node, err := filter.Parse(m)
		if err != nil {
			return err
		}
		matchNode = node
	} else {
		v, err := value.FromAny(raw)
		if err != nil {
			return err
		}
		matchLiteral = v
	}

	out := arr[:0:0]
	for _, elem := range arr {
		var remove bool
		if matchNode != nil {
			remove = matchNode.Match(elem)
		} else {
			remove = value.Equal(elem, matchLiteral)
		}
		if !remove {
			out = append(out, elem)
		}
	}
	path.Set(doc, p, value.Value{Kind: value.KindArray, Arr: out})
	return nil
}

func applyPullAll(doc *value.Value, p string, raw any) error {
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("$pullAll requires a list")
	}
	targets := make([]value.Value, len(list))
	for i, item := range list {
		v, err := value.FromAny(item)
		if err != nil {
			return err
		}
		targets[i] = v
	}

	arr := currentArray(doc, p)
	if arr == nil {
		return nil
	}
	out := arr[:0:0]
	for _, elem := range arr {
		remove := false
		for _, t := range targets {
			if value.Equal(elem, t) {
				remove = true
				break
			}
		}
		if !remove {
			out = append(out, elem)
		}
	}
	path.Set(doc, p, value.Value{Kind: value.KindArray, Arr: out})
	return nil
}

func applyPop(doc *value.Value, p string, raw any) error {
	n, err := toInt(raw)
	if err != nil {
		return err
	}
	arr := currentArray(doc, p)
	if len(arr) == 0 {
		return nil
	}
	var out []value.Value
	if n < 0 {
		out = arr[1:]
	} else {
		out = arr[:len(arr)-1]
	}
	path.Set(doc, p, value.Value{Kind: value.KindArray, Arr: out})
	return nil
}

func applyAddToSet(doc *value.Value, p string, raw any) error {
	var toAdd []value.Value
	if m, ok := raw.(map[string]any); ok {
		if eachRaw, hasEach := m["$each"]; hasEach {
			list, ok := eachRaw.([]any)
			if !ok {
				return fmt.Errorf("$addToSet $each requires a list")
			}
			for _, item := range list {
				v, err := value.FromAny(item)
				if err != nil {
					return err
				}
				toAdd = append(toAdd, v)
			}
		} else {
			v, err := value.FromAny(raw)
			if err != nil {
				return err
			}
			toAdd = []value.Value{v}
		}
	} else {
		v, err := value.FromAny(raw)
		if err != nil {
			return err
		}
		toAdd = []value.Value{v}
	}

	arr := currentArray(doc, p)
	for _, candidate := range toAdd {
		found := false
		for _, existing := range arr {
			if value.Equal(existing, candidate) {
				found = true
				break
			}
		}
		if !found {
			arr = append(arr, candidate)
		}
	}
	path.Set(doc, p, value.Value{Kind: value.KindArray, Arr: arr})
	return nil
}
