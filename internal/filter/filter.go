// Package filter implements the filter expression tree and evaluator: a
// filter is parsed once from an open-ended mapping into an immutable
// tagged-variant tree, then walked repeatedly against streamed documents.
// The full comparison/logical/element/array operator set is supported,
// including $in/$nin/$nor/$not/$exists/$type/$size/$all/$elemMatch.
package filter

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

// Node is a parsed filter expression; Match evaluates it against a document.
type Node interface {
	Match(doc value.Value) bool
}

// Parse converts an open-ended filter mapping into a Node tree.
// Top-level entries are combined with AND.
func Parse(input map[string]any) (Node, error) {
	nodes, err := parseEntries(input)
	if err != nil {
		return nil, err
	}
	return &andNode{children: nodes}, nil
}

func parseEntries(input map[string]any) ([]Node, error) {
	var nodes []Node
	for _, key := range sortedKeys(input) {
		raw := input[key]
		if strings.HasPrefix(key, "$") {
			node, err := parseLogical(key, raw)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
			continue
		}
		node, err := parseFieldEntry(key, raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func parseLogical(key string, raw any) (Node, error) {
	switch key {
	case "$and", "$or", "$nor":
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("filter: %s requires a list of sub-filters", key)
		}
		children := make([]Node, 0, len(list))
		for _, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filter: elements of %s must be filter objects", key)
			}
			node, err := Parse(sub)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
		switch key {
		case "$and":
			return &andNode{children: children}, nil
		case "$or":
			return &orNode{children: children}, nil
		default:
			return &norNode{children: children}, nil
		}
	case "$not":
		sub, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("filter: $not requires a single filter object")
		}
		node, err := Parse(sub)
		if err != nil {
			return nil, err
		}
		return &notNode{child: node}, nil
	default:
		return nil, fmt.Errorf("filter: unknown top-level operator %q", key)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
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

func parseFieldEntry(fieldPath string, raw any) (Node, error) {
	if m, ok := raw.(map[string]any); ok && isOperatorMap(m) {
		conds := make([]condition, 0, len(m))
		for _, op := range sortedKeys(m) {
			cond, err := parseCondition(op, m[op])
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		return &fieldNode{path: fieldPath, conditions: conds}, nil
	}

	// Implicit rewrite: a field entry with a literal becomes {$eq: literal}.
	v, err := value.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("filter: field %s: %w", fieldPath, err)
	}
	return &fieldNode{path: fieldPath, conditions: []condition{{op: "$eq", operand: v}}}, nil
}

func parseCondition(op string, raw any) (condition, error) {
	switch op {
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		v, err := value.FromAny(raw)
		if err != nil {
			return condition{}, fmt.Errorf("filter: %s: %w", op, err)
		}
		return condition{op: op, operand: v}, nil
	case "$in", "$nin", "$all":
		list, ok := raw.([]any)
		if !ok {
			return condition{}, fmt.Errorf("filter: %s requires a list", op)
		}
		values := make([]value.Value, len(list))
		for i, item := range list {
			v, err := value.FromAny(item)
			if err != nil {
				return condition{}, fmt.Errorf("filter: %s: %w", op, err)
			}
			values[i] = v
		}
		return condition{op: op, list: values}, nil
	case "$exists":
		b, ok := raw.(bool)
		if !ok {
			return condition{}, fmt.Errorf("filter: $exists requires a boolean")
		}
		return condition{op: op, boolOperand: b}, nil
	case "$type":
		s, ok := raw.(string)
		if !ok {
			return condition{}, fmt.Errorf("filter: $type requires a string")
		}
		return condition{op: op, strOperand: s}, nil
	case "$size":
		v, err := value.FromAny(raw)
		if err != nil || !v.IsNumber() {
			return condition{}, fmt.Errorf("filter: $size requires a number")
		}
		n, _ := v.AsFloat64()
		return condition{op: op, intOperand: int(n)}, nil
	case "$elemMatch":
		sub, ok := raw.(map[string]any)
		if !ok {
			return condition{}, fmt.Errorf("filter: $elemMatch requires a filter object")
		}
		node, err := Parse(sub)
		if err != nil {
			return condition{}, err
		}
		return condition{op: op, sub: node}, nil
	default:
		return condition{}, fmt.Errorf("filter: unknown operator %q", op)
	}
}

// fieldNode resolves path against a document and ANDs its conditions.
type fieldNode struct {
	path       string
	conditions []condition
}

func (n *fieldNode) Match(doc value.Value) bool {
	res := path.Resolve(doc, n.path)
	for _, c := range n.conditions {
		if !c.eval(res) {
			return false
		}
	}
	return true
}

type andNode struct{ children []Node }

func (n *andNode) Match(doc value.Value) bool {
	for _, c := range n.children {
		if !c.Match(doc) {
			return false
		}
	}
	return true
}

type orNode struct{ children []Node }

func (n *orNode) Match(doc value.Value) bool {
	for _, c := range n.children {
		if c.Match(doc) {
			return true
		}
	}
	return false
}

type norNode struct{ children []Node }

func (n *norNode) Match(doc value.Value) bool {
	for _, c := range n.children {
		if c.Match(doc) {
			return false
		}
	}
	return true
}

type notNode struct{ child Node }

func (n *notNode) Match(doc value.Value) bool {
	return !n.child.Match(doc)
}
