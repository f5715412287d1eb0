// Package update implements the update operator engine: it parses an
// update expression into operator groups and applies them to produce a new
// document. All operations are pure — the write coordinator owns
// persistence.
package update

import (
	"fmt"

	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

// groupOrder fixes the order operator groups are applied in, so the result
// is deterministic when an update mixes groups; when two groups touch the
// same path, the group later in this order is applied last.
var groupOrder = []string{
	"$set", "$unset", "$inc", "$mul", "$min", "$max", "$rename",
	"$push", "$pull", "$pullAll", "$pop", "$addToSet", "$setOnInsert",
}

// Update is a parsed update expression: one entry set per operator group,
// each a path -> raw-operand mapping; Apply visits a group's paths in
// sorted order.
type Update struct {
	groups map[string]map[string]any
}

// Parse validates the top-level keys are all recognized update operators
// and returns a parsed Update.
func Parse(input map[string]any) (*Update, error) {
	u := &Update{groups: make(map[string]map[string]any)}
	for key, raw := range input {
		valid := false
		for _, g := range groupOrder {
			if g == key {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("update: unknown operator %q", key)
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("update: %s requires an object of path -> value", key)
		}
		u.groups[key] = m
	}
	return u, nil
}

// IsEmpty reports whether the update carries no operators.
func (u *Update) IsEmpty() bool {
	return u == nil || len(u.groups) == 0
}

// Apply applies the update to doc and returns the resulting document.
// When isInsert is true, $setOnInsert entries are also applied; otherwise
// they are ignored.
func Apply(doc value.Value, u *Update, isInsert bool) (value.Value, error) {
	result := doc.Clone()
	if u == nil {
		return result, nil
	}

	for _, group := range groupOrder {
		entries, ok := u.groups[group]
		if !ok {
			continue
		}
		if group == "$setOnInsert" && !isInsert {
			continue
		}
		if err := applyGroup(&result, group, entries); err != nil {
			return value.Value{}, err
		}
	}

	return result, nil
}

func applyGroup(doc *value.Value, group string, entries map[string]any) error {
	for _, p := range sortedKeys(entries) {
		raw := entries[p]
		var err error
		switch group {
		case "$set", "$setOnInsert":
			err = applySet(doc, p, raw)
		case "$unset":
			path.Unset(doc, p)
		case "$inc":
			err = applyInc(doc, p, raw)
		case "$mul":
			err = applyMul(doc, p, raw)
		case "$min":
			err = applyMinMax(doc, p, raw, true)
		case "$max":
			err = applyMinMax(doc, p, raw, false)
		case "$rename":
			err = applyRename(doc, p, raw)
		case "$push":
			err = applyPush(doc, p, raw)
		case "$pull":
			err = applyPull(doc, p, raw)
		case "$pullAll":
			err = applyPullAll(doc, p, raw)
		case "$pop":
			err = applyPop(doc, p, raw)
		case "$addToSet":
			err = applyAddToSet(doc, p, raw)
		}
		if err != nil {
			return fmt.Errorf("update: %s %s: %w", group, p, err)
		}
	}
	return nil
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

func applySet(doc *value.Value, p string, raw any) error {
	v, err := value.FromAny(raw)
	if err != nil {
		return err
	}
	path.Set(doc, p, v)
	return nil
}

func applyRename(doc *value.Value, from string, raw any) error {
	to, ok := raw.(string)
	if !ok {
		return fmt.Errorf("$rename target must be a string path")
	}
	res := path.Resolve(*doc, from)
	if res.IsAbsent() {
		return nil
	}
	v := res.Single
	if res.Kind == path.FanOut {
		// Renaming a fanned-out projection is not meaningful; skip.
		return nil
	}
	path.Unset(doc, from)
	path.Set(doc, to, v)
	return nil
}
