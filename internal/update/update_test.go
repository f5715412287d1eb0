package update

import (
	"testing"

	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

func doc(pairs ...any) value.Value {
	o := value.NewObject()
	for i := 0; i+1 < len(pairs); i += 2 {
		v, _ := value.FromAny(pairs[i+1])
		o.Set(pairs[i].(string), v)
	}
	return value.Object2(o)
}

func field(t *testing.T, d value.Value, p string) value.Value {
	t.Helper()
	r := path.Resolve(d, p)
	if r.Kind != path.Single {
		t.Fatalf("expected single value at %s, got %+v", p, r)
	}
	return r.Single
}

func TestSetAndUnset(t *testing.T) {
	u, err := Parse(map[string]any{"$set": map[string]any{"a": 1}, "$unset": map[string]any{"b": ""}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := doc("b", 2)
	out, err := Apply(d, u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if field(t, out, "a").Int != 1 {
		t.Fatalf("expected a=1")
	}
	if !path.Resolve(out, "b").IsAbsent() {
		t.Fatalf("expected b unset")
	}
}

func TestUnsetAbsentIsNoOp(t *testing.T) {
	u, _ := Parse(map[string]any{"$unset": map[string]any{"missing": ""}})
	d := doc("a", 1)
	out, err := Apply(d, u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if field(t, out, "a").Int != 1 {
		t.Fatalf("document must be unchanged")
	}
}

func TestIncMissingTreatedAsZero(t *testing.T) {
	u, _ := Parse(map[string]any{"$inc": map[string]any{"count": 5}})
	out, err := Apply(doc(), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if field(t, out, "count").Int != 5 {
		t.Fatalf("expected count=5")
	}
}

func TestMinMax(t *testing.T) {
	u, _ := Parse(map[string]any{"$min": map[string]any{"a": 3}, "$max": map[string]any{"b": 10}})
	out, err := Apply(doc("a", 5, "b", 7), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if field(t, out, "a").Int != 3 {
		t.Fatalf("expected min to replace 5 with 3")
	}
	if field(t, out, "b").Int != 10 {
		t.Fatalf("expected max to replace 7 with 10")
	}
}

func TestPushEachEmptyLeavesArrayUnchanged(t *testing.T) {
	u, _ := Parse(map[string]any{"$push": map[string]any{"tags": map[string]any{"$each": []any{}}}})
	out, err := Apply(doc("tags", []any{"x"}), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := field(t, out, "tags")
	if len(got.Arr) != 1 || got.Arr[0].Str != "x" {
		t.Fatalf("expected unchanged array, got %+v", got.Arr)
	}
}

func TestPushCreatesArrayWhenAbsent(t *testing.T) {
	u, _ := Parse(map[string]any{"$push": map[string]any{"tags": "x"}})
	out, err := Apply(doc(), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := field(t, out, "tags")
	if len(got.Arr) != 1 || got.Arr[0].Str != "x" {
		t.Fatalf("expected [x], got %+v", got.Arr)
	}
}

func TestPullLiteral(t *testing.T) {
	u, _ := Parse(map[string]any{"$pull": map[string]any{"t": 2}})
	out, err := Apply(doc("t", []any{1, 2, 3, 2}), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := field(t, out, "t")
	if len(got.Arr) != 2 || got.Arr[0].Int != 1 || got.Arr[1].Int != 3 {
		t.Fatalf("expected [1,3], got %+v", got.Arr)
	}
}

func TestPopOnEmptyIsNoOp(t *testing.T) {
	u, _ := Parse(map[string]any{"$pop": map[string]any{"t": -1}})
	out, err := Apply(doc("t", []any{}), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := field(t, out, "t")
	if len(got.Arr) != 0 {
		t.Fatalf("expected still empty")
	}
}

func TestAddToSetIdempotence(t *testing.T) {
	u, _ := Parse(map[string]any{"$addToSet": map[string]any{"tags": "x"}})
	d := doc("tags", []any{"x"})
	once, err := Apply(d, u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	twice, err := Apply(once, u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	a := field(t, once, "tags")
	b := field(t, twice, "tags")
	if len(a.Arr) != len(b.Arr) {
		t.Fatalf("expected idempotent addToSet, got %d vs %d", len(a.Arr), len(b.Arr))
	}
}

func TestSetOnInsertOnlyAppliesOnInsert(t *testing.T) {
	u, _ := Parse(map[string]any{"$setOnInsert": map[string]any{"createdBy": "system"}})
	inserted, err := Apply(doc(), u, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if field(t, inserted, "createdBy").Str != "system" {
		t.Fatalf("expected createdBy to be set on insert")
	}

	matched, err := Apply(doc(), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !path.Resolve(matched, "createdBy").IsAbsent() {
		t.Fatalf("$setOnInsert should be ignored on a matched update")
	}
}

func TestRenameNoOpIfSourceMissing(t *testing.T) {
	u, _ := Parse(map[string]any{"$rename": map[string]any{"missing": "target"}})
	out, err := Apply(doc("a", 1), u, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !path.Resolve(out, "target").IsAbsent() {
		t.Fatalf("rename of missing field should be a no-op")
	}
}
