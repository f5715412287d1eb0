package path

import (
	"testing"

	"github.com/kartikbazzad/docengine/internal/value"
)

func obj(pairs ...any) value.Value {
	o := value.NewObject()
	for i := 0; i+1 < len(pairs); i += 2 {
		o.Set(pairs[i].(string), pairs[i+1].(value.Value))
	}
	return value.Object2(o)
}

func TestResolveMappingStep(t *testing.T) {
	doc := obj("a", obj("b", value.Int(5)))
	r := Resolve(doc, "a.b")
	if r.Kind != Single || r.Single.Int != 5 {
		t.Fatalf("expected single value 5, got %+v", r)
	}
}

func TestResolveMissingField(t *testing.T) {
	doc := obj("a", value.Int(1))
	r := Resolve(doc, "missing")
	if !r.IsAbsent() {
		t.Fatalf("expected absent for missing field")
	}
}

func TestResolveNumericIndex(t *testing.T) {
	doc := obj("a", value.Array(value.String("x"), value.String("y")))
	r := Resolve(doc, "a.1")
	if r.Kind != Single || r.Single.Str != "y" {
		t.Fatalf("expected single value y, got %+v", r)
	}
}

func TestResolveNumericIndexOutOfBounds(t *testing.T) {
	doc := obj("a", value.Array(value.Int(1)))
	r := Resolve(doc, "a.5")
	if !r.IsAbsent() {
		t.Fatalf("expected absent for out-of-bounds index")
	}
}

func TestResolveFanOutOverMappingSequence(t *testing.T) {
	doc := obj("items", value.Array(
		obj("qty", value.Int(1)),
		obj("qty", value.Int(2)),
		obj("other", value.Int(9)),
	))
	r := Resolve(doc, "items.qty")
	if r.Kind != FanOut {
		t.Fatalf("expected fan-out, got %+v", r)
	}
	vals := r.Values()
	if len(vals) != 2 || vals[0].Int != 1 || vals[1].Int != 2 {
		t.Fatalf("unexpected fan-out values: %+v", vals)
	}
}

func TestResolveFanOutAllNonMapping(t *testing.T) {
	doc := obj("items", value.Array(value.Int(1), value.Int(2)))
	r := Resolve(doc, "items.qty")
	if !r.IsAbsent() {
		t.Fatalf("non-mapping sequence elements should resolve to absent")
	}
}

func TestResolveContainerStep(t *testing.T) {
	arr := value.Array(value.Int(1), value.Int(2))
	doc := obj("items", arr)
	r := Resolve(doc, "items.$")
	if r.Kind != Single || r.Single.Kind != value.KindArray {
		t.Fatalf("expected $ step to return the container, got %+v", r)
	}
}

func TestSetCreatesIntermediates(t *testing.T) {
	doc := value.Object2(value.NewObject())
	Set(&doc, "a.b.c", value.Int(42))
	r := Resolve(doc, "a.b.c")
	if r.Kind != Single || r.Single.Int != 42 {
		t.Fatalf("expected set value to resolve, got %+v", r)
	}
}

func TestUnsetNoOpOnMissingIntermediate(t *testing.T) {
	doc := obj("a", value.Int(1))
	Unset(&doc, "x.y.z")
	r := Resolve(doc, "a")
	if r.Kind != Single || r.Single.Int != 1 {
		t.Fatalf("unset on missing intermediate must not disturb document")
	}
}

func TestUnsetRemovesField(t *testing.T) {
	doc := obj("a", value.Int(1), "b", value.Int(2))
	Unset(&doc, "a")
	if !Resolve(doc, "a").IsAbsent() {
		t.Fatalf("expected a to be removed")
	}
	if Resolve(doc, "b").Single.Int != 2 {
		t.Fatalf("b should be untouched")
	}
}
