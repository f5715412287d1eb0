package rules

import (
	"testing"

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

func TestEvaluateEmptyExpressionDenies(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ok, err := e.Evaluate("", nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Fatalf("expected empty expression to deny")
	}
}

func TestEvaluateLiteralShortCircuits(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if ok, _ := e.Evaluate("true", nil, nil); !ok {
		t.Fatalf("expected \"true\" to allow")
	}
	if ok, _ := e.Evaluate("false", nil, nil); ok {
		t.Fatalf("expected \"false\" to deny")
	}
}

func TestEvaluateOwnerMatch(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	auth := AuthContext{UID: "user-1"}
	request := RequestContext(auth, nil)
	resource := ResourceContext("abc", doc("ownerId", "user-1"))

	ok, err := e.Evaluate(`request.auth.uid == resource.data.ownerId`, request, resource)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatalf("expected matching owner to be allowed")
	}

	other := RequestContext(AuthContext{UID: "user-2"}, nil)
	ok, err = e.Evaluate(`request.auth.uid == resource.data.ownerId`, other, resource)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatched owner to be denied")
	}
}

func TestEvaluateAdminBypassesOwnership(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	request := RequestContext(AuthContext{UID: "user-2", IsAdmin: true}, nil)
	resource := ResourceContext("abc", doc("ownerId", "user-1"))

	ok, err := e.Evaluate(`request.auth.isAdmin || request.auth.uid == resource.data.ownerId`, request, resource)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatalf("expected admin to bypass ownership check")
	}
}

func TestEvaluateCachesCompiledProgram(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	expr := `request.params.limit < 100`
	request := RequestContext(AuthContext{}, map[string]any{"limit": int64(10)})

	for i := 0; i < 3; i++ {
		ok, err := e.Evaluate(expr, request, nil)
		if err != nil {
			t.Fatalf("Evaluate iteration %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected limit check to pass on iteration %d", i)
		}
	}
	if _, ok := e.prgCache.Load(expr); !ok {
		t.Fatalf("expected program to be cached after first evaluation")
	}
}

func TestEvaluateNonBooleanResultErrors(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Evaluate(`request.params.limit`, RequestContext(AuthContext{}, map[string]any{"limit": int64(10)}), nil); err == nil {
		t.Fatalf("expected error for non-boolean expression result")
	}
}
