// Package rules implements CEL-based security rule evaluation: per-operation
// authorization expressions evaluated against the requesting principal and
// the document being read or written. Compiled programs are cached by
// expression text. Documents are internal/value.Value trees, converted via
// value.ToAny for CEL's untyped evaluation.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/kartikbazzad/docengine/internal/value"
)

// AuthContext describes the principal performing an operation.
type AuthContext struct {
	UID     string
	Claims  map[string]interface{}
	IsAdmin bool
}

// Engine compiles and evaluates CEL security-rule expressions, caching
// compiled programs by expression text.
type Engine struct {
	env      *cel.Env
	prgCache sync.Map // map[string]cel.Program
}

// NewEngine builds an Engine whose CEL environment exposes "request" and
// "resource" as dynamically typed maps, so rule expressions can reference
// fields like "request.auth.uid == resource.data.ownerId".
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", types.NewMapType(types.StringType, types.DynType)),
		cel.Variable("resource", types.NewMapType(types.StringType, types.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: build environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// RequestContext builds the "request" CEL variable for one operation.
func RequestContext(auth AuthContext, params map[string]any) map[string]any {
	return map[string]any{
		"auth": map[string]any{
			"uid":     auth.UID,
			"claims":  auth.Claims,
			"isAdmin": auth.IsAdmin,
		},
		"params": params,
	}
}

// ResourceContext builds the "resource" CEL variable from a document,
// converting it from internal/value.Value to a generic any tree the way
// schema.Validator does for gojsonschema.
func ResourceContext(id string, doc value.Value) map[string]any {
	return map[string]any{
		"id":   id,
		"data": value.ToAny(doc),
	}
}

// Evaluate compiles (or reuses a cached compile of) expression and runs it
// against request/resource. An empty expression denies by default.
func (e *Engine) Evaluate(expression string, request, resource map[string]any) (bool, error) {
	if expression == "" {
		return false, nil
	}
	if expression == "true" {
		return true, nil
	}
	if expression == "false" {
		return false, nil
	}

	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"request": request, "resource": resource})
	if err != nil {
		return false, fmt.Errorf("rules: eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rules: expression must evaluate to a boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *Engine) program(expression string) (cel.Program, error) {
	if cached, ok := e.prgCache.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rules: compile error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rules: program construction error: %w", err)
	}
	e.prgCache.Store(expression, prg)
	return prg, nil
}
