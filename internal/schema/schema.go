// Package schema implements optional per-collection JSON-schema validation.
// internal/value.Value documents are converted to a generic any tree before
// being handed to gojsonschema, which only understands that shape.
package schema

import (
	"fmt"

	"github.com/kartikbazzad/docengine/internal/value"
	"github.com/xeipuuv/gojsonschema"
)

// Validator wraps one compiled JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
	raw    string
}

// Compile parses and compiles a JSON schema document. An empty schemaJSON
// is rejected; callers that want "no schema" simply don't construct a
// Validator.
func Compile(schemaJSON string) (*Validator, error) {
	if schemaJSON == "" {
		return nil, fmt.Errorf("schema: schema document must not be empty")
	}
	loader := gojsonschema.NewStringLoader(schemaJSON)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("schema: invalid json schema: %w", err)
	}
	return &Validator{schema: compiled, raw: schemaJSON}, nil
}

// Raw returns the schema document this Validator was compiled from.
func (v *Validator) Raw() string { return v.raw }

// ValidationError reports the schema errors found for one document.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document invalid against schema: %v", e.Errors)
}

// Validate checks doc against the compiled schema.
func (v *Validator) Validate(doc value.Value) error {
	docLoader := gojsonschema.NewGoLoader(value.ToAny(doc))
	result, err := v.schema.Validate(docLoader)
	if err != nil {
		return fmt.Errorf("schema: validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return &ValidationError{Errors: errs}
}
