package docengine

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/docengine/internal/value"
)

const (
	onDeleteRestrict = "restrict"
	onDeleteSetNull  = "set_null"
	onDeleteCascade  = "cascade"
)

// ReferenceRule defines a schema-declared reference from a source
// collection field to a target collection's primary key, expressed as an
// "x-bundoc-ref" annotation on the field's JSON schema entry.
type ReferenceRule struct {
	SourceCollection string
	SourceField      string
	TargetCollection string
	TargetField      string
	OnDelete         string
}

// parseReferenceRules scans a JSON schema document's properties for
// "x-bundoc-ref" annotations and returns the reference rules they declare.
// It operates on the schema text directly, not on any document, so needs
// no internal/value involvement.
func parseReferenceRules(sourceCollection, schemaStr string) ([]ReferenceRule, error) {
	if schemaStr == "" {
		return nil, nil
	}

	var root map[string]interface{}
	if err := json.Unmarshal([]byte(schemaStr), &root); err != nil {
		return nil, fmt.Errorf("%w: schema is not valid JSON: %v", ErrInvalidReferenceSchema, err)
	}

	propsRaw, ok := root["properties"]
	if !ok {
		return nil, nil
	}

	props, ok := propsRaw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: schema.properties must be an object", ErrInvalidReferenceSchema)
	}

	rules := make([]ReferenceRule, 0)
	for fieldName, defRaw := range props {
		defMap, ok := defRaw.(map[string]interface{})
		if !ok {
			continue
		}
		refRaw, hasRef := defMap["x-bundoc-ref"]
		if !hasRef {
			continue
		}

		refMap, ok := refRaw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: x-bundoc-ref for field %s must be an object", ErrInvalidReferenceSchema, fieldName)
		}

		targetCollection, ok := refMap["collection"].(string)
		if !ok || targetCollection == "" {
			return nil, fmt.Errorf("%w: x-bundoc-ref.collection is required for field %s", ErrInvalidReferenceSchema, fieldName)
		}

		targetField := "_id"
		if v, ok := refMap["field"].(string); ok && v != "" {
			targetField = v
		}

		// v1 supports target _id lookups only.
		if targetField != "_id" {
			return nil, fmt.Errorf("%w: x-bundoc-ref.field for field %s must be _id in v1", ErrInvalidReferenceSchema, fieldName)
		}

		onDelete := onDeleteSetNull
		if v, ok := refMap["on_delete"].(string); ok && v != "" {
			onDelete = v
		}
		if !isValidOnDelete(onDelete) {
			return nil, fmt.Errorf("%w: invalid on_delete %q for field %s", ErrInvalidReferenceSchema, onDelete, fieldName)
		}

		rules = append(rules, ReferenceRule{
			SourceCollection: sourceCollection,
			SourceField:      fieldName,
			TargetCollection: targetCollection,
			TargetField:      targetField,
			OnDelete:         onDelete,
		})
	}

	return rules, nil
}

func isValidOnDelete(v string) bool {
	switch v {
	case onDeleteRestrict, onDeleteSetNull, onDeleteCascade:
		return true
	default:
		return false
	}
}

// normalizeReferenceValue renders a resolved reference-field Value as the
// plain string a target lookup compares against (every primary key is an
// ObjectId hex string under the keyspace package's layout).
func normalizeReferenceValue(v value.Value) (string, error) {
	switch v.Kind {
	case value.KindString:
		if v.Str == "" {
			return "", fmt.Errorf("empty reference value")
		}
		return v.Str, nil
	case value.KindObjectId:
		return v.Oid.Hex(), nil
	case value.KindNull:
		return "", nil
	case value.KindInt, value.KindFloat, value.KindBool:
		return fmt.Sprintf("%v", value.ToAny(v)), nil
	default:
		return "", fmt.Errorf("reference field must be a scalar")
	}
}
