package value

import (
	"fmt"
	"time"

	"github.com/kartikbazzad/docengine/oid"
)

// FromAny converts a generic Go value (as produced by callers building
// filters, updates, and documents with plain map[string]any/[]any literals)
// into a Value. This is the boundary between the open-ended, runtime-typed
// mappings callers write and the tagged-union tree the engine evaluates.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case time.Time:
		return Timestamp(t), nil
	case oid.ObjectId:
		return ObjectIdValue(t), nil
	case []byte:
		return Binary(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			cv, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = cv
		}
		return Value{Kind: KindArray, Arr: arr}, nil
	case map[string]any:
		o := NewObject()
		for _, k := range sortedKeys(t) {
			cv, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			o.Set(k, cv)
		}
		return Object2(o), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported Go type %T", v)
	}
}

// sortedKeys is used only to give map[string]any inputs a deterministic
// insertion order; field order is not semantically meaningful but
// deterministic output makes tests reproducible.
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

// ToAny converts a Value back into a plain Go value tree (map[string]any,
// []any, and scalar types), suitable for gojsonschema.NewGoLoader or CEL
// evaluation contexts.
func ToAny(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindTimestamp:
		return v.Time
	case KindObjectId:
		return v.Oid.Hex()
	case KindBinary:
		return v.Bin
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = ToAny(e)
		}
		return out
	case KindObject:
		out := make(map[string]any, v.Obj.Len())
		for _, k := range v.Obj.Keys() {
			cv, _ := v.Obj.Get(k)
			out[k] = ToAny(cv)
		}
		return out
	default:
		return nil
	}
}
