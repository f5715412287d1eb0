// Package value implements the recursive tagged-union Value type that
// documents, filters, and update expressions are all built from, plus the
// structural-equality and total-order-within-kind comparator over it.
package value

import (
	"fmt"
	"time"

	"github.com/kartikbazzad/docengine/oid"
)

// Kind identifies which alternative of the tagged union a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTimestamp
	KindObjectId
	KindBinary
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt, KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindTimestamp:
		return "date"
	case KindObjectId:
		return "objectId"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a recursive tagged union over the document data model. Only the
// field matching Kind is meaningful; callers must switch on Kind rather than
// check fields directly.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Time  time.Time
	Oid   oid.ObjectId
	Bin   []byte
	Arr   []Value
	Obj   *Object
}

// Object is an ordered mapping from string keys to Values. Field order is
// preserved on the insertion path but is not semantically meaningful.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty, ready-to-use Object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Get returns the value at key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Set inserts or overwrites key, preserving original insertion order.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	if _, exists := o.values[key]; !exists {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	clone := NewObject()
	for _, k := range o.keys {
		clone.Set(k, o.values[k].Clone())
	}
	return clone
}

// Constructors for each Value kind.

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value       { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t.UTC()} }
func ObjectIdValue(id oid.ObjectId) Value {
	return Value{Kind: KindObjectId, Oid: id}
}
func Binary(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{Kind: KindBinary, Bin: cp}
}
func Array(items ...Value) Value { return Value{Kind: KindArray, Arr: items} }
func Object2(o *Object) Value    { return Value{Kind: KindObject, Obj: o} }

// IsNull reports whether v is the null value (not the same as absent).
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat64 returns v's numeric value widened to float64; ok is false for
// non-numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindArray:
		arr := make([]Value, len(v.Arr))
		for i, e := range v.Arr {
			arr[i] = e.Clone()
		}
		return Value{Kind: KindArray, Arr: arr}
	case KindObject:
		return Value{Kind: KindObject, Obj: v.Obj.Clone()}
	case KindBinary:
		bin := make([]byte, len(v.Bin))
		copy(bin, v.Bin)
		return Value{Kind: KindBinary, Bin: bin}
	default:
		return v
	}
}

// GoString renders v for debugging/error messages.
func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s}", v.Kind)
}
