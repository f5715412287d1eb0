package value

import "bytes"

// Equal implements structural equality: same kind and same content,
// recursively. Numbers compare across int/float by numeric value.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		fa, _ := a.AsFloat64()
		fb, _ := b.AsFloat64()
		return fa == fb
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindTimestamp:
		return a.Time.UnixMilli() == b.Time.UnixMilli()
	case KindObjectId:
		return a.Oid.Equal(b.Oid)
	case KindBinary:
		return bytes.Equal(a.Bin, b.Bin)
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.Obj.Len() != b.Obj.Len() {
			return false
		}
		for _, k := range a.Obj.Keys() {
			av, _ := a.Obj.Get(k)
			bv, ok := b.Obj.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// orderClass groups kinds that can be ordered against each other.
// Numbers form one class; strings, timestamps, and object-ids are each
// their own class. Everything else is unorderable.
func orderClass(k Kind) int {
	switch k {
	case KindInt, KindFloat:
		return 1
	case KindString:
		return 2
	case KindTimestamp:
		return 3
	case KindObjectId:
		return 4
	default:
		return 0
	}
}

// Compare returns (cmp, ok). ok is false when a and b belong to
// incomparable kinds: ordered operators must then report no match rather
// than inferring a partial order.
func Compare(a, b Value) (int, bool) {
	ca, cb := orderClass(a.Kind), orderClass(b.Kind)
	if ca == 0 || ca != cb {
		return 0, false
	}
	switch ca {
	case 1:
		fa, _ := a.AsFloat64()
		fb, _ := b.AsFloat64()
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	case 2:
		switch {
		case a.Str < b.Str:
			return -1, true
		case a.Str > b.Str:
			return 1, true
		default:
			return 0, true
		}
	case 3:
		ma, mb := a.Time.UnixMilli(), b.Time.UnixMilli()
		switch {
		case ma < mb:
			return -1, true
		case ma > mb:
			return 1, true
		default:
			return 0, true
		}
	case 4:
		return a.Oid.Compare(b.Oid), true
	default:
		return 0, false
	}
}
