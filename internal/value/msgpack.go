package value

import (
	"fmt"

	"github.com/kartikbazzad/docengine/oid"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeMsgpack implements msgpack.CustomEncoder so a Value encodes as a
// compact [kind, payload] pair regardless of which alternative it holds.
// This is the wire format stored as the document value under the primary
// KV key.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt8(int8(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.Bool)
	case KindInt:
		return enc.EncodeInt64(v.Int)
	case KindFloat:
		return enc.EncodeFloat64(v.Float)
	case KindString:
		return enc.EncodeString(v.Str)
	case KindTimestamp:
		return enc.EncodeTime(v.Time)
	case KindObjectId:
		return enc.EncodeBytes(v.Oid.Bytes())
	case KindBinary:
		return enc.EncodeBytes(v.Bin)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.Arr)); err != nil {
			return err
		}
		for _, elem := range v.Arr {
			if err := enc.Encode(elem); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		keys := v.Obj.Keys()
		if err := enc.EncodeArrayLen(len(keys)); err != nil {
			return err
		}
		for _, k := range keys {
			fv, _ := v.Obj.Get(k)
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := enc.Encode(fv); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("value: encode: unknown kind %d", v.Kind)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder, the inverse of EncodeMsgpack.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("value: decode: expected array len 2, got %d", n)
	}

	kindRaw, err := dec.DecodeInt8()
	if err != nil {
		return err
	}
	kind := Kind(kindRaw)

	switch kind {
	case KindNull:
		if err := dec.DecodeNil(); err != nil {
			return err
		}
		*v = Null()
	case KindBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return err
		}
		*v = Bool(b)
	case KindInt:
		i, err := dec.DecodeInt64()
		if err != nil {
			return err
		}
		*v = Int(i)
	case KindFloat:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return err
		}
		*v = Float(f)
	case KindString:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*v = String(s)
	case KindTimestamp:
		t, err := dec.DecodeTime()
		if err != nil {
			return err
		}
		*v = Timestamp(t)
	case KindObjectId:
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		id, err := oid.FromBytes(b)
		if err != nil {
			return err
		}
		*v = ObjectIdValue(id)
	case KindBinary:
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		*v = Binary(b)
	case KindArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		arr := make([]Value, n)
		for i := 0; i < n; i++ {
			if err := dec.Decode(&arr[i]); err != nil {
				return err
			}
		}
		*v = Value{Kind: KindArray, Arr: arr}
	case KindObject:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		o := NewObject()
		for i := 0; i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return err
			}
			var fv Value
			if err := dec.Decode(&fv); err != nil {
				return err
			}
			o.Set(k, fv)
		}
		*v = Object2(o)
	default:
		return fmt.Errorf("value: decode: unknown kind %d", kind)
	}
	return nil
}
