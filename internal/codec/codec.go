// Package codec implements the on-disk document encoding and the
// index-value serialization scheme. Document encoding uses msgpack
// (github.com/vmihailenco/msgpack/v5) rather than plain JSON, for a more
// compact binary representation with native support for the value kinds
// documents carry (timestamps, object ids, binary blobs).
package codec

import (
	"github.com/kartikbazzad/docengine/internal/value"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeDocument serializes a document Value to the bytes stored under its
// primary KV key.
func EncodeDocument(doc value.Value) ([]byte, error) {
	return msgpack.Marshal(doc)
}

// DecodeDocument is the inverse of EncodeDocument.
func DecodeDocument(data []byte) (value.Value, error) {
	var v value.Value
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return value.Value{}, err
	}
	return v, nil
}
