// Package kv defines the ordered key-value contract the document engine is
// built against: get-by-key, set/delete, ordered prefix iteration, and
// atomic batches with per-key version checks. kv/btreekv supplies one
// concrete implementation backed by a page-oriented B+Tree.
package kv

import "bytes"

// EncodeKey concatenates parts into a single ordered byte key using the
// escape scheme FoundationDB's tuple layer uses: every 0x00 byte inside a
// part is escaped to 0x00 0xFF, and each part is terminated with 0x00 0x00.
// This guarantees that lexicographic comparison of the encoded byte string
// matches element-wise comparison of the original tuple (collection, id),
// (collection, "__idx__", field, serialized-value, id), etc.
func EncodeKey(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		for _, b := range p {
			if b == 0x00 {
				buf.WriteByte(0x00)
				buf.WriteByte(0xFF)
			} else {
				buf.WriteByte(b)
			}
		}
		buf.WriteByte(0x00)
		buf.WriteByte(0x00)
	}
	return buf.Bytes()
}

// EncodeKeyStrings is a convenience wrapper over EncodeKey for string parts.
func EncodeKeyStrings(parts ...string) []byte {
	b := make([][]byte, len(parts))
	for i, p := range parts {
		b[i] = []byte(p)
	}
	return EncodeKey(b...)
}

// PrefixRange returns [start, end) such that a key-ordered scan over that
// range yields exactly the keys encoded with the given leading parts as a
// prefix.
func PrefixRange(parts ...[]byte) (start, end []byte) {
	start = EncodeKey(parts...)
	end = make([]byte, len(start))
	copy(end, start)
	end = incrementBytes(end)
	return start, end
}

// incrementBytes returns the smallest byte string greater than b under
// lexicographic order, used to turn a prefix into an exclusive range end.
func incrementBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	// All 0xFF: no finite successor: caller must treat end as unbounded.
	return nil
}
