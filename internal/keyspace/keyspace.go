// Package keyspace builds the KV key layout shared by the index manager,
// the planner, and the write coordinator, so all three agree on
// byte-for-byte key shape.
//
// Documents are keyed by (collection, id) where id is the ObjectId's
// lowercase hex string rather than its raw 12 bytes, because raw bytes are
// unconstrained and can collide in sort order with the "__idx__"/
// "__indexes__" markers used for index keys in the same collection, which
// would break the invariant that a collection's documents form one
// contiguous range. Markers are instead given a leading NUL byte
// (`"\x00__idx__"`, `"\x00__indexes__"`), which always sorts below every
// ASCII hex digit (0x30-0x66), guaranteeing a collection's document range
// and its index/metadata ranges never interleave regardless of which
// ObjectIds happen to exist.
package keyspace

import "github.com/kartikbazzad/docengine/kv"

const (
	indexesMarker = "\x00__indexes__"
	idxMarker     = "\x00__idx__"
)

// DocumentKey encodes the primary key for a document.
func DocumentKey(collection, idHex string) []byte {
	return kv.EncodeKeyStrings(collection, idHex)
}

// CollectionRange returns the [start, end) range covering every document in
// collection, and only documents. Its lower
// bound is not the bare collection prefix — that would also match every
// "\x00__idx__"/"\x00__indexes__" marker key below — but the encoded key
// for the virtual tuple (collection, "\x01"), which sorts strictly below
// every real document id (ids start at ASCII '0'-'f', all >= 0x30) and
// strictly above every marker (markers start with 0x00).
func CollectionRange(collection string) (start, end []byte) {
	_, end = kv.PrefixRange([]byte(collection))
	start = kv.EncodeKeyStrings(collection, "\x01")
	return start, end
}

// IndexMetaKey encodes the metadata entry key for a named index.
func IndexMetaKey(collection, indexName string) []byte {
	return kv.EncodeKeyStrings(collection, indexesMarker, indexName)
}

// IndexMetaRange returns the prefix range over all of a collection's index
// metadata entries.
func IndexMetaRange(collection string) (start, end []byte) {
	return kv.PrefixRange([]byte(collection), []byte(indexesMarker))
}

// IndexEntryKey encodes one secondary-index entry key. fieldKey is the
// index's leading-field name for a single-field index, or the index's
// stable name for a compound index.
func IndexEntryKey(collection, fieldKey, serializedValue, idHex string) []byte {
	return kv.EncodeKeyStrings(collection, idxMarker, fieldKey, serializedValue, idHex)
}

// IndexEntryExactRange returns the prefix range over index entries for an
// exact serialized value.
func IndexEntryExactRange(collection, fieldKey, serializedValue string) (start, end []byte) {
	return kv.PrefixRange([]byte(collection), []byte(idxMarker), []byte(fieldKey), []byte(serializedValue))
}

// IndexEntryFieldRange returns the prefix range over every entry for a
// given field key, for range-predicate scans that then filter each entry's
// serialized value in memory.
func IndexEntryFieldRange(collection, fieldKey string) (start, end []byte) {
	return kv.PrefixRange([]byte(collection), []byte(idxMarker), []byte(fieldKey))
}

// IndexEntryCollectionRange returns the prefix range over every index
// entry of any field in collection.
func IndexEntryCollectionRange(collection string) (start, end []byte) {
	return kv.PrefixRange([]byte(collection), []byte(idxMarker))
}
