package index

import (
	"context"
	"fmt"

	"github.com/kartikbazzad/docengine/internal/codec"
	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
	"github.com/kartikbazzad/docengine/kv"
)

// DuplicateError reports a unique-index violation, surfaced by the write
// coordinator as a docengine.Error with Kind DuplicateKey.
type DuplicateError struct {
	IndexName string
	Field     string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value for unique index %q (field %q)", e.IndexName, e.Field)
}

// leadingValues resolves an index's leading field against doc. absent is
// true if the field is entirely missing, which a sparse index treats as
// "no entry for this document" rather than indexing a null.
func leadingValues(doc value.Value, meta Meta) (values []value.Value, absent bool) {
	res := path.Resolve(doc, meta.LeadingPath())
	switch res.Kind {
	case path.Absent:
		return nil, true
	case path.Single:
		return []value.Value{res.Single}, false
	case path.FanOut:
		return res.FanOut, false
	default:
		return nil, true
	}
}

// trailingEqual reports whether doc's trailing compound fields (everything
// after the leading field) equal other's, field by field. Used only to
// disambiguate compound-unique-index candidates that share a leading value.
func trailingEqual(meta Meta, a, b value.Value) bool {
	for _, f := range meta.Spec.Fields[1:] {
		ra := path.Resolve(a, f.Path)
		rb := path.Resolve(b, f.Path)
		if ra.Kind != path.Single || rb.Kind != path.Single {
			// A multikey trailing field makes compound uniqueness
			// ambiguous; conservatively treat as not equal so we never
			// falsely reject a legitimate insert.
			return false
		}
		if !value.Equal(ra.Single, rb.Single) {
			return false
		}
	}
	return true
}

// entriesForDoc computes the Set ops needed to index doc under meta.
// excludeIDHex, when non-empty, is the document's own id, so that an
// update's re-indexing pass does not trip over its own previous entries.
func (m *Manager) entriesForDoc(ctx context.Context, collection string, meta Meta, doc value.Value, idHex string, excludeIDHex string) ([]kv.Op, error) {
	values, absent := leadingValues(doc, meta)
	if absent {
		if meta.Sparse {
			return nil, nil
		}
		values = []value.Value{value.Null()}
	}

	ops := make([]kv.Op, 0, len(values))
	for _, v := range values {
		serialized := codec.SerializeIndexValue(v)
		if meta.Unique {
			if err := m.checkUnique(ctx, collection, meta, doc, serialized, excludeIDHex); err != nil {
				return nil, err
			}
		}
		key := keyForEntry(collection, meta, serialized, idHex)
		payload, err := EncodeEntryPayload(serialized, idHex)
		if err != nil {
			return nil, fmt.Errorf("index: encode entry payload: %w", err)
		}
		ops = append(ops, kv.Op{Type: kv.OpSet, Key: key, Value: payload})
	}
	return ops, nil
}

func (m *Manager) checkUnique(ctx context.Context, collection string, meta Meta, doc value.Value, serialized, excludeIDHex string) error {
	start, end := exactRange(collection, meta, serialized)
	it, err := m.store.List(ctx, start, end)
	if err != nil {
		return fmt.Errorf("index: uniqueness scan: %w", err)
	}
	defer it.Close()

	for it.Next(ctx) {
		_, otherID, ok := DecodeEntryPayload(it.Entry().Value)
		if !ok || otherID == excludeIDHex {
			continue
		}
		if len(meta.Spec.Fields) == 1 {
			return &DuplicateError{IndexName: meta.Name, Field: meta.LeadingPath()}
		}
		otherDoc, found, err := m.fetchDocument(ctx, collection, otherID)
		if err != nil {
			return err
		}
		if found && trailingEqual(meta, doc, otherDoc) {
			return &DuplicateError{IndexName: meta.Name, Field: meta.FieldKey()}
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("index: uniqueness scan: %w", err)
	}
	return nil
}

func (m *Manager) fetchDocument(ctx context.Context, collection, idHex string) (value.Value, bool, error) {
	key := docKey(collection, idHex)
	raw, _, found, err := m.store.Get(ctx, key)
	if err != nil {
		return value.Value{}, false, fmt.Errorf("index: fetch document: %w", err)
	}
	if !found {
		return value.Value{}, false, nil
	}
	doc, err := codec.DecodeDocument(raw)
	if err != nil {
		return value.Value{}, false, fmt.Errorf("index: decode document: %w", err)
	}
	return doc, true, nil
}

// EncodeEntryPayload packs an index entry's serialized value and the
// document id it points to, so planner range scans can prune candidates
// without re-parsing the tuple-encoded key.
func EncodeEntryPayload(serialized, idHex string) ([]byte, error) {
	return codec.EncodeDocument(value.Array(value.String(serialized), value.String(idHex)))
}

// DecodeEntryPayload is the inverse of EncodeEntryPayload.
func DecodeEntryPayload(payload []byte) (serialized, idHex string, ok bool) {
	v, err := codec.DecodeDocument(payload)
	if err != nil || v.Kind != value.KindArray || len(v.Arr) != 2 {
		return "", "", false
	}
	return v.Arr[0].Str, v.Arr[1].Str, true
}

// EntriesForInsert computes every index's entries for a newly inserted doc.
func (m *Manager) EntriesForInsert(ctx context.Context, collection string, doc value.Value, idHex string) ([]kv.Op, error) {
	var ops []kv.Op
	for _, meta := range m.List(collection) {
		entryOps, err := m.entriesForDoc(ctx, collection, meta, doc, idHex, "")
		if err != nil {
			return nil, err
		}
		ops = append(ops, entryOps...)
	}
	return ops, nil
}

// EntriesForUpdate computes the removals and additions needed to move a
// document's index entries from oldDoc to newDoc, for every index whose
// fields actually changed.
func (m *Manager) EntriesForUpdate(ctx context.Context, collection string, oldDoc, newDoc value.Value, idHex string) (removeOps, addOps []kv.Op, err error) {
	for _, meta := range m.List(collection) {
		oldValues, oldAbsent := leadingValues(oldDoc, meta)
		newValues, newAbsent := leadingValues(newDoc, meta)
		if !changed(oldValues, oldAbsent, newValues, newAbsent) && compoundUnchanged(meta, oldDoc, newDoc) {
			continue
		}
		for _, op := range removalOpsFor(collection, meta, oldDoc, idHex) {
			removeOps = append(removeOps, op)
		}
		addEntryOps, err := m.entriesForDoc(ctx, collection, meta, newDoc, idHex, idHex)
		if err != nil {
			return nil, nil, err
		}
		addOps = append(addOps, addEntryOps...)
	}
	return removeOps, addOps, nil
}

func compoundUnchanged(meta Meta, oldDoc, newDoc value.Value) bool {
	if len(meta.Spec.Fields) == 1 {
		return true
	}
	return trailingEqual(meta, oldDoc, newDoc) && trailingEqual(meta, newDoc, oldDoc)
}

func changed(oldValues []value.Value, oldAbsent bool, newValues []value.Value, newAbsent bool) bool {
	if oldAbsent != newAbsent {
		return true
	}
	if len(oldValues) != len(newValues) {
		return true
	}
	for i := range oldValues {
		if !value.Equal(oldValues[i], newValues[i]) {
			return true
		}
	}
	return false
}

// EntriesForDelete computes the removal ops for every index covering doc.
func (m *Manager) EntriesForDelete(collection string, doc value.Value, idHex string) []kv.Op {
	var ops []kv.Op
	for _, meta := range m.List(collection) {
		ops = append(ops, removalOpsFor(collection, meta, doc, idHex)...)
	}
	return ops
}

func removalOpsFor(collection string, meta Meta, doc value.Value, idHex string) []kv.Op {
	values, absent := leadingValues(doc, meta)
	if absent {
		if meta.Sparse {
			return nil
		}
		values = []value.Value{value.Null()}
	}
	ops := make([]kv.Op, 0, len(values))
	for _, v := range values {
		serialized := codec.SerializeIndexValue(v)
		key := keyForEntry(collection, meta, serialized, idHex)
		ops = append(ops, kv.Op{Type: kv.OpDelete, Key: key})
	}
	return ops
}
