package planner

import (
	"context"
	"fmt"

	"github.com/kartikbazzad/docengine/internal/codec"
	"github.com/kartikbazzad/docengine/internal/filter"
	"github.com/kartikbazzad/docengine/internal/index"
	"github.com/kartikbazzad/docengine/internal/keyspace"
	"github.com/kartikbazzad/docengine/internal/value"
	"github.com/kartikbazzad/docengine/kv"
)

// Cursor is a streaming iterator over documents, matching kv.Iterator's
// Next/Value/Close shape.
type Cursor interface {
	Next(ctx context.Context) bool
	Value() value.Value
	Err() error
	Close() error
}

// Execute selects a plan for filterInput and returns a Cursor over every
// matching document in collection, already deduplicated and re-verified
// against the full filter. Callers compose Sort/Skip/Limit/Project on top
// of the returned Cursor as needed.
func Execute(ctx context.Context, store kv.Store, indexes *index.Manager, collection string, filterInput map[string]any) (Cursor, error) {
	node, err := filter.Parse(filterInput)
	if err != nil {
		return nil, fmt.Errorf("planner: parse filter: %w", err)
	}
	plan := Select(filterInput, indexes.List(collection))

	var base Cursor
	switch plan.kind {
	case kindIndexExact:
		base, err = newIndexScanCursor(ctx, store, collection, plan.index, []string{plan.exactValue})
	case kindIndexIn:
		base, err = newIndexScanCursor(ctx, store, collection, plan.index, plan.inValues)
	case kindIndexRange:
		base, err = newIndexRangeScanCursor(ctx, store, collection, plan.index, plan.lowerBound, plan.lowerInclusive, plan.upperBound, plan.upperInclusive)
	default:
		base, err = newTableScanCursor(ctx, store, collection)
	}
	if err != nil {
		return nil, err
	}

	return &filterCursor{source: newDedupCursor(base), node: node}, nil
}

// tableScanCursor streams every document in a collection, used when no
// viable index exists for the query.
type tableScanCursor struct {
	it  kv.Iterator
	err error
	cur value.Value
}

func newTableScanCursor(ctx context.Context, store kv.Store, collection string) (*tableScanCursor, error) {
	start, end := keyspace.CollectionRange(collection)
	it, err := store.List(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("planner: table scan: %w", err)
	}
	return &tableScanCursor{it: it}, nil
}

func (c *tableScanCursor) Next(ctx context.Context) bool {
	for c.it.Next(ctx) {
		doc, err := codec.DecodeDocument(c.it.Entry().Value)
		if err != nil {
			c.err = fmt.Errorf("planner: decode document: %w", err)
			return false
		}
		c.cur = doc
		return true
	}
	c.err = c.it.Err()
	return false
}

func (c *tableScanCursor) Value() value.Value { return c.cur }
func (c *tableScanCursor) Err() error          { return c.err }
func (c *tableScanCursor) Close() error        { return c.it.Close() }

// indexScanCursor streams documents reachable through one or more exact
// index-entry ranges (exact match, or the union of ranges an $in predicate
// needs), fetching each candidate's document by id.
type indexScanCursor struct {
	store      kv.Store
	collection string
	values     []string
	meta       index.Meta

	rangeIdx int
	it       kv.Iterator
	err      error
	cur      value.Value
}

func newIndexScanCursor(ctx context.Context, store kv.Store, collection string, meta index.Meta, values []string) (*indexScanCursor, error) {
	c := &indexScanCursor{store: store, collection: collection, meta: meta, values: values, rangeIdx: -1}
	if err := c.advanceRange(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *indexScanCursor) advanceRange(ctx context.Context) error {
	if c.it != nil {
		c.it.Close()
		c.it = nil
	}
	c.rangeIdx++
	if c.rangeIdx >= len(c.values) {
		return nil
	}
	bound := c.values[c.rangeIdx]
	start, end := keyspace.IndexEntryExactRange(c.collection, c.meta.FieldKey(), bound)
	it, err := c.store.List(ctx, start, end)
	if err != nil {
		return fmt.Errorf("planner: index scan: %w", err)
	}
	c.it = it
	return nil
}

func (c *indexScanCursor) Next(ctx context.Context) bool {
	for {
		if c.it == nil {
			return false
		}
		if !c.it.Next(ctx) {
			if err := c.it.Err(); err != nil {
				c.err = err
				return false
			}
			if err := c.advanceRange(ctx); err != nil {
				c.err = err
				return false
			}
			continue
		}
		_, idHex, ok := index.DecodeEntryPayload(c.it.Entry().Value)
		if !ok {
			continue
		}
		raw, _, found, err := c.store.Get(ctx, keyspace.DocumentKey(c.collection, idHex))
		if err != nil {
			c.err = fmt.Errorf("planner: fetch document: %w", err)
			return false
		}
		if !found {
			// Stale entry: its document was removed without the entry
			// being cleaned up (should not happen under normal operation,
			// but candidates are always re-verified so skipping is safe).
			continue
		}
		doc, err := codec.DecodeDocument(raw)
		if err != nil {
			c.err = fmt.Errorf("planner: decode document: %w", err)
			return false
		}
		c.cur = doc
		return true
	}
}

func (c *indexScanCursor) Value() value.Value { return c.cur }
func (c *indexScanCursor) Err() error          { return c.err }
func (c *indexScanCursor) Close() error {
	if c.it != nil {
		return c.it.Close()
	}
	return nil
}

// indexRangeScanCursor streams every entry for a field, pruning by
// comparing each entry's serialized value against the predicate's bounds.
// This pruning is an optimization over an approximate ordering, never the
// sole correctness guarantee: every candidate is still re-verified against
// the full filter downstream.
type indexRangeScanCursor struct {
	it                             kv.Iterator
	store                          kv.Store
	collection                     string
	lower, upper                   *string
	lowerInclusive, upperInclusive bool
	err                            error
	cur                            value.Value
}

func newIndexRangeScanCursor(ctx context.Context, store kv.Store, collection string, meta index.Meta, lower *string, lowerIncl bool, upper *string, upperIncl bool) (*indexRangeScanCursor, error) {
	start, end := keyspace.IndexEntryFieldRange(collection, meta.FieldKey())
	it, err := store.List(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("planner: range scan: %w", err)
	}
	return &indexRangeScanCursor{it: it, store: store, collection: collection, lower: lower, upper: upper, lowerInclusive: lowerIncl, upperInclusive: upperIncl}, nil
}

func (c *indexRangeScanCursor) inBounds(serialized string) bool {
	if c.lower != nil {
		if c.lowerInclusive && serialized < *c.lower {
			return false
		}
		if !c.lowerInclusive && serialized <= *c.lower {
			return false
		}
	}
	if c.upper != nil {
		if c.upperInclusive && serialized > *c.upper {
			return false
		}
		if !c.upperInclusive && serialized >= *c.upper {
			return false
		}
	}
	return true
}

func (c *indexRangeScanCursor) Next(ctx context.Context) bool {
	for c.it.Next(ctx) {
		serialized, idHex, ok := index.DecodeEntryPayload(c.it.Entry().Value)
		if !ok || !c.inBounds(serialized) {
			continue
		}
		raw, _, found, err := c.store.Get(ctx, keyspace.DocumentKey(c.collection, idHex))
		if err != nil {
			c.err = fmt.Errorf("planner: fetch document: %w", err)
			return false
		}
		if !found {
			continue
		}
		doc, err := codec.DecodeDocument(raw)
		if err != nil {
			c.err = fmt.Errorf("planner: decode document: %w", err)
			return false
		}
		c.cur = doc
		return true
	}
	c.err = c.it.Err()
	return false
}

func (c *indexRangeScanCursor) Value() value.Value { return c.cur }
func (c *indexRangeScanCursor) Err() error          { return c.err }
func (c *indexRangeScanCursor) Close() error        { return c.it.Close() }

// dedupCursor drops documents whose _id it has already yielded, needed
// because multikey index entries or unioned $in ranges can surface the
// same document more than once.
type dedupCursor struct {
	source Cursor
	seen   map[string]bool
	cur    value.Value
}

func newDedupCursor(source Cursor) *dedupCursor {
	return &dedupCursor{source: source, seen: make(map[string]bool)}
}

func (c *dedupCursor) Next(ctx context.Context) bool {
	for c.source.Next(ctx) {
		doc := c.source.Value()
		id, ok := docIDHex(doc)
		if ok {
			if c.seen[id] {
				continue
			}
			c.seen[id] = true
		}
		c.cur = doc
		return true
	}
	return false
}

func (c *dedupCursor) Value() value.Value { return c.cur }
func (c *dedupCursor) Err() error          { return c.source.Err() }
func (c *dedupCursor) Close() error        { return c.source.Close() }

// filterCursor re-verifies every candidate against the complete parsed
// filter. This verification is mandatory even for exact-match index plans,
// since index entries don't carry the rest of the document.
type filterCursor struct {
	source Cursor
	node   filter.Node
	cur    value.Value
}

func (c *filterCursor) Next(ctx context.Context) bool {
	for c.source.Next(ctx) {
		doc := c.source.Value()
		if c.node.Match(doc) {
			c.cur = doc
			return true
		}
	}
	return false
}

func (c *filterCursor) Value() value.Value { return c.cur }
func (c *filterCursor) Err() error          { return c.source.Err() }
func (c *filterCursor) Close() error        { return c.source.Close() }

func docIDHex(doc value.Value) (string, bool) {
	if doc.Kind != value.KindObject {
		return "", false
	}
	idVal, ok := doc.Obj.Get("_id")
	if !ok || idVal.Kind != value.KindObjectId {
		return "", false
	}
	return idVal.Oid.Hex(), true
}
