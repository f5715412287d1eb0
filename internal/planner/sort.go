package planner

import (
	"context"
	"sort"

	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

// SortKey is one field of a sort specification, applied in order.
type SortKey struct {
	Path string
	Desc bool
}

// sortCursor buffers every upstream document, sorts the buffer once, then
// streams it, comparing documents key by key until one key's value.Compare
// call breaks the tie.
type sortCursor struct {
	source   Cursor
	keys     []SortKey
	docs     []value.Value
	idx      int
	prepared bool
}

// Sort wraps source so every document is yielded in the order keys
// describes. Missing fields and incomparable kinds sort as if absent
// (treated as the null value), matching the comparator's own rule that
// cross-kind comparisons are simply inconclusive rather than erroring.
func Sort(source Cursor, keys []SortKey) Cursor {
	if len(keys) == 0 {
		return source
	}
	return &sortCursor{source: source, keys: keys, idx: -1}
}

func (c *sortCursor) prepare(ctx context.Context) {
	for c.source.Next(ctx) {
		c.docs = append(c.docs, c.source.Value())
	}
	sort.SliceStable(c.docs, func(i, j int) bool {
		return c.less(c.docs[i], c.docs[j])
	})
	c.prepared = true
}

func (c *sortCursor) less(a, b value.Value) bool {
	for _, k := range c.keys {
		va := resolveOrNull(a, k.Path)
		vb := resolveOrNull(b, k.Path)
		cmp, ok := value.Compare(va, vb)
		if !ok || cmp == 0 {
			continue
		}
		if k.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func resolveOrNull(doc value.Value, p string) value.Value {
	res := path.Resolve(doc, p)
	if res.Kind == path.Single {
		return res.Single
	}
	return value.Null()
}

func (c *sortCursor) Next(ctx context.Context) bool {
	if !c.prepared {
		c.prepare(ctx)
	}
	c.idx++
	return c.idx < len(c.docs)
}

func (c *sortCursor) Value() value.Value { return c.docs[c.idx] }
func (c *sortCursor) Err() error         { return c.source.Err() }
func (c *sortCursor) Close() error {
	c.docs = nil
	return c.source.Close()
}

// skipCursor discards the first n documents.
type skipCursor struct {
	source  Cursor
	skip    int
	skipped bool
}

// Skip wraps source, discarding its first n results.
func Skip(source Cursor, n int) Cursor {
	if n <= 0 {
		return source
	}
	return &skipCursor{source: source, skip: n}
}

func (c *skipCursor) Next(ctx context.Context) bool {
	if !c.skipped {
		for i := 0; i < c.skip; i++ {
			if !c.source.Next(ctx) {
				c.skipped = true
				return false
			}
		}
		c.skipped = true
	}
	return c.source.Next(ctx)
}

func (c *skipCursor) Value() value.Value { return c.source.Value() }
func (c *skipCursor) Err() error         { return c.source.Err() }
func (c *skipCursor) Close() error       { return c.source.Close() }

// limitCursor caps the number of documents yielded.
type limitCursor struct {
	source Cursor
	limit  int
	count  int
}

// Limit wraps source, yielding at most n documents. n <= 0 means unlimited.
func Limit(source Cursor, n int) Cursor {
	if n <= 0 {
		return source
	}
	return &limitCursor{source: source, limit: n}
}

func (c *limitCursor) Next(ctx context.Context) bool {
	if c.count >= c.limit {
		return false
	}
	if c.source.Next(ctx) {
		c.count++
		return true
	}
	return false
}

func (c *limitCursor) Value() value.Value { return c.source.Value() }
func (c *limitCursor) Err() error         { return c.source.Err() }
func (c *limitCursor) Close() error       { return c.source.Close() }
