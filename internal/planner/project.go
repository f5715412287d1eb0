package planner

import (
	"context"
	"errors"

	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

// ErrMixedProjection is returned by Projection.Validate when Fields sets
// both true and false among fields other than "_id". "_id" is exempt since
// it alone doesn't establish an inclusion or exclusion mode.
var ErrMixedProjection = errors.New("projection mixes include/exclude")

// Projection selects which fields a query returns. Fields maps a dotted
// path to true (include) or false (exclude); mixing inclusion and
// exclusion for fields other than "_id" is invalid — call Validate before
// using a Projection built from untrusted input.
type Projection struct {
	Fields map[string]bool
}

// Validate reports whether p mixes inclusion and exclusion among fields
// other than "_id". A nil Projection is always valid.
func (p *Projection) Validate() error {
	if p == nil {
		return nil
	}
	var hasInclude, hasExclude bool
	for field, include := range p.Fields {
		if field == "_id" {
			continue
		}
		if include {
			hasInclude = true
		} else {
			hasExclude = true
		}
	}
	if hasInclude && hasExclude {
		return ErrMixedProjection
	}
	return nil
}

// isInclusion reports whether p is an inclusion-style projection: any
// field other than "_id" set to true puts the whole projection in
// inclusion mode.
func (p *Projection) isInclusion() bool {
	for field, include := range p.Fields {
		if field == "_id" {
			continue
		}
		if include {
			return true
		}
	}
	return false
}

func (p *Projection) apply(doc value.Value) value.Value {
	if p == nil || len(p.Fields) == 0 {
		return doc
	}
	if p.isInclusion() {
		return p.applyInclusion(doc)
	}
	return p.applyExclusion(doc)
}

func (p *Projection) applyInclusion(doc value.Value) value.Value {
	out := value.Object2(value.NewObject())
	if idIncluded, explicit := p.Fields["_id"]; !explicit || idIncluded {
		if res := path.Resolve(doc, "_id"); res.Kind == path.Single {
			path.Set(&out, "_id", res.Single)
		}
	}
	for field, include := range p.Fields {
		if field == "_id" || !include {
			continue
		}
		res := path.Resolve(doc, field)
		if res.Kind == path.Single {
			path.Set(&out, field, res.Single)
		}
	}
	return out
}

func (p *Projection) applyExclusion(doc value.Value) value.Value {
	out := doc.Clone()
	for field, include := range p.Fields {
		if include {
			continue
		}
		path.Unset(&out, field)
	}
	return out
}

// projectCursor applies a Projection to every document a source yields.
type projectCursor struct {
	source Cursor
	proj   *Projection
	cur    value.Value
}

// Project wraps source, applying proj to every result. A nil proj is a
// no-op passthrough.
func Project(source Cursor, proj *Projection) Cursor {
	if proj == nil {
		return source
	}
	return &projectCursor{source: source, proj: proj}
}

func (c *projectCursor) Next(ctx context.Context) bool {
	if !c.source.Next(ctx) {
		return false
	}
	c.cur = c.proj.apply(c.source.Value())
	return true
}

func (c *projectCursor) Value() value.Value { return c.cur }
func (c *projectCursor) Err() error         { return c.source.Err() }
func (c *projectCursor) Close() error       { return c.source.Close() }
