package docengine

import (
	"github.com/kartikbazzad/docengine/internal/planner"
	"github.com/kartikbazzad/docengine/oid"
)

// FindOptions controls a Find call's sort order, pagination, and field
// projection, applied in that order on the already-filtered, already
// deduplicated result.
type FindOptions struct {
	Sort       []planner.SortKey
	Skip       int
	Limit      int
	Projection *planner.Projection
}

// UpdateOptions controls updateOne/updateMany behavior beyond the filter
// and update expression themselves.
type UpdateOptions struct {
	// Upsert, when true and updateOne finds no candidate, synthesizes and
	// inserts a new document.
	Upsert bool
}

// InsertOneResult reports the id of a newly inserted document.
type InsertOneResult struct {
	InsertedID oid.ObjectId
}

// InsertManyResult reports the ids of every document insertMany succeeded
// on, plus a structured write-errors list for the ones that failed. In
// ordered mode the run stops at the first failure; in unordered mode every
// document is attempted and every failure recorded.
type InsertManyResult struct {
	InsertedIDs []oid.ObjectId
	WriteErrors []WriteError
}

// UpdateResult reports updateOne/updateMany's match/modify counts and the
// id of a document an upsert synthesized, if any.
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedID    *oid.ObjectId
}

// UpdateManyResult reports updateMany's aggregate match/modify counts and
// a structured write-errors list, one entry per document that failed.
type UpdateManyResult struct {
	MatchedCount  int
	ModifiedCount int
	WriteErrors   []WriteError
}

// DeleteResult reports how many documents a delete removed.
type DeleteResult struct {
	DeletedCount int
}

// IndexField is one field of a createIndex call's key specification, in
// order.
type IndexField struct {
	Path string
	Desc bool
}

// IndexOptions controls createIndex beyond the field list itself.
type IndexOptions struct {
	Name   string
	Unique bool
	Sparse bool
}
