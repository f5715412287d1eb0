package docengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kartikbazzad/docengine/internal/codec"
	"github.com/kartikbazzad/docengine/internal/index"
	"github.com/kartikbazzad/docengine/internal/keyspace"
	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/planner"
	"github.com/kartikbazzad/docengine/internal/schema"
	"github.com/kartikbazzad/docengine/internal/update"
	"github.com/kartikbazzad/docengine/internal/value"
	"github.com/kartikbazzad/docengine/kv"
	"github.com/kartikbazzad/docengine/oid"
	"github.com/kartikbazzad/docengine/rules"
)

// Collection is one named document collection backed by the shared
// Database store. Index metadata is cached through internal/index.Manager
// rather than held directly, and every document is an internal/value.Value
// rather than a map[string]interface{}.
type Collection struct {
	name string
	db   *Database

	mu        sync.RWMutex
	schema    *schema.Validator
	ruleExprs map[string]string
	refRules  []ReferenceRule
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// SetSchema compiles schemaJSON (or clears validation if empty) and parses
// any "x-bundoc-ref" reference rules it declares, registering them with the
// Database's reverse reference lookup. If schemaJSON is unchanged from what's
// already installed (ignoring whitespace and key order), SetSchema is a
// no-op: recompiling an identical schema would just churn CPU and briefly
// drop validation while the new Validator swaps in.
func (c *Collection) SetSchema(schemaJSON string) error {
	if same, err := SchemaEqual(schemaJSON, c.GetSchema()); err == nil && same {
		return nil
	}

	var v *schema.Validator
	if schemaJSON != "" {
		compiled, err := schema.Compile(schemaJSON)
		if err != nil {
			return newError(KindInvalidInput, "invalid schema: %v", err)
		}
		v = compiled
	}
	refRules, err := parseReferenceRules(c.name, schemaJSON)
	if err != nil {
		return newError(KindInvalidInput, "%v", err)
	}

	c.mu.Lock()
	c.schema = v
	c.refRules = refRules
	c.mu.Unlock()

	c.db.setReferencesFor(c.name, refRules)
	return nil
}

// GetSchema returns the collection's current schema JSON, or "" if none.
func (c *Collection) GetSchema() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.schema == nil {
		return ""
	}
	return c.schema.Raw()
}

// SetRules installs per-operation CEL security rule expressions, keyed by
// operation name ("create", "read", "update", "delete", "list", or the
// "write" fallback for create/update/delete).
func (c *Collection) SetRules(exprs map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ruleExprs = exprs
}

// GetRules returns a copy of the collection's current rule expressions.
func (c *Collection) GetRules() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.ruleExprs))
	for k, v := range c.ruleExprs {
		out[k] = v
	}
	return out
}

// evaluateRule enforces the collection's CEL security rule for op: admins
// bypass rule checks entirely, each op falls back to a "write" rule for
// create/update/delete if it has none of its own, and a collection with no
// rule declared for op at all defaults to allow.
func (c *Collection) evaluateRule(op string, auth *rules.AuthContext, idHex string, doc value.Value) error {
	if auth != nil && auth.IsAdmin {
		return nil
	}
	c.mu.RLock()
	exprs := c.ruleExprs
	c.mu.RUnlock()
	if len(exprs) == 0 {
		return nil
	}
	expr, ok := exprs[op]
	if !ok && (op == "create" || op == "update" || op == "delete") {
		expr, ok = exprs["write"]
	}
	if !ok {
		return nil
	}

	var a rules.AuthContext
	if auth != nil {
		a = *auth
	}
	request := rules.RequestContext(a, nil)
	resource := rules.ResourceContext(idHex, doc)
	allowed, err := c.db.rules.Evaluate(expr, request, resource)
	if err != nil {
		return fmt.Errorf("rule evaluation error: %w", err)
	}
	if !allowed {
		return fmt.Errorf("permission denied: rule %q failed", op)
	}
	return nil
}

func (c *Collection) validate(doc value.Value) error {
	c.mu.RLock()
	v := c.schema
	c.mu.RUnlock()
	if v == nil {
		return nil
	}
	return v.Validate(doc)
}

// validateReferences checks that every reference field this collection's
// schema declares, when present and non-null on doc, points at an existing
// document in its target collection.
func (c *Collection) validateReferences(ctx context.Context, doc value.Value) error {
	c.mu.RLock()
	refRules := c.refRules
	c.mu.RUnlock()
	for _, rule := range refRules {
		res := path.Resolve(doc, rule.SourceField)
		if res.Kind != path.Single || res.Single.IsNull() {
			continue
		}
		refHex, err := normalizeReferenceValue(res.Single)
		if err != nil || refHex == "" {
			continue
		}
		_, _, found, err := c.db.store.Get(ctx, keyspace.DocumentKey(rule.TargetCollection, refHex))
		if err != nil {
			return fmt.Errorf("docengine: check reference target: %w", err)
		}
		if !found {
			return fmt.Errorf("%w: %s.%s -> %s/%s", ErrReferenceTargetNotFound, rule.SourceCollection, rule.SourceField, rule.TargetCollection, refHex)
		}
	}
	return nil
}

// docIDHex extracts a document's _id as a hex string.
func docIDHex(doc value.Value) (string, bool) {
	if doc.Kind != value.KindObject {
		return "", false
	}
	v, ok := doc.Obj.Get("_id")
	if !ok || v.Kind != value.KindObjectId {
		return "", false
	}
	return v.Oid.Hex(), true
}

func mustOidHex(hex string) oid.ObjectId {
	id, _ := oid.FromHex(hex)
	return id
}

// ensureID returns doc's _id (an ObjectId or a hex string parseable as
// one), generating and setting one on doc if it is absent.
func ensureID(doc value.Value) (oid.ObjectId, value.Value, error) {
	res := path.Resolve(doc, "_id")
	if res.Kind == path.Single && !res.Single.IsNull() {
		switch res.Single.Kind {
		case value.KindObjectId:
			return res.Single.Oid, doc, nil
		case value.KindString:
			id, err := oid.FromHex(res.Single.Str)
			if err != nil {
				return oid.ObjectId{}, doc, fmt.Errorf("_id must be an object id: %w", err)
			}
			path.Set(&doc, "_id", value.ObjectIdValue(id))
			return id, doc, nil
		default:
			return oid.ObjectId{}, doc, fmt.Errorf("_id must be an object id")
		}
	}
	id := oid.New()
	path.Set(&doc, "_id", value.ObjectIdValue(id))
	return id, doc, nil
}

// InsertOne inserts doc, generating _id if absent.
func (c *Collection) InsertOne(ctx context.Context, auth *rules.AuthContext, docInput map[string]any) (InsertOneResult, error) {
	if docInput == nil {
		return InsertOneResult{}, newError(KindInvalidInput, "document must be a mapping")
	}
	doc, err := value.FromAny(docInput)
	if err != nil {
		return InsertOneResult{}, newError(KindInvalidInput, "%v", err)
	}
	if doc.Kind != value.KindObject {
		return InsertOneResult{}, newError(KindInvalidInput, "document must be a mapping")
	}

	id, doc, err := ensureID(doc)
	if err != nil {
		return InsertOneResult{}, newError(KindInvalidInput, "%v", err)
	}

	if err := c.evaluateRule("create", auth, id.Hex(), doc); err != nil {
		return InsertOneResult{}, err
	}
	if err := c.validate(doc); err != nil {
		return InsertOneResult{}, newError(KindInvalidInput, "%v", err)
	}
	if err := c.validateReferences(ctx, doc); err != nil {
		return InsertOneResult{}, err
	}
	if err := c.insertAtomic(ctx, doc, id.Hex()); err != nil {
		return InsertOneResult{}, err
	}
	return InsertOneResult{InsertedID: id}, nil
}

// insertAtomic assembles and submits a single atomic batch: a primary-key
// absence check plus set, and one entry per declared index (subject to
// uniqueness).
func (c *Collection) insertAtomic(ctx context.Context, doc value.Value, idHex string) error {
	payload, err := codec.EncodeDocument(doc)
	if err != nil {
		return newError(KindInvalidInput, "encode document: %v", err)
	}
	indexOps, err := c.db.indexes.EntriesForInsert(ctx, c.name, doc, idHex)
	if err != nil {
		var dup *index.DuplicateError
		if errors.As(err, &dup) {
			return newDuplicateKeyError(dup.Field, "%v", dup)
		}
		return fmt.Errorf("docengine: build index entries: %w", err)
	}

	key := keyspace.DocumentKey(c.name, idHex)
	ops := append([]kv.Op{{Type: kv.OpSet, Key: key, Value: payload}}, indexOps...)
	batch := kv.Batch{
		Checks: []kv.Check{{Key: key, ExpectAbsent: true}},
		Ops:    ops,
	}
	if err := c.db.store.Atomic(ctx, batch); err != nil {
		if errors.Is(err, kv.ErrVersionMismatch) {
			return newDuplicateKeyError("_id", "document with _id %s already exists", idHex)
		}
		return fmt.Errorf("docengine: insert commit: %w", err)
	}
	return nil
}

// InsertMany inserts every document in docs. ordered=true halts at the
// first failure, retaining prior successes; ordered=false continues past
// failures, accumulating per-entry errors with their original indices.
func (c *Collection) InsertMany(ctx context.Context, auth *rules.AuthContext, docs []map[string]any, ordered bool) InsertManyResult {
	var result InsertManyResult
	for i, d := range docs {
		res, err := c.InsertOne(ctx, auth, d)
		if err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			if ordered {
				break
			}
			continue
		}
		result.InsertedIDs = append(result.InsertedIDs, res.InsertedID)
	}
	return result
}

// Find resolves filterInput through the query planner and returns every
// matching document, after sort/skip/limit/projection.
func (c *Collection) Find(ctx context.Context, auth *rules.AuthContext, filterInput map[string]any, opts FindOptions) ([]value.Value, error) {
	if err := c.evaluateRule("list", auth, "", value.Null()); err != nil {
		return nil, err
	}
	if err := opts.Projection.Validate(); err != nil {
		return nil, newError(KindInvalidInput, "%v", err)
	}

	cur, err := planner.Execute(ctx, c.db.store, c.db.indexes, c.name, filterInput)
	if err != nil {
		return nil, newError(KindInvalidInput, "%v", err)
	}
	defer cur.Close()

	out := planner.Sort(cur, opts.Sort)
	out = planner.Skip(out, opts.Skip)
	out = planner.Limit(out, opts.Limit)
	out = planner.Project(out, opts.Projection)

	var docs []value.Value
	for out.Next(ctx) {
		docs = append(docs, out.Value())
	}
	if err := out.Err(); err != nil {
		return nil, fmt.Errorf("docengine: find: %w", err)
	}
	return docs, nil
}

// FindOne returns the first document matching filterInput, or found=false
// if none does.
func (c *Collection) FindOne(ctx context.Context, auth *rules.AuthContext, filterInput map[string]any) (value.Value, bool, error) {
	docs, err := c.Find(ctx, auth, filterInput, FindOptions{Limit: 1})
	if err != nil {
		return value.Value{}, false, err
	}
	if len(docs) == 0 {
		return value.Value{}, false, nil
	}
	return docs[0], true, nil
}

// CountDocuments returns the number of documents matching filterInput,
// honoring skip/limit.
func (c *Collection) CountDocuments(ctx context.Context, auth *rules.AuthContext, filterInput map[string]any, opts FindOptions) (int, error) {
	docs, err := c.Find(ctx, auth, filterInput, FindOptions{Skip: opts.Skip, Limit: opts.Limit})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// EstimatedDocumentCount prefix-scans the collection's primary range
// without evaluating any filter.
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (int, error) {
	start, end := keyspace.CollectionRange(c.name)
	it, err := c.db.store.List(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("docengine: estimated count: %w", err)
	}
	defer it.Close()
	n := 0
	for it.Next(ctx) {
		n++
	}
	if err := it.Err(); err != nil {
		return 0, fmt.Errorf("docengine: estimated count: %w", err)
	}
	return n, nil
}

// Distinct returns the deduplicated values fieldPath takes across every
// document matching filterInput, flattening any array value into its
// elements.
func (c *Collection) Distinct(ctx context.Context, auth *rules.AuthContext, fieldPath string, filterInput map[string]any) ([]value.Value, error) {
	docs, err := c.Find(ctx, auth, filterInput, FindOptions{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []value.Value
	add := func(v value.Value) {
		key := v.Kind.String() + "|" + codec.SerializeIndexValue(v)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, v)
	}
	for _, doc := range docs {
		for _, v := range path.Resolve(doc, fieldPath).Values() {
			if v.Kind == value.KindArray {
				for _, e := range v.Arr {
					add(e)
				}
				continue
			}
			add(v)
		}
	}
	return out, nil
}

// resolveOneForWrite asks the planner for the first document matching
// filterInput, then immediately re-fetches it directly by id to obtain the
// authoritative kv.Version an update/delete's atomic batch needs (the
// planner's Cursor never exposes a candidate's version, since it is built
// from decoded document bytes, not the Get call that produced them). If
// the re-fetch finds the candidate gone, that is a tolerated race between
// the scan and the re-fetch: treated as no match, not an error.
func (c *Collection) resolveOneForWrite(ctx context.Context, filterInput map[string]any) (idHex string, doc value.Value, version kv.Version, found bool, err error) {
	cur, err := planner.Execute(ctx, c.db.store, c.db.indexes, c.name, filterInput)
	if err != nil {
		return "", value.Value{}, 0, false, newError(KindInvalidInput, "%v", err)
	}
	defer cur.Close()
	if !cur.Next(ctx) {
		if cerr := cur.Err(); cerr != nil {
			return "", value.Value{}, 0, false, fmt.Errorf("docengine: resolve candidate: %w", cerr)
		}
		return "", value.Value{}, 0, false, nil
	}
	candidate := cur.Value()
	idHex, ok := docIDHex(candidate)
	if !ok {
		return "", value.Value{}, 0, false, fmt.Errorf("docengine: candidate document has no _id")
	}

	raw, ver, found, err := c.db.store.Get(ctx, keyspace.DocumentKey(c.name, idHex))
	if err != nil {
		return "", value.Value{}, 0, false, fmt.Errorf("docengine: re-fetch candidate: %w", err)
	}
	if !found {
		return "", value.Value{}, 0, false, nil
	}
	doc, err = codec.DecodeDocument(raw)
	if err != nil {
		return "", value.Value{}, 0, false, fmt.Errorf("docengine: decode candidate: %w", err)
	}
	return idHex, doc, ver, true, nil
}

// matchingIDs resolves every document matching filterInput to its id,
// for the multi-document write paths.
func (c *Collection) matchingIDs(ctx context.Context, filterInput map[string]any) ([]string, error) {
	cur, err := planner.Execute(ctx, c.db.store, c.db.indexes, c.name, filterInput)
	if err != nil {
		return nil, newError(KindInvalidInput, "%v", err)
	}
	defer cur.Close()
	var ids []string
	for cur.Next(ctx) {
		if id, ok := docIDHex(cur.Value()); ok {
			ids = append(ids, id)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("docengine: resolve candidates: %w", err)
	}
	return ids, nil
}

// updateAtomic assembles and submits a single atomic batch for a matched
// update: a primary-key version check plus set, and the index-entry delta
// between oldDoc and newDoc in the same batch.
func (c *Collection) updateAtomic(ctx context.Context, oldDoc, newDoc value.Value, idHex string, version kv.Version) error {
	payload, err := codec.EncodeDocument(newDoc)
	if err != nil {
		return newError(KindInvalidInput, "encode document: %v", err)
	}
	removeOps, addOps, err := c.db.indexes.EntriesForUpdate(ctx, c.name, oldDoc, newDoc, idHex)
	if err != nil {
		var dup *index.DuplicateError
		if errors.As(err, &dup) {
			return newDuplicateKeyError(dup.Field, "%v", dup)
		}
		return fmt.Errorf("docengine: build index entries: %w", err)
	}

	key := keyspace.DocumentKey(c.name, idHex)
	ops := append([]kv.Op{{Type: kv.OpSet, Key: key, Value: payload}}, removeOps...)
	ops = append(ops, addOps...)
	batch := kv.Batch{
		Checks: []kv.Check{{Key: key, ExpectVersion: version}},
		Ops:    ops,
	}
	if err := c.db.store.Atomic(ctx, batch); err != nil {
		if errors.Is(err, kv.ErrVersionMismatch) {
			return newError(KindConcurrentModification, "document %s changed since it was read", idHex)
		}
		return fmt.Errorf("docengine: update commit: %w", err)
	}
	return nil
}

// updateOneByIDHex applies u to a document already known by id, used by
// the set_null on_delete handler, which updates dependent documents
// directly rather than re-resolving them through a filter.
func (c *Collection) updateOneByIDHex(ctx context.Context, idHex string, u *update.Update) (UpdateResult, error) {
	raw, version, found, err := c.db.store.Get(ctx, keyspace.DocumentKey(c.name, idHex))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("docengine: fetch %s/%s: %w", c.name, idHex, err)
	}
	if !found {
		return UpdateResult{}, nil
	}
	oldDoc, err := codec.DecodeDocument(raw)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("docengine: decode %s/%s: %w", c.name, idHex, err)
	}
	newDoc, err := update.Apply(oldDoc, u, false)
	if err != nil {
		return UpdateResult{}, newError(KindInvalidInput, "%v", err)
	}
	path.Set(&newDoc, "_id", value.ObjectIdValue(mustOidHex(idHex)))
	if err := c.updateAtomic(ctx, oldDoc, newDoc, idHex, version); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// upsertInsert synthesizes and inserts a new document for an updateOne
// upsert that found no candidate: start with {_id: filter._id if present
// else generated}, apply $setOnInsert and the full update, then insert per
// insertOne. For example, updateOne({_id:X}, {$set:{a:1}}, {upsert:true})
// with no document at X returns {matched:0, modified:1, upsertedId:X}.
func (c *Collection) upsertInsert(ctx context.Context, auth *rules.AuthContext, filterInput map[string]any, u *update.Update) (UpdateResult, error) {
	id := oid.New()
	if raw, ok := filterInput["_id"]; ok {
		switch v := raw.(type) {
		case oid.ObjectId:
			id = v
		case string:
			if parsed, err := oid.FromHex(v); err == nil {
				id = parsed
			}
		}
	}

	base := value.Object2(value.NewObject())
	path.Set(&base, "_id", value.ObjectIdValue(id))
	newDoc, err := update.Apply(base, u, true)
	if err != nil {
		return UpdateResult{}, newError(KindInvalidInput, "%v", err)
	}
	path.Set(&newDoc, "_id", value.ObjectIdValue(id))

	if err := c.evaluateRule("create", auth, id.Hex(), newDoc); err != nil {
		return UpdateResult{}, err
	}
	if err := c.validate(newDoc); err != nil {
		return UpdateResult{}, newError(KindInvalidInput, "%v", err)
	}
	if err := c.validateReferences(ctx, newDoc); err != nil {
		return UpdateResult{}, err
	}
	if err := c.insertAtomic(ctx, newDoc, id.Hex()); err != nil {
		return UpdateResult{}, err
	}
	upsertedID := id
	return UpdateResult{ModifiedCount: 1, UpsertedID: &upsertedID}, nil
}

// UpdateOne resolves filterInput to a single candidate and applies update
// to it, or (with opts.Upsert) synthesizes and inserts a new document if
// none matched.
func (c *Collection) UpdateOne(ctx context.Context, auth *rules.AuthContext, filterInput, updateInput map[string]any, opts UpdateOptions) (UpdateResult, error) {
	u, err := update.Parse(updateInput)
	if err != nil {
		return UpdateResult{}, newError(KindInvalidInput, "%v", err)
	}

	idHex, oldDoc, version, found, err := c.resolveOneForWrite(ctx, filterInput)
	if err != nil {
		return UpdateResult{}, err
	}
	if !found {
		if !opts.Upsert {
			return UpdateResult{}, nil
		}
		return c.upsertInsert(ctx, auth, filterInput, u)
	}

	if err := c.evaluateRule("update", auth, idHex, oldDoc); err != nil {
		return UpdateResult{}, err
	}
	newDoc, err := update.Apply(oldDoc, u, false)
	if err != nil {
		return UpdateResult{}, newError(KindInvalidInput, "%v", err)
	}
	path.Set(&newDoc, "_id", value.ObjectIdValue(mustOidHex(idHex))) // _id is immutable

	if err := c.validate(newDoc); err != nil {
		return UpdateResult{}, newError(KindInvalidInput, "%v", err)
	}
	if err := c.validateReferences(ctx, newDoc); err != nil {
		return UpdateResult{}, err
	}
	if err := c.updateAtomic(ctx, oldDoc, newDoc, idHex, version); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// UpdateMany applies update to every document matching filterInput, each
// in its own atomic batch (no cross-document atomicity). Partial failure
// is reported with per-document error indices.
func (c *Collection) UpdateMany(ctx context.Context, auth *rules.AuthContext, filterInput, updateInput map[string]any) (UpdateManyResult, error) {
	u, err := update.Parse(updateInput)
	if err != nil {
		return UpdateManyResult{}, newError(KindInvalidInput, "%v", err)
	}
	ids, err := c.matchingIDs(ctx, filterInput)
	if err != nil {
		return UpdateManyResult{}, err
	}

	var result UpdateManyResult
	for i, idHex := range ids {
		raw, version, found, err := c.db.store.Get(ctx, keyspace.DocumentKey(c.name, idHex))
		if err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		if !found {
			// Vanished between the scan and this re-fetch; simply not
			// counted as matched.
			continue
		}
		oldDoc, err := codec.DecodeDocument(raw)
		if err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		result.MatchedCount++

		if err := c.evaluateRule("update", auth, idHex, oldDoc); err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		newDoc, err := update.Apply(oldDoc, u, false)
		if err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		path.Set(&newDoc, "_id", value.ObjectIdValue(mustOidHex(idHex)))

		if err := c.validate(newDoc); err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		if err := c.validateReferences(ctx, newDoc); err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		if err := c.updateAtomic(ctx, oldDoc, newDoc, idHex, version); err != nil {
			result.WriteErrors = append(result.WriteErrors, WriteError{Index: i, Kind: writeErrorKind(err), Message: err.Error()})
			continue
		}
		result.ModifiedCount++
	}
	return result, nil
}

// writeErrorKind extracts err's Kind if it is a categorized *Error, and
// falls back to KindInvalidInput for uncategorized errors (rule-evaluation
// denials, reference-validation failures) so every WriteError still carries
// a Kind the caller can switch on.
func writeErrorKind(err error) Kind {
	if kind, ok := KindOf(err); ok {
		return kind
	}
	return KindInvalidInput
}

func (c *Collection) deleteAtomic(ctx context.Context, doc value.Value, idHex string, version kv.Version) error {
	key := keyspace.DocumentKey(c.name, idHex)
	ops := append([]kv.Op{{Type: kv.OpDelete, Key: key}}, c.db.indexes.EntriesForDelete(c.name, doc, idHex)...)
	batch := kv.Batch{
		Checks: []kv.Check{{Key: key, ExpectVersion: version}},
		Ops:    ops,
	}
	if err := c.db.store.Atomic(ctx, batch); err != nil {
		if errors.Is(err, kv.ErrVersionMismatch) {
			return newError(KindConcurrentModification, "document %s changed since it was read", idHex)
		}
		return fmt.Errorf("docengine: delete commit: %w", err)
	}
	return nil
}

// deleteWithCascade applies every OTHER collection's on_delete policy for
// documents referencing (c.name, idHex), before idHex itself is removed
// and implements the restrict/set_null/cascade on_delete policies. visited
// guards cascade against
// reference cycles: once a (collection, id) pair has been processed, it is
// never processed again.
func (c *Collection) deleteWithCascade(ctx context.Context, auth *rules.AuthContext, idHex string, visited map[string]bool) error {
	key := c.name + ":" + idHex
	if visited[key] {
		return nil
	}
	visited[key] = true

	for _, rule := range c.db.dependentsOf(c.name) {
		src, err := c.db.GetCollection(ctx, rule.SourceCollection)
		if err != nil {
			return err
		}
		dependents, err := src.Find(ctx, auth, map[string]any{rule.SourceField: idHex}, FindOptions{})
		if err != nil {
			return fmt.Errorf("docengine: resolve dependents of %s.%s: %w", rule.SourceCollection, rule.SourceField, err)
		}
		if len(dependents) == 0 {
			continue
		}

		switch rule.OnDelete {
		case onDeleteRestrict:
			return fmt.Errorf("%w: %d dependent document(s) in %s.%s", ErrReferenceRestrictViolation, len(dependents), rule.SourceCollection, rule.SourceField)

		case onDeleteSetNull:
			nullUpdate, _ := update.Parse(map[string]any{"$set": map[string]any{rule.SourceField: nil}})
			for _, dep := range dependents {
				depIDHex, ok := docIDHex(dep)
				if !ok {
					continue
				}
				if _, err := src.updateOneByIDHex(ctx, depIDHex, nullUpdate); err != nil {
					return fmt.Errorf("docengine: set_null %s.%s for %s: %w", rule.SourceCollection, rule.SourceField, depIDHex, err)
				}
			}

		case onDeleteCascade:
			for _, dep := range dependents {
				depIDHex, ok := docIDHex(dep)
				if !ok {
					continue
				}
				depKey := src.name + ":" + depIDHex
				if visited[depKey] {
					continue
				}
				raw, depVersion, found, err := c.db.store.Get(ctx, keyspace.DocumentKey(src.name, depIDHex))
				if err != nil {
					return fmt.Errorf("docengine: fetch %s/%s: %w", src.name, depIDHex, err)
				}
				if !found {
					continue
				}
				depDoc, err := codec.DecodeDocument(raw)
				if err != nil {
					return fmt.Errorf("docengine: decode %s/%s: %w", src.name, depIDHex, err)
				}
				if err := src.deleteWithCascade(ctx, auth, depIDHex, visited); err != nil {
					return err
				}
				if err := src.deleteAtomic(ctx, depDoc, depIDHex, depVersion); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// DeleteOne resolves filterInput to a single candidate and removes it,
// along with every index entry referencing it, in one atomic batch.
func (c *Collection) DeleteOne(ctx context.Context, auth *rules.AuthContext, filterInput map[string]any) (DeleteResult, error) {
	idHex, doc, version, found, err := c.resolveOneForWrite(ctx, filterInput)
	if err != nil {
		return DeleteResult{}, err
	}
	if !found {
		return DeleteResult{}, nil
	}
	if err := c.evaluateRule("delete", auth, idHex, doc); err != nil {
		return DeleteResult{}, err
	}
	if err := c.deleteWithCascade(ctx, auth, idHex, make(map[string]bool)); err != nil {
		return DeleteResult{}, err
	}
	if err := c.deleteAtomic(ctx, doc, idHex, version); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{DeletedCount: 1}, nil
}

// DeleteMany resolves every document matching filterInput and removes all
// of them, and every index entry referencing them, in one atomic batch;
// any version mismatch fails the entire batch as a concurrent-modification
// error.
func (c *Collection) DeleteMany(ctx context.Context, auth *rules.AuthContext, filterInput map[string]any) (DeleteResult, error) {
	ids, err := c.matchingIDs(ctx, filterInput)
	if err != nil {
		return DeleteResult{}, err
	}

	type candidate struct {
		idHex   string
		doc     value.Value
		version kv.Version
	}
	var candidates []candidate
	visited := make(map[string]bool)
	for _, idHex := range ids {
		raw, version, found, err := c.db.store.Get(ctx, keyspace.DocumentKey(c.name, idHex))
		if err != nil {
			return DeleteResult{}, fmt.Errorf("docengine: re-fetch candidate: %w", err)
		}
		if !found {
			continue
		}
		doc, err := codec.DecodeDocument(raw)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("docengine: decode candidate: %w", err)
		}
		if err := c.evaluateRule("delete", auth, idHex, doc); err != nil {
			return DeleteResult{}, err
		}
		// Mark every candidate visited up front so cascade handling never
		// tries to re-delete a document already part of this same batch.
		visited[c.name+":"+idHex] = true
		candidates = append(candidates, candidate{idHex, doc, version})
	}

	for _, cand := range candidates {
		if err := c.deleteWithCascade(ctx, auth, cand.idHex, visited); err != nil {
			return DeleteResult{}, err
		}
	}

	if len(candidates) == 0 {
		return DeleteResult{}, nil
	}
	var checks []kv.Check
	var ops []kv.Op
	for _, cand := range candidates {
		key := keyspace.DocumentKey(c.name, cand.idHex)
		checks = append(checks, kv.Check{Key: key, ExpectVersion: cand.version})
		ops = append(ops, kv.Op{Type: kv.OpDelete, Key: key})
		ops = append(ops, c.db.indexes.EntriesForDelete(c.name, cand.doc, cand.idHex)...)
	}
	if err := c.db.store.Atomic(ctx, kv.Batch{Checks: checks, Ops: ops}); err != nil {
		if errors.Is(err, kv.ErrVersionMismatch) {
			return DeleteResult{}, newError(KindConcurrentModification, "one or more of %d matched documents changed since they were read", len(candidates))
		}
		return DeleteResult{}, fmt.Errorf("docengine: delete commit: %w", err)
	}
	return DeleteResult{DeletedCount: len(candidates)}, nil
}

// CreateIndex declares a new index over fields, persisting its metadata
// and backfilling entries for every existing document.
func (c *Collection) CreateIndex(ctx context.Context, fields []IndexField, opts IndexOptions) (string, error) {
	if len(fields) == 0 {
		return "", newError(KindInvalidInput, "createIndex requires at least one field")
	}
	spec := index.Spec{Fields: make([]index.FieldSpec, len(fields))}
	for i, f := range fields {
		spec.Fields[i] = index.FieldSpec{Path: f.Path, Desc: f.Desc}
	}
	meta, err := c.db.indexes.Create(ctx, c.name, spec, index.Options{Name: opts.Name, Unique: opts.Unique, Sparse: opts.Sparse}, c.db.cfg.IndexBackfillBatchSize)
	if err != nil {
		var dup *index.DuplicateError
		if errors.As(err, &dup) {
			return "", newDuplicateKeyError(dup.Field, "%v", dup)
		}
		return "", newError(KindInvalidInput, "%v", err)
	}
	return meta.Name, nil
}

// DropIndex removes a previously created index and all of its entries.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if _, ok := c.db.indexes.Get(c.name, name); !ok {
		return newError(KindNotFound, "index %q not found on %q", name, c.name)
	}
	if err := c.db.indexes.Drop(ctx, c.name, name); err != nil {
		return newError(KindInvalidInput, "%v", err)
	}
	return nil
}

// ListIndexes returns the indexes currently declared on this collection.
func (c *Collection) ListIndexes() []index.Meta {
	return c.db.indexes.List(c.name)
}
