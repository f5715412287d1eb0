package docengine

import (
	"context"
	"errors"
	"testing"
)

func TestParseReferenceRulesValid(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"author_id": {
				"type": "string",
				"x-bundoc-ref": {
					"collection": "users",
					"field": "_id",
					"on_delete": "set_null"
				}
			},
			"name": { "type": "string" }
		}
	}`
	rules, err := parseReferenceRules("posts", schema)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	r := rules[0]
	if r.SourceCollection != "posts" || r.SourceField != "author_id" || r.TargetCollection != "users" || r.TargetField != "_id" || r.OnDelete != onDeleteSetNull {
		t.Errorf("unexpected rule: %+v", r)
	}
}

func TestParseReferenceRulesDefaultOnDelete(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"user_id": {
				"type": "string",
				"x-bundoc-ref": { "collection": "users" }
			}
		}
	}`
	rules, err := parseReferenceRules("orders", schema)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if len(rules) != 1 || rules[0].OnDelete != onDeleteSetNull {
		t.Errorf("expected default on_delete set_null, got %+v", rules)
	}
}

func TestParseReferenceRulesMalformed(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"invalid JSON", `{ "properties": { "f": `},
		{"x-bundoc-ref not object", `{ "properties": { "f": { "x-bundoc-ref": "not-an-object" } } }`},
		{"missing collection", `{ "properties": { "f": { "x-bundoc-ref": { "field": "_id" } } } }`},
		{"empty collection", `{ "properties": { "f": { "x-bundoc-ref": { "collection": "" } } } }`},
		{"field not _id in v1", `{ "properties": { "f": { "x-bundoc-ref": { "collection": "users", "field": "other" } } } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseReferenceRules("coll", tt.schema)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidReferenceSchema) {
				t.Errorf("expected ErrInvalidReferenceSchema, got %v", err)
			}
		})
	}
}

func TestParseReferenceRulesUnsupportedOnDelete(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"ref": {
				"type": "string",
				"x-bundoc-ref": { "collection": "users", "on_delete": "no_such_action" }
			}
		}
	}`
	_, err := parseReferenceRules("coll", schema)
	if err == nil {
		t.Fatal("expected error for unsupported on_delete")
	}
	if !errors.Is(err, ErrInvalidReferenceSchema) {
		t.Errorf("expected ErrInvalidReferenceSchema, got %v", err)
	}
}

func TestParseReferenceRulesEmptySchema(t *testing.T) {
	rules, err := parseReferenceRules("coll", "")
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("expected no rules, got %d", len(rules))
	}
}

func TestReferenceInsertSucceedsWithExistingTarget(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := mustCollection(t, db, "users")
	posts := mustCollection(t, db, "posts")
	if err := posts.SetSchema(sprintfSetNullSchema()); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	aliceRes, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	if _, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": aliceRes.InsertedID.Hex()}); err != nil {
		t.Fatalf("insert post with valid reference: %v", err)
	}
}

func TestReferenceInsertFailsWhenTargetMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	posts := mustCollection(t, db, "posts")
	if err := posts.SetSchema(sprintfSetNullSchema()); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	_, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": "000000000000000000000000"})
	if err == nil {
		t.Fatal("expected an error inserting a post referencing a missing user")
	}
	if !errors.Is(err, ErrReferenceTargetNotFound) {
		t.Errorf("expected ErrReferenceTargetNotFound, got %v", err)
	}
}

func TestReferenceUpdateFailsWhenTargetMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := mustCollection(t, db, "users")
	posts := mustCollection(t, db, "posts")
	if err := posts.SetSchema(sprintfSetNullSchema()); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	aliceRes, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": aliceRes.InsertedID.Hex(), "title": "hi"}); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	_, err = posts.UpdateOne(ctx, nil,
		map[string]any{"title": "hi"},
		map[string]any{"$set": map[string]any{"author_id": "000000000000000000000000"}},
		UpdateOptions{},
	)
	if err == nil {
		t.Fatal("expected an error updating a post to reference a missing user")
	}
	if !errors.Is(err, ErrReferenceTargetNotFound) {
		t.Errorf("expected ErrReferenceTargetNotFound, got %v", err)
	}
}

func TestReferenceDeleteRestrictBlocksWhenDependentsExist(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := mustCollection(t, db, "users")
	posts := mustCollection(t, db, "posts")
	schema := `{
		"type": "object",
		"properties": {
			"author_id": { "type": "string", "x-bundoc-ref": { "collection": "users", "on_delete": "restrict" } }
		}
	}`
	if err := posts.SetSchema(schema); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	aliceRes, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": aliceRes.InsertedID.Hex()}); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	_, err = users.DeleteOne(ctx, nil, map[string]any{"name": "Alice"})
	if err == nil {
		t.Fatal("expected restrict to block deleting a user with dependent posts")
	}
	if !errors.Is(err, ErrReferenceRestrictViolation) {
		t.Errorf("expected ErrReferenceRestrictViolation, got %v", err)
	}
}

func TestReferenceDeleteSetNullNullsDependentFields(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := mustCollection(t, db, "users")
	posts := mustCollection(t, db, "posts")
	if err := posts.SetSchema(sprintfSetNullSchema()); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	aliceRes, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	postRes, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": aliceRes.InsertedID.Hex(), "title": "hi"})
	if err != nil {
		t.Fatalf("insert post: %v", err)
	}

	if _, err := users.DeleteOne(ctx, nil, map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("delete user (set_null): %v", err)
	}

	post, found, err := posts.FindOne(ctx, nil, map[string]any{"_id": postRes.InsertedID})
	if err != nil || !found {
		t.Fatalf("FindOne post: found=%v err=%v", found, err)
	}
	authorID, _ := post.Obj.Get("author_id")
	if !authorID.IsNull() {
		t.Errorf("expected post.author_id to be nulled, got %v", authorID.GoString())
	}
}

func TestReferenceDeleteCascadeDeletesDependents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := mustCollection(t, db, "users")
	posts := mustCollection(t, db, "posts")
	schema := `{
		"type": "object",
		"properties": {
			"author_id": { "type": "string", "x-bundoc-ref": { "collection": "users", "on_delete": "cascade" } }
		}
	}`
	if err := posts.SetSchema(schema); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	aliceRes, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	authorHex := aliceRes.InsertedID.Hex()
	if _, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": authorHex}); err != nil {
		t.Fatalf("insert post1: %v", err)
	}
	if _, err := posts.InsertOne(ctx, nil, map[string]any{"author_id": authorHex}); err != nil {
		t.Fatalf("insert post2: %v", err)
	}

	if _, err := users.DeleteOne(ctx, nil, map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("delete user (cascade): %v", err)
	}

	n, err := posts.EstimatedDocumentCount(ctx)
	if err != nil {
		t.Fatalf("EstimatedDocumentCount: %v", err)
	}
	if n != 0 {
		t.Errorf("expected every post to be cascade-deleted, %d remain", n)
	}
}

func TestReferenceCascadeCycleGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	collA := mustCollection(t, db, "a")
	collB := mustCollection(t, db, "b")
	schemaA := `{
		"type": "object",
		"properties": {
			"ref_b": { "type": "string", "x-bundoc-ref": { "collection": "b", "on_delete": "cascade" } }
		}
	}`
	schemaB := `{
		"type": "object",
		"properties": {
			"ref_a": { "type": "string", "x-bundoc-ref": { "collection": "a", "on_delete": "cascade" } }
		}
	}`
	if err := collA.SetSchema(schemaA); err != nil {
		t.Fatalf("set schema a: %v", err)
	}
	if err := collB.SetSchema(schemaB); err != nil {
		t.Fatalf("set schema b: %v", err)
	}

	bRes, err := collB.InsertOne(ctx, nil, map[string]any{"name": "b1"})
	if err != nil {
		t.Fatalf("insert b1: %v", err)
	}
	bID := bRes.InsertedID
	bHex := bID.Hex()

	aRes, err := collA.InsertOne(ctx, nil, map[string]any{"ref_b": bHex})
	if err != nil {
		t.Fatalf("insert a1: %v", err)
	}
	aID := aRes.InsertedID
	aHex := aID.Hex()

	if _, err := collB.UpdateOne(ctx, nil, map[string]any{"_id": bID},
		map[string]any{"$set": map[string]any{"ref_a": aHex}}, UpdateOptions{}); err != nil {
		t.Fatalf("wire up the cycle: %v", err)
	}

	if _, err := collA.DeleteOne(ctx, nil, map[string]any{"_id": aID}); err != nil {
		t.Fatalf("delete a1 (cycle): %v", err)
	}

	if n, err := collA.EstimatedDocumentCount(ctx); err != nil || n != 0 {
		t.Errorf("expected a1 to be deleted, count=%d err=%v", n, err)
	}
	if n, err := collB.EstimatedDocumentCount(ctx); err != nil || n != 0 {
		t.Errorf("expected b1 to be cascade-deleted, count=%d err=%v", n, err)
	}
}

func TestReferenceNoReferencesUnchanged(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := users.DeleteOne(ctx, nil, map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("delete without any reference rules registered: %v", err)
	}
}

func sprintfSetNullSchema() string {
	return `{
		"type": "object",
		"properties": {
			"author_id": { "type": "string", "x-bundoc-ref": { "collection": "users", "on_delete": "set_null" } }
		}
	}`
}
