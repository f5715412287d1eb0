package docengine

import (
	"context"
	"testing"

	"github.com/kartikbazzad/docengine/internal/codec"
	"github.com/kartikbazzad/docengine/internal/keyspace"
	"github.com/kartikbazzad/docengine/internal/planner"
)

func mustCollection(t *testing.T, db *Database, name string) *Collection {
	t.Helper()
	c, err := db.GetCollection(context.Background(), name)
	if err != nil {
		t.Fatalf("GetCollection(%q): %v", name, err)
	}
	return c
}

func TestInsertOneGeneratesIDAndFinds(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	res, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice", "age": int64(30)})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if res.InsertedID.IsZero() {
		t.Fatal("expected a generated _id")
	}

	doc, found, err := users.FindOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatal("expected to find the inserted document")
	}
	idHex, ok := docIDHex(doc)
	if !ok || idHex != res.InsertedID.Hex() {
		t.Errorf("found document _id = %q, want %q", idHex, res.InsertedID.Hex())
	}
}

func TestInsertOneRejectsNonObjectDocument(t *testing.T) {
	db := openTestDB(t)
	users := mustCollection(t, db, "users")
	_, err := users.InsertOne(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected an error inserting a nil document")
	}
	if kind, ok := KindOf(err); !ok || kind != KindInvalidInput {
		t.Errorf("expected KindInvalidInput, got %v (matched=%v)", kind, ok)
	}
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.CreateIndex(ctx, []IndexField{{Path: "email"}}, IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	if _, err := users.InsertOne(ctx, nil, map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("first InsertOne: %v", err)
	}
	_, err := users.InsertOne(ctx, nil, map[string]any{"email": "a@example.com"})
	if err == nil {
		t.Fatal("expected a duplicate key error on the second insert")
	}
	if kind, ok := KindOf(err); !ok || kind != KindDuplicateKey {
		t.Errorf("expected KindDuplicateKey, got %v (matched=%v)", kind, ok)
	}
}

func TestFindWithRangeFilterUsesIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	items := mustCollection(t, db, "items")

	if _, err := items.CreateIndex(ctx, []IndexField{{Path: "price"}}, IndexOptions{}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for _, p := range []int64{10, 20, 30, 40} {
		if _, err := items.InsertOne(ctx, nil, map[string]any{"price": p}); err != nil {
			t.Fatalf("InsertOne(price=%d): %v", p, err)
		}
	}

	docs, err := items.Find(ctx, nil, map[string]any{"price": map[string]any{"$gte": int64(20)}}, FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 matching documents, got %d", len(docs))
	}
}

func TestFindRejectsMixedProjection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice", "age": int64(30)}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	_, err := users.Find(ctx, nil, map[string]any{}, FindOptions{
		Projection: &planner.Projection{Fields: map[string]bool{"age": true, "name": false}},
	})
	if err == nil {
		t.Fatal("expected an error for a projection mixing include/exclude")
	}
	if kind, ok := KindOf(err); !ok || kind != KindInvalidInput {
		t.Errorf("expected KindInvalidInput, got %v (matched=%v)", kind, ok)
	}
}

func TestFindAllowsProjectionMixedOnlyViaID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice", "age": int64(30)}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	docs, err := users.Find(ctx, nil, map[string]any{}, FindOptions{
		Projection: &planner.Projection{Fields: map[string]bool{"_id": false, "age": true}},
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if _, ok := docs[0].Obj.Get("_id"); ok {
		t.Error("expected _id to be excluded")
	}
	if _, ok := docs[0].Obj.Get("age"); !ok {
		t.Error("expected age to be included")
	}
}

func TestFindCompoundFilter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	for _, d := range []map[string]any{
		{"name": "Alice", "age": int64(30), "active": true},
		{"name": "Bob", "age": int64(30), "active": false},
		{"name": "Carol", "age": int64(40), "active": true},
	} {
		if _, err := users.InsertOne(ctx, nil, d); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}

	docs, err := users.Find(ctx, nil, map[string]any{"age": int64(30), "active": true}, FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 matching document, got %d", len(docs))
	}
	name, _ := docs[0].Obj.Get("name")
	if name.Str != "Alice" {
		t.Errorf("expected Alice to match, got %q", name.Str)
	}
}

func TestUpdateOneAppliesSet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice", "age": int64(30)}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	res, err := users.UpdateOne(ctx, nil,
		map[string]any{"name": "Alice"},
		map[string]any{"$set": map[string]any{"age": int64(31)}},
		UpdateOptions{},
	)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Fatalf("expected matched=1 modified=1, got %+v", res)
	}

	doc, found, err := users.FindOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil || !found {
		t.Fatalf("FindOne: found=%v err=%v", found, err)
	}
	age, _ := doc.Obj.Get("age")
	if f, ok := age.AsFloat64(); !ok || f != 31 {
		t.Errorf("expected age 31, got %v", age.GoString())
	}
}

func TestUpdateOneUpsertInsertsWhenNoMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	res, err := users.UpdateOne(ctx, nil,
		map[string]any{"name": "Dave"},
		map[string]any{"$set": map[string]any{"age": int64(22)}},
		UpdateOptions{Upsert: true},
	)
	if err != nil {
		t.Fatalf("UpdateOne upsert: %v", err)
	}
	if res.MatchedCount != 0 || res.ModifiedCount != 1 || res.UpsertedID == nil {
		t.Fatalf("expected matched=0 modified=1 with an upserted id, got %+v", res)
	}

	doc, found, err := users.FindOne(ctx, nil, map[string]any{"_id": *res.UpsertedID})
	if err != nil || !found {
		t.Fatalf("FindOne after upsert: found=%v err=%v", found, err)
	}
	age, _ := doc.Obj.Get("age")
	if f, ok := age.AsFloat64(); !ok || f != 22 {
		t.Errorf("expected age 22, got %v", age.GoString())
	}
}

func TestUpdateOneNoMatchWithoutUpsertIsNoop(t *testing.T) {
	db := openTestDB(t)
	users := mustCollection(t, db, "users")

	res, err := users.UpdateOne(context.Background(), nil,
		map[string]any{"name": "Nobody"},
		map[string]any{"$set": map[string]any{"age": int64(1)}},
		UpdateOptions{},
	)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if res.MatchedCount != 0 || res.ModifiedCount != 0 || res.UpsertedID != nil {
		t.Fatalf("expected a no-op result, got %+v", res)
	}
}

func TestUpdateManyAppliesToEveryMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	for i := 0; i < 3; i++ {
		if _, err := users.InsertOne(ctx, nil, map[string]any{"team": "eng", "score": int64(0)}); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}
	if _, err := users.InsertOne(ctx, nil, map[string]any{"team": "sales", "score": int64(0)}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	res, err := users.UpdateMany(ctx, nil,
		map[string]any{"team": "eng"},
		map[string]any{"$inc": map[string]any{"score": int64(5)}},
	)
	if err != nil {
		t.Fatalf("UpdateMany: %v", err)
	}
	if res.MatchedCount != 3 || res.ModifiedCount != 3 {
		t.Fatalf("expected matched=3 modified=3, got %+v", res)
	}
}

func TestUpdateArrayPullRemovesElements(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.InsertOne(ctx, nil, map[string]any{
		"name": "Alice",
		"tags": []any{"a", "b", "c", "b"},
	}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	_, err := users.UpdateOne(ctx, nil,
		map[string]any{"name": "Alice"},
		map[string]any{"$pull": map[string]any{"tags": "b"}},
		UpdateOptions{},
	)
	if err != nil {
		t.Fatalf("UpdateOne $pull: %v", err)
	}

	doc, _, err := users.FindOne(ctx, nil, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	tags, _ := doc.Obj.Get("tags")
	if len(tags.Arr) != 2 {
		t.Fatalf("expected 2 remaining tags, got %d (%v)", len(tags.Arr), tags.GoString())
	}
	for _, v := range tags.Arr {
		if v.Str == "b" {
			t.Errorf("expected 'b' to be pulled from tags, found it still present")
		}
	}
}

func TestDeleteOneRemovesDocumentAndIndexEntries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	if _, err := users.CreateIndex(ctx, []IndexField{{Path: "email"}}, IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := users.InsertOne(ctx, nil, map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	res, err := users.DeleteOne(ctx, nil, map[string]any{"email": "a@example.com"})
	if err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if res.DeletedCount != 1 {
		t.Fatalf("expected DeletedCount=1, got %d", res.DeletedCount)
	}

	// Re-inserting the same unique key must now succeed since the prior
	// index entry was removed along with the document.
	if _, err := users.InsertOne(ctx, nil, map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("re-insert after delete: %v", err)
	}
}

func TestDeleteManyRemovesAllMatches(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	for i := 0; i < 4; i++ {
		if _, err := users.InsertOne(ctx, nil, map[string]any{"stale": true}); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}
	if _, err := users.InsertOne(ctx, nil, map[string]any{"stale": false}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	res, err := users.DeleteMany(ctx, nil, map[string]any{"stale": true})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if res.DeletedCount != 4 {
		t.Fatalf("expected DeletedCount=4, got %d", res.DeletedCount)
	}

	n, err := users.EstimatedDocumentCount(ctx)
	if err != nil {
		t.Fatalf("EstimatedDocumentCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 remaining document, got %d", n)
	}
}

func TestConcurrentModificationSurfacesOnStaleUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := mustCollection(t, db, "users")

	insRes, err := users.InsertOne(ctx, nil, map[string]any{"name": "Alice", "age": int64(30)})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	idHex := insRes.InsertedID.Hex()

	raw, version, found, err := db.store.Get(ctx, keyspace.DocumentKey(users.name, idHex))
	if err != nil || !found {
		t.Fatalf("direct Get: found=%v err=%v", found, err)
	}
	doc, err := codec.DecodeDocument(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// A concurrent writer updates the document first, invalidating the
	// version this test already read.
	if _, err := users.UpdateOne(ctx, nil, map[string]any{"name": "Alice"},
		map[string]any{"$set": map[string]any{"age": int64(99)}}, UpdateOptions{}); err != nil {
		t.Fatalf("concurrent UpdateOne: %v", err)
	}

	err = users.updateAtomic(ctx, doc, doc, idHex, version)
	if err == nil {
		t.Fatal("expected a concurrent modification error committing against a stale version")
	}
	if kind, ok := KindOf(err); !ok || kind != KindConcurrentModification {
		t.Errorf("expected KindConcurrentModification, got %v (matched=%v)", kind, ok)
	}
}
