package btreekv

import (
	"context"
	"errors"
	"testing"

	"github.com/kartikbazzad/docengine/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, _, found, err := s.Get(ctx, []byte("k1"))
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(v) != "v1" {
		t.Errorf("Get value = %q, want %q", v, "v1")
	}

	if err := s.Delete(ctx, []byte("k1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, _, found, err = s.Get(ctx, []byte("k1"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if found {
		t.Error("expected key to be absent after Delete")
	}
}

func TestAtomicExpectAbsentRejectsExistingKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	err := s.Atomic(ctx, kv.Batch{
		Checks: []kv.Check{{Key: []byte("k1"), ExpectAbsent: true}},
		Ops:    []kv.Op{{Type: kv.OpSet, Key: []byte("k1"), Value: []byte("v2")}},
	})
	if !errors.Is(err, kv.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	v, _, found, _ := s.Get(ctx, []byte("k1"))
	if !found || string(v) != "v1" {
		t.Errorf("expected the failed batch not to modify k1, got found=%v v=%q", found, v)
	}
}

func TestAtomicExpectVersionRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, version, found, err := s.Get(ctx, []byte("k1"))
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}

	if err := s.Set(ctx, []byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("Set (concurrent writer): %v", err)
	}

	err = s.Atomic(ctx, kv.Batch{
		Checks: []kv.Check{{Key: []byte("k1"), ExpectVersion: version}},
		Ops:    []kv.Op{{Type: kv.OpSet, Key: []byte("k1"), Value: []byte("v3")}},
	})
	if !errors.Is(err, kv.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch against a stale version, got %v", err)
	}
}

func TestAtomicCommitsSetAndDeleteTogether(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Set(ctx, []byte("old"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, version, _, _ := s.Get(ctx, []byte("old"))

	err := s.Atomic(ctx, kv.Batch{
		Checks: []kv.Check{{Key: []byte("old"), ExpectVersion: version}},
		Ops: []kv.Op{
			{Type: kv.OpDelete, Key: []byte("old")},
			{Type: kv.OpSet, Key: []byte("new"), Value: []byte("v2")},
		},
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}

	if _, _, found, _ := s.Get(ctx, []byte("old")); found {
		t.Error("expected 'old' to be deleted")
	}
	if v, _, found, _ := s.Get(ctx, []byte("new")); !found || string(v) != "v2" {
		t.Errorf("expected 'new' to be set to v2, found=%v v=%q", found, v)
	}
}

func TestListReturnsKeysInRangeOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		if err := s.Set(ctx, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	it, err := s.List(ctx, []byte("a"), []byte("b"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next(ctx) {
		got = append(got, string(it.Entry().Key))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator Err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 keys in [a, b), got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("expected ascending key order, got %v", got)
		}
	}
}

func TestReopenRecoversCommittedData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(dir, 64, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, 64, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, _, found, err := s2.Get(ctx, []byte("k1"))
	if err != nil || !found {
		t.Fatalf("Get after reopen: found=%v err=%v", found, err)
	}
	if string(v) != "v1" {
		t.Errorf("Get after reopen = %q, want %q", v, "v1")
	}
}
