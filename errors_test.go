package docengine

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindInvalidInput:          "InvalidInput",
		KindDuplicateKey:          "DuplicateKey",
		KindConcurrentModification: "ConcurrentModification",
		KindNotFound:              "NotFound",
		Kind(99):                  "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestNewErrorFormatsMessage(t *testing.T) {
	err := newError(KindInvalidInput, "bad field %q", "age")
	if err.Kind != KindInvalidInput {
		t.Errorf("Kind = %v, want KindInvalidInput", err.Kind)
	}
	if err.Error() != `InvalidInput: bad field "age"` {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNewDuplicateKeyErrorIncludesField(t *testing.T) {
	err := newDuplicateKeyError("email", "duplicate value %q", "a@example.com")
	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
	want := `DuplicateKey: duplicate value "a@example.com" (field "email")`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := newError(KindConcurrentModification, "a")
	b := newError(KindConcurrentModification, "totally different message")
	c := newError(KindInvalidInput, "a")

	if !errors.Is(a, b) {
		t.Error("expected two errors with the same Kind to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected errors with different Kinds not to match")
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := newError(KindDuplicateKey, "dup")
	wrapped := fmt.Errorf("docengine: insert commit: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindDuplicateKey {
		t.Errorf("KindOf(wrapped) = (%v, %v), want (KindDuplicateKey, true)", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain error")); ok {
		t.Error("expected KindOf to return false for a non-*Error error")
	}
}

func TestWriteErrorFormatsIndexAndKind(t *testing.T) {
	w := WriteError{Index: 3, Kind: KindInvalidInput, Message: "missing field"}
	want := "index 3: InvalidInput: missing field"
	if w.Error() != want {
		t.Errorf("Error() = %q, want %q", w.Error(), want)
	}
}
