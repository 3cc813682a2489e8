package entitykey

import "testing"

func TestKeyStringAndEqual(t *testing.T) {
	a := MustNew("posts", 1)
	b := MustNew("posts", 1)
	if !a.Equal(b) {
		t.Fatalf("expected equal keys, got %q vs %q", a, b)
	}
	if a.String() != "posts\x1f1" {
		t.Fatalf("unexpected string form: %q", a.String())
	}
}

func TestKeyLessIsLexical(t *testing.T) {
	a := MustNew(9)
	b := MustNew(10)
	if !b.Less(a) {
		t.Fatalf("expected lexical order: %q should sort before %q", b, a)
	}
}

func TestNewRejectsEmptyAndNil(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := New(1, nil); err == nil {
		t.Fatalf("expected error for nil component")
	}
}

func TestDefaultForeignKey(t *testing.T) {
	fk, err := DefaultForeignKey("author", []string{"id"}, false)
	if err != nil || fk != "author_pk" {
		t.Fatalf("got (%q, %v)", fk, err)
	}
	fk, err = DefaultForeignKey("tags", []string{"id"}, true)
	if err != nil || fk != "tags_pks" {
		t.Fatalf("got (%q, %v)", fk, err)
	}
	if _, err := DefaultForeignKey("tags", []string{"a", "b"}, true); err == nil {
		t.Fatalf("expected error for compound pk in many relation")
	}
}
