package memory

import "testing"

func TestNormalizeTags(t *testing.T) {
	in := []string{"  bug ", "bug", "concurrency", "", "   ", "multi  word"}
	got := NormalizeTags(in)
	want := []string{"bug", "concurrency", "multi word"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNormalizeRejectsEmptyContent(t *testing.T) {
	m := &Memory{Content: "   "}
	if err := m.Normalize(); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestNormalizeDefaultsMemoryType(t *testing.T) {
	m := &Memory{Content: "hello"}
	if err := m.Normalize(); err != nil {
		t.Fatal(err)
	}
	if m.MemoryType != DefaultMemoryType {
		t.Fatalf("got %q, want %q", m.MemoryType, DefaultMemoryType)
	}
}

func TestTagSetSupersetIntersection(t *testing.T) {
	a := TagSet([]string{"x", "y"})
	query := TagSet([]string{"x"})

	for q := range query {
		if !a[q] {
			t.Fatalf("expected %q in superset", q)
		}
	}
}
