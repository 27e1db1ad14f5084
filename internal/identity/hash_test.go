package identity

import "testing"

func TestContentHashIndependentOfMetadata(t *testing.T) {
	h1 := ContentHash("hello world", map[string]interface{}{"a": 1})
	h2 := ContentHash("hello world", map[string]interface{}{"b": 2, "a": "x"})
	h3 := ContentHash("hello world", nil)

	if h1 != h2 || h2 != h3 {
		t.Fatalf("hash must be independent of metadata: %s %s %s", h1, h2, h3)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestContentHashDiffersOnContent(t *testing.T) {
	if ContentHash("a", nil) == ContentHash("b", nil) {
		t.Fatal("different content must hash differently")
	}
}

func TestISORoundTrip(t *testing.T) {
	now := Now()
	iso := ToISO(now)
	back, err := FromISO(iso)
	if err != nil {
		t.Fatal(err)
	}
	// ISO truncates to seconds, so allow < 1s drift.
	if back-now > 1 || now-back > 1 {
		t.Fatalf("round trip drifted too much: %v vs %v", now, back)
	}
}
