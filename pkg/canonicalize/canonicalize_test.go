package canonicalize

import "testing"

func TestHashDeterministic(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}

	ha, err := Hash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("expected key-order-independent hash, got %s vs %s", ha, hb)
	}
}

func TestHashDiffersOnContentChange(t *testing.T) {
	h1, _ := Hash(map[string]any{"a": 1})
	h2, _ := Hash(map[string]any{"a": 2})
	if h1 == h2 {
		t.Fatal("expected different hashes for different content")
	}
}
