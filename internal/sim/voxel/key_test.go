package voxel

import "testing"

func TestChunkKey_RoundTrip(t *testing.T) {
	keys := []ChunkKey{{0, 0, 0}, {1, -2, 3}, {-100, 5, 99999}}
	for _, k := range keys {
		got, err := ParseChunkKey(k.String())
		if err != nil {
			t.Fatalf("ParseChunkKey(%q): %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("round trip: got %v want %v", got, k)
		}
	}
	if s := (ChunkKey{1, -2, 3}).String(); s != "1,-2,3" {
		t.Fatalf("String()=%q want %q", s, "1,-2,3")
	}
}

func TestParseChunkKey_Rejects(t *testing.T) {
	for _, s := range []string{"", "1,2", "1,2,3,4", "a,b,c", "1,,3"} {
		if _, err := ParseChunkKey(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestChunkKey_Less(t *testing.T) {
	if !(ChunkKey{0, 5, 5}).Less(ChunkKey{1, 0, 0}) {
		t.Fatalf("x should dominate ordering")
	}
	if (ChunkKey{1, 1, 1}).Less(ChunkKey{1, 1, 1}) {
		t.Fatalf("equal keys must not be Less")
	}
}
