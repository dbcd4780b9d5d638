package cluster

import "testing"

func TestKeySlotKnownValues(t *testing.T) {
	// Canonical Redis Cluster slot values, widely cited in cluster-spec test suites.
	cases := map[string]int{
		"foo":               12182,
		"123456789":         12739,
		"{user1000}.follow": KeySlot("user1000"),
	}
	for key, want := range cases {
		if got := KeySlot(key); got != want {
			t.Errorf("KeySlot(%q) = %d, want %d", key, got, want)
		}
	}
}

func TestKeySlotHashTagCollocatesKeys(t *testing.T) {
	a := KeySlot("{user1000}.follow")
	b := KeySlot("{user1000}.followers")
	if a != b {
		t.Fatalf("keys sharing a hash tag landed on different slots: %d vs %d", a, b)
	}
}

func TestKeySlotEmptyTagFallsBackToWholeKey(t *testing.T) {
	withEmptyTag := KeySlot("{}foo")
	whole := int(crc16([]byte("{}foo"))) % slotCount
	if withEmptyTag != whole {
		t.Fatalf("empty hash tag should hash whole key consistently")
	}
}

func TestKeySlotRange(t *testing.T) {
	for _, key := range []string{"a", "b", "longer-key-name", "{tag}rest", ""} {
		slot := KeySlot(key)
		if slot < 0 || slot >= slotCount {
			t.Fatalf("KeySlot(%q) = %d out of range [0,%d)", key, slot, slotCount)
		}
	}
}
