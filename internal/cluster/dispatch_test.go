package cluster

import "testing"

func TestExtractCmdSingleKeyClassifiesWrite(t *testing.T) {
	ex, err := extractCmd([]string{"SET", "foo", "bar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ex.write {
		t.Fatalf("SET must classify as a write")
	}
	if len(ex.keySlots) != 1 || ex.keySlots[0] != KeySlot("foo") {
		t.Fatalf("unexpected slots: %+v", ex.keySlots)
	}
}

func TestExtractCmdSingleKeyClassifiesRead(t *testing.T) {
	ex, err := extractCmd([]string{"GET", "foo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.write {
		t.Fatalf("GET must classify as a read")
	}
}

func TestExtractCmdRejectsUnsupported(t *testing.T) {
	if _, err := extractCmd([]string{"EVAL", "return 1", "0"}); err == nil {
		t.Fatalf("expected InvalidCommand for unsupported command")
	}
}

func TestExtractCmdRejectsEmptyKey(t *testing.T) {
	if _, err := extractCmd([]string{"GET", ""}); err == nil {
		t.Fatalf("expected InvalidCommand for empty key")
	}
}

func TestExtractCmdNoKeyCommand(t *testing.T) {
	ex, err := extractCmd([]string{"PING"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ex.keySlots) != 0 {
		t.Fatalf("PING should have no key slots, got %+v", ex.keySlots)
	}
}

func TestExtractCmdMultiKeyValueRejectsOddArity(t *testing.T) {
	if _, err := extractCmd([]string{"MSET", "k1", "v1", "k2"}); err == nil {
		t.Fatalf("expected InvalidCommand for odd key/value arity")
	}
}

func TestSplitBySlotGroupsSameSlotKeys(t *testing.T) {
	args := []string{"MGET", "{tag}a", "{tag}b", "other"}
	ex, err := extractCmd(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subs := splitBySlot(ex, args)

	total := 0
	for _, s := range subs {
		total += len(s.keyIndex)
	}
	if total != 3 {
		t.Fatalf("expected 3 keys distributed across sub-requests, got %d", total)
	}

	for _, s := range subs {
		if s.slot == KeySlot("{tag}a") {
			if len(s.keyIndex) != 2 {
				t.Fatalf("expected tagged keys to share one sub-request, got %+v", s)
			}
		}
	}
}

func TestSplitBySlotMultiKeyValuePreservesPairs(t *testing.T) {
	args := []string{"MSET", "k1", "v1", "k2", "v2"}
	ex, err := extractCmd(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subs := splitBySlot(ex, args)
	for _, s := range subs {
		if len(s.args) != 1+2*len(s.keyIndex) {
			t.Fatalf("expected key/value pairs intact per sub-request, got %+v", s)
		}
	}
}
