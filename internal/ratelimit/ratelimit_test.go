package ratelimit

import "testing"

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("expected accept %d within burst to be allowed", i)
		}
	}
}

func TestAllowExhaustsBurst(t *testing.T) {
	l := New(1, 2)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	if l.Allow("10.0.0.1") {
		t.Fatalf("expected third accept to be dropped once burst is exhausted")
	}
}

func TestAllowIsPerAddress(t *testing.T) {
	l := New(1, 1)
	if !l.Allow("10.0.0.1") {
		t.Fatalf("expected first accept from 10.0.0.1 to be allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatalf("expected a different address to have its own budget")
	}
}
