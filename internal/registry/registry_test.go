package registry

import (
	"testing"
	"time"
)

func TestAddSelectRoundRobin(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.AddEndpoint("mycluster", "10.0.0.2:7000")

	first, ok := r.Select("mycluster")
	if !ok {
		t.Fatalf("expected a selection")
	}
	second, ok := r.Select("mycluster")
	if !ok || second == first {
		t.Fatalf("expected round robin to rotate, got %s then %s", first, second)
	}
	third, ok := r.Select("mycluster")
	if !ok || third != first {
		t.Fatalf("expected round robin to wrap back to %s, got %s", first, third)
	}
}

func TestMarkFailedSkippedBySelect(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.AddEndpoint("mycluster", "10.0.0.2:7000")
	r.MarkFailed("mycluster", "10.0.0.1:7000")

	for i := 0; i < 4; i++ {
		got, ok := r.Select("mycluster")
		if !ok || got != "10.0.0.2:7000" {
			t.Fatalf("expected only the healthy endpoint to be selected, got %s", got)
		}
	}
}

func TestSelectAllFailedReturnsFalse(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.MarkFailed("mycluster", "10.0.0.1:7000")
	if _, ok := r.Select("mycluster"); ok {
		t.Fatalf("expected no selection when all endpoints failed")
	}
}

func TestMarkRecoveredRestoresEligibility(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.MarkFailed("mycluster", "10.0.0.1:7000")
	r.MarkRecovered("mycluster", "10.0.0.1:7000")
	if _, ok := r.Select("mycluster"); !ok {
		t.Fatalf("expected recovered endpoint to be selectable")
	}
}

func TestSelectByHashIsStable(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.AddEndpoint("mycluster", "10.0.0.2:7000")
	r.AddEndpoint("mycluster", "10.0.0.3:7000")

	a, _ := r.SelectByStringHash("mycluster", "user:1000")
	b, _ := r.SelectByStringHash("mycluster", "user:1000")
	if a != b {
		t.Fatalf("expected stable hash selection, got %s then %s", a, b)
	}
}

func TestDetectReturnsFailedEndpointOnce(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.MarkFailed("mycluster", "10.0.0.1:7000")

	now := time.Now()
	endpoint, ok := r.Detect("mycluster", time.Second, now)
	if !ok || endpoint != "10.0.0.1:7000" {
		t.Fatalf("expected detect to surface failed endpoint")
	}
	if _, ok := r.Detect("mycluster", time.Second, now); ok {
		t.Fatalf("expected no second probe within the interval")
	}
	if _, ok := r.Detect("mycluster", time.Second, now.Add(2*time.Second)); !ok {
		t.Fatalf("expected probe due again after interval elapses")
	}
}

func TestBroadcastReturnsAllEndpoints(t *testing.T) {
	r := New()
	r.AddEndpoint("mycluster", "10.0.0.1:7000")
	r.AddEndpoint("mycluster", "10.0.0.2:7000")
	r.MarkFailed("mycluster", "10.0.0.2:7000")

	all := r.Broadcast("mycluster")
	if len(all) != 2 {
		t.Fatalf("expected broadcast to include failed endpoints too, got %v", all)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	r := New()
	r.SetCredential("mycluster", "s3cret")
	got, err := r.Credential("mycluster")
	if err != nil || got != "s3cret" {
		t.Fatalf("unexpected credential: %q err=%v", got, err)
	}
}

func TestCredentialMissingReturnsError(t *testing.T) {
	r := New()
	if _, err := r.Credential("unknown"); err == nil {
		t.Fatalf("expected error for unset credential")
	}
}
