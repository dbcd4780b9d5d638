package pool

import (
	"testing"

	"shardgate/internal/channel"
	"shardgate/internal/codec/resp"
)

func TestLookupEmptyPool(t *testing.T) {
	p := New()
	if _, ok := p.Lookup("127.0.0.1:7000"); ok {
		t.Fatalf("expected no channel in empty pool")
	}
}

func TestNonPipelineCheckoutExclusivity(t *testing.T) {
	p := New()
	ch := channel.New("127.0.0.1:7000", nil, true, false, resp.New())
	p.Insert(ch)

	if _, ok := p.Lookup("127.0.0.1:7000"); ok {
		t.Fatalf("non-pipeline channel should already be checked out after Insert")
	}
	p.Checkin(ch)
	got, ok := p.Lookup("127.0.0.1:7000")
	if !ok || got != ch {
		t.Fatalf("expected checked-in channel to be reusable")
	}
}

func TestPipelineChannelAlwaysReusable(t *testing.T) {
	p := New()
	ch := channel.New("127.0.0.1:7000", nil, true, true, resp.New())
	p.Insert(ch)

	got1, ok1 := p.Lookup("127.0.0.1:7000")
	got2, ok2 := p.Lookup("127.0.0.1:7000")
	if !ok1 || !ok2 || got1 != ch || got2 != ch {
		t.Fatalf("expected pipeline channel reusable across concurrent lookups")
	}
}

func TestDiscardRemovesFromPool(t *testing.T) {
	p := New()
	ch := channel.New("127.0.0.1:7000", nil, true, true, resp.New())
	p.Insert(ch)
	p.Discard(ch)
	if _, ok := p.Lookup("127.0.0.1:7000"); ok {
		t.Fatalf("expected channel to be gone after Discard")
	}
}
