package channel

import (
	"testing"
	"time"

	"shardgate/internal/codec/resp"
)

func TestParseIdentifierWithoutWorker(t *testing.T) {
	id, err := ParseIdentifier("10.0.0.1:6380")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Host != "10.0.0.1" || id.Port != 6380 || id.HasWorker {
		t.Fatalf("unexpected parse result: %+v", id)
	}
	if id.String() != "10.0.0.1:6380" {
		t.Fatalf("unexpected round trip: %s", id.String())
	}
}

func TestParseIdentifierWithWorker(t *testing.T) {
	id, err := ParseIdentifier("10.0.0.1:6380.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.HasWorker || id.WorkerIndex != 3 {
		t.Fatalf("unexpected parse result: %+v", id)
	}
	if id.BaseAddr() != "10.0.0.1:6380" {
		t.Fatalf("unexpected base addr: %s", id.BaseAddr())
	}
}

func TestParseIdentifierRejectsMissingColon(t *testing.T) {
	if _, err := ParseIdentifier("no-colon-here"); err == nil {
		t.Fatalf("expected error for missing ':'")
	}
}

func TestPipelineQueueFIFOOrdering(t *testing.T) {
	ch := New("127.0.0.1:7000", nil, true, true, resp.New())
	ch.Enqueue(Correlation{Seq: 1})
	ch.Enqueue(Correlation{Seq: 2})
	ch.Enqueue(Correlation{Seq: 3})

	for _, want := range []uint64{1, 2, 3} {
		got, ok := ch.PopOldest()
		if !ok || got.Seq != want {
			t.Fatalf("expected seq %d, got %+v (ok=%v)", want, got, ok)
		}
	}
	if _, ok := ch.PopOldest(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestNonPipelineSeqTable(t *testing.T) {
	ch := New("127.0.0.1:7000", nil, true, false, resp.New())
	ch.Enqueue(Correlation{Seq: 42, Meta: "hello"})
	got, ok := ch.PopSingle()
	if !ok || got.Meta != "hello" {
		t.Fatalf("unexpected correlation: %+v ok=%v", got, ok)
	}
	if _, ok := ch.PopSingle(); ok {
		t.Fatalf("expected entry to be consumed")
	}
}

func TestFeedDecodesCompleteFrame(t *testing.T) {
	ch := New("127.0.0.1:7000", nil, true, true, resp.New())
	replies, err := ch.Feed([]byte("+OK\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0].Str != "OK" {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestFeedRetainsPartialFrame(t *testing.T) {
	ch := New("127.0.0.1:7000", nil, true, true, resp.New())
	replies, err := ch.Feed([]byte("$5\r\nhel"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("expected no complete frames yet, got %+v", replies)
	}
	replies, err = ch.Feed([]byte("lo\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0].Str != "hello" {
		t.Fatalf("unexpected replies after completion: %+v", replies)
	}
}

func TestIsDeadConnection(t *testing.T) {
	ch := New("127.0.0.1:7000", nil, true, true, resp.New())
	checkTime := time.Now()
	ch.PenultimateActive = checkTime.Add(-time.Minute)
	ch.LastRecv = checkTime.Add(-time.Second)
	if !ch.IsDeadConnection(checkTime) {
		t.Fatalf("expected channel to be detected as dead")
	}

	ch.LastRecv = checkTime.Add(time.Second)
	if ch.IsDeadConnection(checkTime) {
		t.Fatalf("channel with recent activity should not be dead")
	}
}
