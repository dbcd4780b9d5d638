package cluster

import (
	"testing"

	"shardgate/internal/channel"
	"shardgate/internal/codec"
	"shardgate/internal/registry"
)

type sentMsg struct {
	endpoint string
	msg      codec.Message
	corr     channel.Correlation
}

type fakeTransport struct {
	sent    []sentMsg
	failNext bool
}

func (f *fakeTransport) SendTo(endpoint string, msg codec.Message, corr channel.Correlation) error {
	f.sent = append(f.sent, sentMsg{endpoint: endpoint, msg: msg, corr: corr})
	return nil
}

func slotsReply(ranges ...[3]interface{}) codec.Reply {
	var arr []codec.Reply
	for _, rg := range ranges {
		from := rg[0].(int)
		to := rg[1].(int)
		hostPort := rg[2].([2]interface{})
		arr = append(arr, codec.Reply{
			Kind: codec.KindArray,
			Array: []codec.Reply{
				{Kind: codec.KindInteger, Int: int64(from)},
				{Kind: codec.KindInteger, Int: int64(to)},
				{Kind: codec.KindArray, Array: []codec.Reply{
					{Kind: codec.KindBulk, Str: hostPort[0].(string)},
					{Kind: codec.KindInteger, Int: int64(hostPort[1].(int))},
				}},
			},
		})
	}
	return codec.Reply{Kind: codec.KindArray, Array: arr}
}

func newTestRouter(t *testing.T) (*Router, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	reg := registry.New()
	cfg := Config{SeedAddresses: []string{"10.0.0.1:7000"}, EnableReadonly: false}
	r := New(cfg, tr, reg)
	return r, tr
}

func TestDispatchBeforeTopologyQueuesAndRefreshes(t *testing.T) {
	r, tr := newTestRouter(t)
	delivered := false
	r.Dispatch([]string{"GET", "foo"}, func(reply codec.Reply, err error) { delivered = true })

	if len(tr.sent) != 1 || tr.sent[0].msg.Args[0] != "CLUSTER" {
		t.Fatalf("expected CLUSTER SLOTS to be issued, got %+v", tr.sent)
	}
	if delivered {
		t.Fatalf("request should be queued, not yet delivered")
	}

	// Simulate CLUSTER SLOTS reply covering the whole keyspace on one node.
	reply := slotsReply([3]interface{}{0, 16383, [2]interface{}{"10.0.0.1", 7000}})
	r.HandleReply(reply, tr.sent[0].corr)

	if len(tr.sent) != 2 {
		t.Fatalf("expected the waiting GET to be re-dispatched, got %+v", tr.sent)
	}
	if tr.sent[1].msg.Args[0] != "GET" {
		t.Fatalf("expected GET to be sent after topology refresh, got %+v", tr.sent[1])
	}
}

func TestDispatchSingleKeyDeliversReply(t *testing.T) {
	r, tr := newTestRouter(t)
	r.slotMap[KeySlot("foo")] = &node{master: "10.0.0.1:7000"}

	var gotReply codec.Reply
	var gotErr error
	r.Dispatch([]string{"GET", "foo"}, func(reply codec.Reply, err error) {
		gotReply, gotErr = reply, err
	})

	if len(tr.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(tr.sent))
	}
	r.HandleReply(codec.Reply{Kind: codec.KindBulk, Str: "bar"}, tr.sent[0].corr)

	if gotErr != nil || gotReply.Str != "bar" {
		t.Fatalf("unexpected delivery: reply=%+v err=%v", gotReply, gotErr)
	}
}

func TestMovedRedirectResendsToNewEndpoint(t *testing.T) {
	r, tr := newTestRouter(t)
	r.slotMap[KeySlot("foo")] = &node{master: "10.0.0.1:7000"}

	r.Dispatch([]string{"GET", "foo"}, func(reply codec.Reply, err error) {})
	firstCorr := tr.sent[0].corr

	r.HandleReply(codec.Reply{Kind: codec.KindError, Err: "MOVED 100 10.0.0.2:7000"}, firstCorr)

	if len(tr.sent) < 3 {
		t.Fatalf("expected a CLUSTER SLOTS refresh plus a resend, got %+v", tr.sent)
	}
	last := tr.sent[len(tr.sent)-1]
	if last.endpoint != "10.0.0.2:7000" || last.msg.Args[0] != "GET" {
		t.Fatalf("expected GET resent to moved endpoint, got %+v", last)
	}
}

func TestMultiKeyAggregationReassemblesInOrder(t *testing.T) {
	r, tr := newTestRouter(t)
	slotA := KeySlot("a")
	slotB := KeySlot("b")
	r.slotMap[slotA] = &node{master: "10.0.0.1:7000"}
	r.slotMap[slotB] = &node{master: "10.0.0.2:7000"}

	var final codec.Reply
	r.Dispatch([]string{"MGET", "a", "b"}, func(reply codec.Reply, err error) {
		final = reply
	})

	if len(tr.sent) != 2 {
		t.Fatalf("expected two sub-requests, got %d", len(tr.sent))
	}

	for _, s := range tr.sent {
		switch s.endpoint {
		case "10.0.0.1:7000":
			r.HandleReply(codec.Reply{Kind: codec.KindArray, Array: []codec.Reply{{Kind: codec.KindBulk, Str: "valA"}}}, s.corr)
		case "10.0.0.2:7000":
			r.HandleReply(codec.Reply{Kind: codec.KindArray, Array: []codec.Reply{{Kind: codec.KindBulk, Str: "valB"}}}, s.corr)
		}
	}

	if len(final.Array) != 2 || final.Array[0].Str != "valA" || final.Array[1].Str != "valB" {
		t.Fatalf("expected reassembled [valA, valB], got %+v", final.Array)
	}
}

func TestMultiKeyValueAggregationFillsScalarReply(t *testing.T) {
	r, tr := newTestRouter(t)
	slotA := KeySlot("a")
	slotB := KeySlot("b")
	r.slotMap[slotA] = &node{master: "10.0.0.1:7000"}
	r.slotMap[slotB] = &node{master: "10.0.0.2:7000"}

	var final codec.Reply
	r.Dispatch([]string{"MSET", "a", "1", "b", "2"}, func(reply codec.Reply, err error) {
		final = reply
	})

	if len(tr.sent) != 2 {
		t.Fatalf("expected two sub-requests, got %d", len(tr.sent))
	}

	for _, s := range tr.sent {
		r.HandleReply(codec.Reply{Kind: codec.KindSimple, Str: "OK"}, s.corr)
	}

	if len(final.Array) != 2 {
		t.Fatalf("expected two reassembled replies, got %+v", final.Array)
	}
	for i, reply := range final.Array {
		if reply.Kind != codec.KindSimple || reply.Str != "OK" {
			t.Fatalf("reply %d: expected scalar +OK, got %+v", i, reply)
		}
	}
}

func TestInvalidCommandRejectedWithoutDispatch(t *testing.T) {
	r, tr := newTestRouter(t)
	r.slotMap[0] = &node{master: "10.0.0.1:7000"} // avoid the empty-slot-map waiting path

	var gotErr error
	r.Dispatch([]string{"NOTACOMMAND", "foo"}, func(reply codec.Reply, err error) {
		gotErr = err
	})
	if gotErr == nil {
		t.Fatalf("expected InvalidCommand error")
	}
	if len(tr.sent) != 0 {
		t.Fatalf("invalid command should never reach the transport, got %+v", tr.sent)
	}
}
