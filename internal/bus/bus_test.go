package bus

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func candInit(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPostReachesOtherHandlesOnly(t *testing.T) {
	b := New()
	home := b.Open("call")
	call := b.Open("call")
	defer home.Close()
	defer call.Close()

	homeSub, _ := home.Subscribe()
	callSub, _ := call.Subscribe()

	call.Post(AcceptCall("c1"))

	ev := recvOne(t, homeSub)
	if ev.Type != TypeAcceptCall {
		t.Fatalf("home got %q, want %q", ev.Type, TypeAcceptCall)
	}

	// The posting handle must not hear its own event.
	select {
	case ev := <-callSub:
		t.Fatalf("poster received its own event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSameNameSharesChannel(t *testing.T) {
	b := New()
	a := b.Open("webrtc_call_channel")
	b2 := b.Open("webrtc_call_channel")
	other := b.Open("unrelated")
	defer a.Close()
	defer b2.Close()
	defer other.Close()

	sub, _ := b2.Subscribe()
	otherSub, _ := other.Subscribe()

	a.Post(EndCall("c1"))
	if ev := recvOne(t, sub); ev.Type != TypeEndCall {
		t.Fatalf("got %q, want %q", ev.Type, TypeEndCall)
	}
	select {
	case ev := <-otherSub:
		t.Fatalf("unrelated channel received %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPerSenderOrdering(t *testing.T) {
	b := New()
	tx := b.Open("call")
	rx := b.Open("call")
	defer tx.Close()
	defer rx.Close()

	sub, _ := rx.Subscribe()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		tx.Post(EndCall(id))
	}
	for _, want := range ids {
		ev := recvOne(t, sub)
		ref, err := ev.Decode()
		if err != nil {
			t.Fatal(err)
		}
		if got := ref.(*CallRef).CallID; got != want {
			t.Fatalf("out of order: got %q, want %q", got, want)
		}
	}
}

func TestClosedHandleIsInert(t *testing.T) {
	b := New()
	tx := b.Open("call")
	rx := b.Open("call")
	sub, _ := rx.Subscribe()

	rx.Close()
	rx.Close() // idempotent

	if _, ok := <-sub; ok {
		t.Fatal("subscription channel not closed")
	}
	tx.Post(EndCall("c1")) // must not panic or block
	tx.Close()
}

func TestDiscardStub(t *testing.T) {
	c := Discard()
	c.Post(AcceptCall("c1")) // no-op
	sub, cancel := c.Subscribe()
	defer cancel()
	select {
	case <-sub:
		t.Fatal("discard channel delivered an event")
	case <-time.After(20 * time.Millisecond):
	}
	c.Close()
}

func TestDecodeClosedSet(t *testing.T) {
	ev := SendCandidate("bob", "alice", candInit("cand-1"))
	got, err := ev.Decode()
	if err != nil {
		t.Fatal(err)
	}
	p := got.(*CandidatePayload)
	if p.TargetID != "bob" || p.SenderID != "alice" || p.Candidate.Candidate != "cand-1" {
		t.Fatalf("round trip mismatch: %+v", p)
	}

	if _, err := (Event{Type: "mystery"}).Decode(); err == nil {
		t.Fatal("unknown event type must not decode")
	}
	if _, err := (Event{Type: TypeSendOffer, Payload: []byte("{nope")}).Decode(); err == nil {
		t.Fatal("malformed payload must not decode")
	}
}
