package call

import (
	"net/url"
	"testing"
)

func TestWindowParamsRoundTrip(t *testing.T) {
	in := WindowParams{CallID: "c1", PeerID: "bob", SelfID: "alice", Role: RoleCaller}
	out, err := ParseWindowParams(in.Values())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("round trip: %+v != %+v", out, in)
	}
}

func TestWindowParamsValidate(t *testing.T) {
	cases := []struct {
		name string
		q    url.Values
	}{
		{"empty", url.Values{}},
		{"missing role", url.Values{"callId": {"c"}, "otherUserId": {"o"}, "name": {"n"}}},
		{"bad role", url.Values{"callId": {"c"}, "otherUserId": {"o"}, "name": {"n"}, "role": {"spectator"}}},
		{"missing callId", url.Values{"otherUserId": {"o"}, "name": {"n"}, "role": {"caller"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseWindowParams(tc.q); err == nil {
				t.Fatal("no error")
			}
		})
	}
}

func TestCallStatusNeverRegresses(t *testing.T) {
	c := NewCall("alice", "bob")
	if c.CurrentStatus() != StatusInitiated {
		t.Fatalf("new call status %s", c.CurrentStatus())
	}

	if !c.Advance(StatusRinging) || !c.Advance(StatusActive) {
		t.Fatal("forward transitions refused")
	}
	if c.Advance(StatusRinging) {
		t.Fatal("regressed active → ringing")
	}
	if !c.Advance(StatusEnded) {
		t.Fatal("could not end active call")
	}
	if c.Advance(StatusRejected) || c.Advance(StatusActive) {
		t.Fatal("left terminal status")
	}
	if c.CurrentStatus() != StatusEnded {
		t.Fatalf("final status %s", c.CurrentStatus())
	}
}

func TestAnsweredAtSetExactlyOnce(t *testing.T) {
	c := NewCall("alice", "bob")
	c.Advance(StatusRinging)
	c.Advance(StatusActive)

	first := c.AnsweredAt
	if first == nil {
		t.Fatal("AnsweredAt not set on active")
	}
	c.Advance(StatusActive) // refused, terminal-rank rule aside
	c.Advance(StatusEnded)
	if c.AnsweredAt != first {
		t.Fatal("AnsweredAt rewritten")
	}
	if c.EndedAt == nil {
		t.Fatal("EndedAt not set")
	}
}

func TestMissedAndRejectedAreTerminal(t *testing.T) {
	c := NewCall("alice", "bob")
	c.Advance(StatusRinging)
	if !c.Advance(StatusMissed) {
		t.Fatal("could not miss a ringing call")
	}
	if c.AnsweredAt != nil {
		t.Fatal("missed call has AnsweredAt")
	}
	if c.Advance(StatusActive) {
		t.Fatal("missed call went active")
	}
}
