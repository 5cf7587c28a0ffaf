package call

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/signaling/call" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if body["caller_id"] != "alice" || body["callee_id"] != "bob" {
			t.Errorf("bad participants: %v", body)
		}
		json.NewEncoder(w).Encode(CallResponse{
			Call: &Call{ID: "call-9", CallerID: "alice", CalleeID: "bob", Status: StatusInitiated},
			Role: RoleCaller,
		})
	}))
	defer srv.Close()

	cr, err := NewPlacer(srv.URL).PlaceCall(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if cr.Call.ID != "call-9" || cr.Role != RoleCaller {
		t.Fatalf("unexpected response: %+v", cr)
	}

	p := cr.Params("alice")
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.PeerID != "bob" || p.Role != RoleCaller || p.CallID != "call-9" {
		t.Fatalf("caller params %+v", p)
	}
}

func TestPlaceCallFillsMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CallResponse{
			Call: &Call{CallerID: "alice", CalleeID: "bob"},
			Role: RoleCallee,
		})
	}))
	defer srv.Close()

	cr, err := NewPlacer(srv.URL).PlaceCall(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if cr.Call.ID == "" {
		t.Fatal("ID left empty")
	}

	p := cr.Params("bob")
	if p.PeerID != "alice" || p.Role != RoleCallee {
		t.Fatalf("callee params %+v", p)
	}
}

func TestPlaceCallErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewPlacer(srv.URL).PlaceCall(context.Background(), "alice", "bob"); err == nil {
		t.Fatal("no error on 502")
	}
}
