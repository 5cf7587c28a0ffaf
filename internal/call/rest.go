package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Placer creates call records against the signaling service's REST surface.
type Placer struct {
	baseURL string
	client  *http.Client
}

// NewPlacer creates a placer that talks to the signaling service at baseURL.
func NewPlacer(baseURL string) *Placer {
	return &Placer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// PlaceCall creates a call record for callerID calling calleeID and returns
// the identifiers the call window is opened with.
func (p *Placer) PlaceCall(ctx context.Context, callerID, calleeID string) (*CallResponse, error) {
	body, err := json.Marshal(map[string]string{
		"caller_id": callerID,
		"callee_id": calleeID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/signaling/call", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call: place: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("call: place: status %d", resp.StatusCode)
	}

	var cr CallResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("call: place: decode: %w", err)
	}
	if cr.Call == nil {
		return nil, fmt.Errorf("call: place: empty call in response")
	}
	if cr.Call.ID == "" {
		// Some relay builds leave ID assignment to the client.
		cr.Call.ID = NewID()
	}
	return &cr, nil
}

// Params derives the window-open params for selfID's side of the call.
func (cr *CallResponse) Params(selfID string) WindowParams {
	peer := cr.Call.CalleeID
	if cr.Role == RoleCallee {
		peer = cr.Call.CallerID
	}
	return WindowParams{
		CallID: cr.Call.ID,
		PeerID: peer,
		SelfID: selfID,
		Role:   cr.Role,
	}
}
