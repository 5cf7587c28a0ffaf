// Package call implements the window-local call controller: the session
// state machine driving peer negotiation in the call window, the home-side
// dispatcher bridging the cross-window channel to the signaling relay, and
// the N-way room variant built on the same primitives.
package call

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("call")

// Role says which side of the call this window is.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// CallStatus tracks one call attempt through its lifetime.
type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusActive    CallStatus = "active"
	StatusEnded     CallStatus = "ended"
	StatusRejected  CallStatus = "rejected"
	StatusMissed    CallStatus = "missed"
)

// statusRank orders statuses so a call never moves backwards. The three
// terminal statuses share a rank; once any of them is reached the call is
// frozen.
var statusRank = map[CallStatus]int{
	StatusInitiated: 0,
	StatusRinging:   1,
	StatusActive:    2,
	StatusEnded:     3,
	StatusRejected:  3,
	StatusMissed:    3,
}

// Call is one call attempt as the relay models it.
type Call struct {
	ID       string     `json:"id"`
	CallerID string     `json:"caller_id"`
	CalleeID string     `json:"callee_id"`
	Status   CallStatus `json:"status"`

	InitiatedAt time.Time  `json:"initiated_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	mu sync.Mutex
}

// NewCall creates a fresh initiated call record.
func NewCall(callerID, calleeID string) *Call {
	return &Call{
		ID:          NewID(),
		CallerID:    callerID,
		CalleeID:    calleeID,
		Status:      StatusInitiated,
		InitiatedAt: time.Now(),
	}
}

// NewID returns a fresh call identifier.
func NewID() string { return uuid.NewString() }

// Advance moves the call to next if that is a forward transition, recording
// timestamps as a side effect: AnsweredAt is set exactly once, on the move
// into active; EndedAt on the move into a terminal status. Returns false
// and leaves the call untouched when next would regress or the call is
// already terminal.
func (c *Call) Advance(next CallStatus) bool {
	nr, ok := statusRank[next]
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := statusRank[c.Status]
	if nr <= cur {
		return false
	}
	c.Status = next
	now := time.Now()
	if next == StatusActive && c.AnsweredAt == nil {
		c.AnsweredAt = &now
	}
	if nr == statusRank[StatusEnded] && c.EndedAt == nil {
		c.EndedAt = &now
	}
	return true
}

// CurrentStatus returns the status under the lock.
func (c *Call) CurrentStatus() CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status
}

// CallResponse is what the call-placement endpoint returns.
type CallResponse struct {
	Call *Call `json:"call"`
	Role Role  `json:"role"`
}

// WindowParams is everything the call window is launched with. A session is
// constructible from these four values plus injected dependencies, nothing
// else. SelfID is the local identity used to filter targeted events; it
// travels under the "name" query key.
type WindowParams struct {
	CallID string
	PeerID string
	SelfID string
	Role   Role
}

// ParseWindowParams reads the window-open query parameters.
func ParseWindowParams(q url.Values) (WindowParams, error) {
	p := WindowParams{
		CallID: q.Get("callId"),
		PeerID: q.Get("otherUserId"),
		SelfID: q.Get("name"),
		Role:   Role(q.Get("role")),
	}
	return p, p.Validate()
}

// Values renders the params back into window-open query form.
func (p WindowParams) Values() url.Values {
	return url.Values{
		"callId":      {p.CallID},
		"otherUserId": {p.PeerID},
		"name":        {p.SelfID},
		"role":        {string(p.Role)},
	}
}

// Validate rejects incomplete or malformed params.
func (p WindowParams) Validate() error {
	switch {
	case p.CallID == "":
		return fmt.Errorf("call: missing callId")
	case p.PeerID == "":
		return fmt.Errorf("call: missing otherUserId")
	case p.SelfID == "":
		return fmt.Errorf("call: missing name")
	case p.Role != RoleCaller && p.Role != RoleCallee:
		return fmt.Errorf("call: bad role %q", p.Role)
	}
	return nil
}
