// Package signal implements the client side of the signaling relay protocol:
// the JSON envelope, the recognized event taxonomy, and a websocket client
// that queues outbound messages until the open handshake completes.
package signal

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// ── Relay event names ─────────────────────────────────────────────────────────
const (
	// Call lifecycle. Inbound notifications from the relay and the matching
	// outbound commands share these names.
	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallDeclined = "call_declined"
	EventCallEnded    = "call_ended"
	EventAcceptCall   = "accept_call"
	EventDeclineCall  = "decline_call"
	EventEndCall      = "end_call"

	// WebRTC negotiation. Same name both directions; the relay rewrites
	// targetId addressing into senderId attribution.
	EventOffer     = "webrtc_offer"
	EventAnswer    = "webrtc_answer"
	EventCandidate = "ice_candidate"

	// Room mode.
	EventRoomJoined        = "room-joined"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
)

// Envelope is the relay wire frame, both directions.
type Envelope struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	SenderID string          `json:"senderId,omitempty"`
}

// ── Data payloads ─────────────────────────────────────────────────────────────

// IncomingCall announces a new call to the callee's home window.
type IncomingCall struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
}

// CallAccepted confirms the callee picked up. StartTime anchors the duration
// display on both sides.
type CallAccepted struct {
	CallID    string    `json:"callId"`
	StartTime time.Time `json:"startTime"`
}

// CallRef names one call; used by accept/decline/end commands and the
// call_declined and call_ended notifications.
type CallRef struct {
	CallID string `json:"callId"`
}

// Signal carries one negotiation payload (SDP or ICE). TargetID addresses
// the recipient on the way in to the relay; the relay delivers it with the
// envelope SenderID set instead.
type Signal struct {
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// NewSessionSignal builds a Signal wrapping an SDP description.
func NewSessionSignal(targetID string, sdp webrtc.SessionDescription) Signal {
	b, _ := json.Marshal(sdp)
	return Signal{TargetID: targetID, Payload: b}
}

// NewCandidateSignal builds a Signal wrapping an ICE candidate.
func NewCandidateSignal(targetID string, cand webrtc.ICECandidateInit) Signal {
	b, _ := json.Marshal(cand)
	return Signal{TargetID: targetID, Payload: b}
}

// Description decodes the payload as an SDP description.
func (s Signal) Description() (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	err := json.Unmarshal(s.Payload, &sdp)
	return sdp, err
}

// Candidate decodes the payload as an ICE candidate.
func (s Signal) Candidate() (webrtc.ICECandidateInit, error) {
	var cand webrtc.ICECandidateInit
	err := json.Unmarshal(s.Payload, &cand)
	return cand, err
}

// RoomJoined lists everyone already in the room at join time.
type RoomJoined struct {
	Participants []string `json:"participants"`
}

// ParticipantJoined announces a late joiner. The existing members wait for
// the joiner's offer rather than offering themselves.
type ParticipantJoined struct {
	JoinedID string `json:"joinedId"`
}

// ParticipantLeft announces a departure; the matching peer connection must
// be torn down.
type ParticipantLeft struct {
	LeftID string `json:"leftId"`
}

// Handlers routes decoded inbound events. Nil fields drop the event silently,
// so a consumer wires only what it cares about.
type Handlers struct {
	OnIncomingCall      func(IncomingCall)
	OnCallAccepted      func(CallAccepted)
	OnCallDeclined      func(CallRef)
	OnCallEnded         func(CallRef)
	OnOffer             func(senderID string, sig Signal)
	OnAnswer            func(senderID string, sig Signal)
	OnCandidate         func(senderID string, sig Signal)
	OnRoomJoined        func(RoomJoined)
	OnParticipantJoined func(ParticipantJoined)
	OnParticipantLeft   func(ParticipantLeft)
	OnStatus            func(Status)
}
