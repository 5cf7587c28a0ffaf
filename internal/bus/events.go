package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// ── Event type constants ──────────────────────────────────────────────────────
// Single source of truth for every event that travels on the cross-window
// call channel. The set is closed: Decode rejects anything else.
const (
	// Commands, call window → home window. Always carry the call ID.
	TypeAcceptCall  = "accept_call"
	TypeDeclineCall = "decline_call"
	TypeEndCall     = "end_call"

	// Notifications, home window → call window.
	TypeCallConnected   = "call_connected"
	TypeCallEndedByUser = "call_ended_by_user"

	// WebRTC commands, call window → home window (home forwards to the relay).
	TypeSendOffer     = "send_webrtc_offer"
	TypeSendAnswer    = "send_webrtc_answer"
	TypeSendCandidate = "send_ice_candidate"

	// WebRTC notifications, home window → call window (relayed from the remote peer).
	TypeOfferReceived     = "webrtc_offer_received"
	TypeAnswerReceived    = "webrtc_answer_received"
	TypeCandidateReceived = "webrtc_ice_candidate_received"
)

// Event is the wire shape on the call channel: a type discriminator plus a
// payload whose concrete shape is determined by Type.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ── Payload structs ───────────────────────────────────────────────────────────

// CallRef addresses one call. Used by accept_call, decline_call and end_call.
type CallRef struct {
	CallID string `json:"callId"`
}

// CallConnected tells the call window the relay confirmed the call.
type CallConnected struct {
	CallID    string    `json:"callId"`
	StartTime time.Time `json:"startTime"`
}

// OfferPayload carries an SDP offer. TargetID addresses the recipient for
// send_webrtc_offer; SenderID identifies the origin for webrtc_offer_received.
type OfferPayload struct {
	TargetID string                    `json:"targetId,omitempty"`
	SenderID string                    `json:"senderId,omitempty"`
	Offer    webrtc.SessionDescription `json:"offer"`
}

// AnswerPayload carries an SDP answer.
type AnswerPayload struct {
	TargetID string                    `json:"targetId,omitempty"`
	SenderID string                    `json:"senderId,omitempty"`
	Answer   webrtc.SessionDescription `json:"answer"`
}

// CandidatePayload carries one trickle ICE candidate.
type CandidatePayload struct {
	TargetID  string                  `json:"targetId,omitempty"`
	SenderID  string                  `json:"senderId,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ── Constructors ──────────────────────────────────────────────────────────────

func mustEvent(typ string, payload any) Event {
	b, err := json.Marshal(payload)
	if err != nil {
		// Payload structs above contain no unmarshalable fields; reaching
		// this indicates a programming error, not a runtime condition.
		panic(fmt.Sprintf("bus: marshal %s payload: %v", typ, err))
	}
	return Event{Type: typ, Payload: b}
}

func AcceptCall(callID string) Event  { return mustEvent(TypeAcceptCall, CallRef{CallID: callID}) }
func DeclineCall(callID string) Event { return mustEvent(TypeDeclineCall, CallRef{CallID: callID}) }
func EndCall(callID string) Event     { return mustEvent(TypeEndCall, CallRef{CallID: callID}) }

func CallEndedByUser() Event { return Event{Type: TypeCallEndedByUser} }

func Connected(callID string, startTime time.Time) Event {
	return mustEvent(TypeCallConnected, CallConnected{CallID: callID, StartTime: startTime})
}

func SendOffer(targetID, senderID string, offer webrtc.SessionDescription) Event {
	return mustEvent(TypeSendOffer, OfferPayload{TargetID: targetID, SenderID: senderID, Offer: offer})
}

func SendAnswer(targetID, senderID string, answer webrtc.SessionDescription) Event {
	return mustEvent(TypeSendAnswer, AnswerPayload{TargetID: targetID, SenderID: senderID, Answer: answer})
}

func SendCandidate(targetID, senderID string, cand webrtc.ICECandidateInit) Event {
	return mustEvent(TypeSendCandidate, CandidatePayload{TargetID: targetID, SenderID: senderID, Candidate: cand})
}

func OfferReceived(senderID string, offer webrtc.SessionDescription) Event {
	return mustEvent(TypeOfferReceived, OfferPayload{SenderID: senderID, Offer: offer})
}

func AnswerReceived(senderID string, answer webrtc.SessionDescription) Event {
	return mustEvent(TypeAnswerReceived, AnswerPayload{SenderID: senderID, Answer: answer})
}

func CandidateReceived(senderID string, cand webrtc.ICECandidateInit) Event {
	return mustEvent(TypeCandidateReceived, CandidatePayload{SenderID: senderID, Candidate: cand})
}

// ── Decoding ──────────────────────────────────────────────────────────────────

// Decode unmarshals the payload into the struct matching e.Type and returns it.
// Unknown types return an error; callers log and drop, they never fail the
// session over a message they don't understand.
func (e Event) Decode() (any, error) {
	var dst any
	switch e.Type {
	case TypeAcceptCall, TypeDeclineCall, TypeEndCall:
		dst = &CallRef{}
	case TypeCallConnected:
		dst = &CallConnected{}
	case TypeCallEndedByUser:
		return nil, nil // no payload
	case TypeSendOffer, TypeOfferReceived:
		dst = &OfferPayload{}
	case TypeSendAnswer, TypeAnswerReceived:
		dst = &AnswerPayload{}
	case TypeSendCandidate, TypeCandidateReceived:
		dst = &CandidatePayload{}
	default:
		return nil, fmt.Errorf("bus: unknown event type %q", e.Type)
	}
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("bus: event %q has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return nil, fmt.Errorf("bus: decode %q payload: %w", e.Type, err)
	}
	return dst, nil
}
