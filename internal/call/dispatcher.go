package call

import (
	"context"
	"time"

	"github.com/vivyapp/callkit/internal/bus"
	"github.com/vivyapp/callkit/internal/signal"
	"github.com/vivyapp/callkit/internal/util"
)

// Relay is the slice of the signaling client the dispatcher sends through.
type Relay interface {
	Send(event string, data any)
	Close()
}

// Notices are the home window's call-lifecycle callbacks. All optional.
type Notices struct {
	// OnIncoming announces a new call so the home window can open a call
	// window with the matching WindowParams.
	OnIncoming func(signal.IncomingCall)

	OnAccepted func(signal.CallAccepted)
	OnDeclined func(callID string)
	OnEnded    func(callID string)
	OnStatus   func(signal.Status)
}

// Dispatcher is the home window's half of the split: it owns the
// authenticated relay connection, forwards the call window's send_* commands
// to the relay, and turns relay webrtc_* traffic into *_received events on
// the cross-window channel. It keeps no negotiation state of its own.
type Dispatcher struct {
	ch      *bus.Channel
	selfID  string
	notices Notices
	recent  *util.RingBuffer[LogEntry]

	relay Relay
	done  chan struct{}
}

// LogEntry is one call-lifecycle notice kept in the in-memory recent log,
// enough for a missed-call indicator without persisting anything.
type LogEntry struct {
	Event  string
	CallID string
	PeerID string
	At     time.Time
}

// NewDispatcher builds a dispatcher over the cross-window channel. Bind a
// relay (or Dial one) before events can flow outward.
func NewDispatcher(ch *bus.Channel, selfID string, n Notices) *Dispatcher {
	if ch == nil {
		ch = bus.Discard()
	}
	return &Dispatcher{
		ch:      ch,
		selfID:  selfID,
		notices: n,
		recent:  util.NewRingBuffer[LogEntry](32),
		done:    make(chan struct{}),
	}
}

// Recent returns the latest call-lifecycle notices, oldest first.
func (d *Dispatcher) Recent() []LogEntry { return d.recent.Snapshot() }

func (d *Dispatcher) logEntry(event, callID, peerID string) {
	d.recent.Push(LogEntry{Event: event, CallID: callID, PeerID: peerID, At: time.Now()})
}

// Handlers returns the signal handler set that feeds this dispatcher. It is
// what Dial wires into the client; tests invoke the callbacks directly.
func (d *Dispatcher) Handlers() signal.Handlers {
	return signal.Handlers{
		OnIncomingCall: func(ic signal.IncomingCall) {
			d.logEntry(signal.EventIncomingCall, ic.CallID, ic.CallerID)
			if d.notices.OnIncoming != nil {
				d.notices.OnIncoming(ic)
			}
		},
		OnCallAccepted: func(ca signal.CallAccepted) {
			start := ca.StartTime
			if start.IsZero() {
				start = time.Now()
			}
			d.logEntry(signal.EventCallAccepted, ca.CallID, "")
			d.ch.Post(bus.Connected(ca.CallID, start))
			if d.notices.OnAccepted != nil {
				d.notices.OnAccepted(ca)
			}
		},
		OnCallDeclined: func(ref signal.CallRef) {
			d.logEntry(signal.EventCallDeclined, ref.CallID, "")
			d.ch.Post(bus.CallEndedByUser())
			if d.notices.OnDeclined != nil {
				d.notices.OnDeclined(ref.CallID)
			}
		},
		OnCallEnded: func(ref signal.CallRef) {
			d.logEntry(signal.EventCallEnded, ref.CallID, "")
			d.ch.Post(bus.CallEndedByUser())
			if d.notices.OnEnded != nil {
				d.notices.OnEnded(ref.CallID)
			}
		},
		OnOffer: func(senderID string, sig signal.Signal) {
			desc, err := sig.Description()
			if err != nil {
				log.Warnf("dispatcher: bad offer from %s: %v", senderID, err)
				return
			}
			d.ch.Post(bus.OfferReceived(senderID, desc))
		},
		OnAnswer: func(senderID string, sig signal.Signal) {
			desc, err := sig.Description()
			if err != nil {
				log.Warnf("dispatcher: bad answer from %s: %v", senderID, err)
				return
			}
			d.ch.Post(bus.AnswerReceived(senderID, desc))
		},
		OnCandidate: func(senderID string, sig signal.Signal) {
			cand, err := sig.Candidate()
			if err != nil {
				log.Warnf("dispatcher: bad candidate from %s: %v", senderID, err)
				return
			}
			d.ch.Post(bus.CandidateReceived(senderID, cand))
		},
		OnStatus: d.notices.OnStatus,
	}
}

// Bind attaches the outbound relay and starts forwarding channel commands.
func (d *Dispatcher) Bind(r Relay) {
	d.relay = r
	events, cancel := d.ch.Subscribe()
	go d.forwardLoop(events, cancel)
}

// Dial connects a signaling client for selfID against relayURL, binds it,
// and returns any connection error.
func (d *Dispatcher) Dial(ctx context.Context, relayURL string) error {
	c := signal.New(signal.UserURL(relayURL, d.selfID), d.Handlers())
	if err := c.Connect(ctx); err != nil {
		return err
	}
	d.Bind(c)
	return nil
}

// Close stops forwarding and closes the relay connection.
func (d *Dispatcher) Close() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	if d.relay != nil {
		d.relay.Close()
	}
}

// forwardLoop turns cross-window commands into relay sends.
func (d *Dispatcher) forwardLoop(events <-chan bus.Event, cancel func()) {
	defer cancel()
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.forward(ev)
		}
	}
}

func (d *Dispatcher) forward(ev bus.Event) {
	decoded, err := ev.Decode()
	if err != nil {
		log.Warnf("dispatcher: %v", err)
		return
	}

	switch ev.Type {
	case bus.TypeAcceptCall:
		d.relay.Send(signal.EventAcceptCall, decoded.(*bus.CallRef))
	case bus.TypeDeclineCall:
		d.relay.Send(signal.EventDeclineCall, decoded.(*bus.CallRef))
	case bus.TypeEndCall:
		d.relay.Send(signal.EventEndCall, decoded.(*bus.CallRef))

	case bus.TypeSendOffer:
		p := decoded.(*bus.OfferPayload)
		d.relay.Send(signal.EventOffer, signal.NewSessionSignal(p.TargetID, p.Offer))
	case bus.TypeSendAnswer:
		p := decoded.(*bus.AnswerPayload)
		d.relay.Send(signal.EventAnswer, signal.NewSessionSignal(p.TargetID, p.Answer))
	case bus.TypeSendCandidate:
		p := decoded.(*bus.CandidatePayload)
		d.relay.Send(signal.EventCandidate, signal.NewCandidateSignal(p.TargetID, p.Candidate))

	default:
		// Notifications we posted ourselves, or call-window traffic.
	}
}
