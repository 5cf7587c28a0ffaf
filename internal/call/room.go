package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vivyapp/callkit/internal/media"
	"github.com/vivyapp/callkit/internal/rtc"
	"github.com/vivyapp/callkit/internal/signal"
)

// Room is the multi-party variant: one window holds both the socket and an
// N-way peer map, no cross-window hop. On join the relay lists the existing
// participants and this side offers to each; late joiners offer to us.
type Room struct {
	roomID string
	selfID string
	opts   Options

	mu     sync.Mutex
	peers  *rtc.Manager
	stream *media.Stream
	relay  Relay

	closeOnce sync.Once
	done      chan struct{}
}

// NewRoom prepares a room session for selfID. Join acquires media and
// connects the relay.
func NewRoom(roomID, selfID string, opts Options) *Room {
	if opts.Acquire == nil {
		opts.Acquire = media.Capture
	}
	if !opts.Constraints.Video && !opts.Constraints.Audio {
		opts.Constraints = media.Constraints{Video: true, Audio: true}
	}
	return &Room{
		roomID: roomID,
		selfID: selfID,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Join acquires local media, builds the peer manager, and binds the relay
// connection the negotiation runs over. The relay must already carry the
// handler set from Handlers.
func (r *Room) Join(ctx context.Context, relay Relay) error {
	stream, err := r.opts.Acquire(r.opts.Constraints)
	if err != nil {
		log.Errorf("room %s: media: %v", r.roomID, err)
		return err
	}

	factory := r.opts.Factory
	if factory == nil {
		ec := r.opts.Engine
		ec.Populate = stream.Populate()
		factory, err = rtc.NewPionFactory(ec)
		if err != nil {
			stream.Close()
			return err
		}
	}

	peers := rtc.NewManager(
		&relaySignaler{relay: relay},
		factory,
		stream.Tracks(),
		rtc.Hooks{OnRemoteTrack: r.opts.OnRemoteTrack},
	)

	r.mu.Lock()
	r.stream = stream
	r.peers = peers
	r.relay = relay
	r.mu.Unlock()
	return nil
}

// OnRoomJoined offers to every participant already present.
func (r *Room) OnRoomJoined(participants []string) {
	peers := r.manager()
	if peers == nil {
		return
	}
	for _, id := range participants {
		if id == r.selfID {
			continue
		}
		peers.MakeOffer(id)
	}
}

// OnParticipantJoined notes a late joiner. The joiner offers to the existing
// members, so there is nothing to initiate here.
func (r *Room) OnParticipantJoined(id string) {
	log.Infof("room %s: %s joined", r.roomID, id)
}

// OnParticipantLeft closes exactly that participant's connection.
func (r *Room) OnParticipantLeft(id string) {
	if peers := r.manager(); peers != nil {
		peers.Close(id)
	}
}

// OnOffer, OnAnswer and OnCandidate route relay negotiation to the peer map.
func (r *Room) OnOffer(senderID string, offer webrtc.SessionDescription) {
	if peers := r.manager(); peers != nil {
		peers.AcceptOffer(senderID, offer)
	}
}

func (r *Room) OnAnswer(senderID string, answer webrtc.SessionDescription) {
	if peers := r.manager(); peers != nil {
		peers.AcceptAnswer(senderID, answer)
	}
}

func (r *Room) OnCandidate(senderID string, cand webrtc.ICECandidateInit) {
	if peers := r.manager(); peers != nil {
		peers.AddCandidate(senderID, cand)
	}
}

// Participants returns the number of live peer connections.
func (r *Room) Participants() int {
	if peers := r.manager(); peers != nil {
		return peers.Len()
	}
	return 0
}

// Leave tears the room down once: every peer, then local media, then the
// relay connection.
func (r *Room) Leave() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		peers, stream, relay := r.peers, r.stream, r.relay
		r.mu.Unlock()
		if peers != nil {
			peers.CloseAll()
		}
		if stream != nil {
			stream.Close()
		}
		if relay != nil {
			relay.Close()
		}
		close(r.done)
	})
}

// Done closes when the room has been left.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) manager() *rtc.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers
}

// Handlers is the signal handler set for the room's own socket.
func (r *Room) Handlers() signal.Handlers {
	return signal.Handlers{
		OnRoomJoined: func(rj signal.RoomJoined) { r.OnRoomJoined(rj.Participants) },
		OnParticipantJoined: func(pj signal.ParticipantJoined) {
			r.OnParticipantJoined(pj.JoinedID)
		},
		OnParticipantLeft: func(pl signal.ParticipantLeft) {
			r.OnParticipantLeft(pl.LeftID)
		},
		OnOffer: func(senderID string, sig signal.Signal) {
			desc, err := sig.Description()
			if err != nil {
				log.Warnf("room %s: bad offer from %s: %v", r.roomID, senderID, err)
				return
			}
			r.OnOffer(senderID, desc)
		},
		OnAnswer: func(senderID string, sig signal.Signal) {
			desc, err := sig.Description()
			if err != nil {
				log.Warnf("room %s: bad answer from %s: %v", r.roomID, senderID, err)
				return
			}
			r.OnAnswer(senderID, desc)
		},
		OnCandidate: func(senderID string, sig signal.Signal) {
			cand, err := sig.Candidate()
			if err != nil {
				log.Warnf("room %s: bad candidate from %s: %v", r.roomID, senderID, err)
				return
			}
			r.OnCandidate(senderID, cand)
		},
	}
}

// Dial connects a room-scoped signaling client and joins through it.
func (r *Room) Dial(ctx context.Context, relayURL string) error {
	c := signal.New(signal.RoomURL(relayURL, r.roomID, r.selfID), r.Handlers())
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return r.Join(ctx, c)
}

// relaySignaler sends negotiation straight over the room's own socket.
type relaySignaler struct {
	relay Relay
}

func (rs *relaySignaler) SendOffer(peerID string, offer webrtc.SessionDescription) error {
	rs.relay.Send(signal.EventOffer, signal.NewSessionSignal(peerID, offer))
	return nil
}

func (rs *relaySignaler) SendAnswer(peerID string, answer webrtc.SessionDescription) error {
	rs.relay.Send(signal.EventAnswer, signal.NewSessionSignal(peerID, answer))
	return nil
}

func (rs *relaySignaler) SendCandidate(peerID string, cand webrtc.ICECandidateInit) error {
	rs.relay.Send(signal.EventCandidate, signal.NewCandidateSignal(peerID, cand))
	return nil
}
