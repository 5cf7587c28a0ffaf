package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vivyapp/callkit/internal/bus"
	"github.com/vivyapp/callkit/internal/media"
	"github.com/vivyapp/callkit/internal/rtc"
)

// State is the call window's view of the session.
type State int

const (
	StateIncoming State = iota
	StateCalling
	StateConnecting
	StateInCall
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIncoming:
		return "incoming"
	case StateCalling:
		return "calling"
	case StateConnecting:
		return "connecting"
	case StateInCall:
		return "in-call"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	}
	return "unknown"
}

// terminal reports whether no further transition may leave s.
func (s State) terminal() bool { return s == StateEnded || s == StateError }

// Options inject the session's collaborators. Factory and Acquire have
// working defaults; the rest are optional observers.
type Options struct {
	// Factory builds peer connections. When nil, a pion factory is built
	// from Engine with the capture stream's codecs.
	Factory rtc.LinkFactory

	// Engine tunes the default pion factory; ignored when Factory is set.
	Engine rtc.EngineConfig

	// Acquire opens the local capture stream. Defaults to media.Capture.
	Acquire func(media.Constraints) (*media.Stream, error)

	// Constraints for Acquire. Zero value asks for video and audio.
	Constraints media.Constraints

	// OnState fires on every session state transition.
	OnState func(State)

	// OnRemoteTrack surfaces remote media for the presentation layer.
	OnRemoteTrack func(peerID string, track *webrtc.TrackRemote)

	// OnDuration ticks once per second while in-call with the elapsed time.
	OnDuration func(time.Duration)
}

// Session is the call-window controller for one 1:1 call. It consumes events
// from the cross-window channel, drives the peer manager, and posts the
// commands the home window forwards to the relay. All inbound events are
// filtered by call ID and local identity before they can have any effect.
type Session struct {
	params WindowParams
	ch     *bus.Channel
	opts   Options

	mu        sync.Mutex
	state     State
	peers     *rtc.Manager
	stream    *media.Stream
	startedAt time.Time
	stopTick  chan struct{}

	endOnce sync.Once
	done    chan struct{}
}

// NewSession builds a session from the window-open params. The caller role
// starts in calling, the callee in incoming; nothing is acquired until the
// call is accepted (callee) or confirmed (caller).
func NewSession(p WindowParams, ch *bus.Channel, opts Options) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if ch == nil {
		ch = bus.Discard()
	}
	if opts.Acquire == nil {
		opts.Acquire = media.Capture
	}
	if !opts.Constraints.Video && !opts.Constraints.Audio {
		opts.Constraints = media.Constraints{Video: true, Audio: true}
	}
	s := &Session{
		params: p,
		ch:     ch,
		opts:   opts,
		done:   make(chan struct{}),
	}
	if p.Role == RoleCaller {
		s.state = StateCalling
	} else {
		s.state = StateIncoming
	}
	return s, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done closes when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state.terminal() || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	log.Infof("session %s: %s", s.params.CallID, next)
	if s.opts.OnState != nil {
		s.opts.OnState(next)
	}
}

// Run consumes the cross-window channel until the session ends or ctx is
// cancelled. Cancellation hangs up.
func (s *Session) Run(ctx context.Context) {
	events, cancel := s.ch.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			s.Hangup()
			return
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ev)
		}
	}
}

// Accept is the callee's pickup action: it tells the home window to accept
// on the relay, then prepares media and the peer manager so the caller's
// offer can be answered the moment it arrives.
func (s *Session) Accept() error {
	if s.params.Role != RoleCallee {
		return errors.New("call: accept on caller session")
	}
	if s.State() != StateIncoming {
		return nil
	}
	s.ch.Post(bus.AcceptCall(s.params.CallID))
	if err := s.setup(); err != nil {
		return err
	}
	s.setState(StateConnecting)
	return nil
}

// Decline rejects an incoming call before any media or peer state exists.
func (s *Session) Decline() {
	if s.State() != StateIncoming {
		return
	}
	s.ch.Post(bus.DeclineCall(s.params.CallID))
	s.end(false)
}

// Hangup ends the call from this side. Idempotent.
func (s *Session) Hangup() { s.end(true) }

// ToggleAudio mutes or unmutes the local microphone. Returns the new muted
// state, true when no stream is held.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return true
	}
	return st.ToggleAudio()
}

// ToggleVideo disables or re-enables the local camera.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return true
	}
	return st.ToggleVideo()
}

// setup acquires local media and constructs the peer manager. A total media
// failure is fatal to the session; a degraded stream is not.
func (s *Session) setup() error {
	stream, err := s.opts.Acquire(s.opts.Constraints)
	if err != nil {
		log.Errorf("session %s: media: %v", s.params.CallID, err)
		s.fail()
		return err
	}

	factory := s.opts.Factory
	if factory == nil {
		ec := s.opts.Engine
		ec.Populate = stream.Populate()
		factory, err = rtc.NewPionFactory(ec)
		if err != nil {
			stream.Close()
			s.fail()
			return err
		}
	}

	peers := rtc.NewManager(
		&busSignaler{ch: s.ch, selfID: s.params.SelfID},
		factory,
		stream.Tracks(),
		rtc.Hooks{
			OnRemoteTrack: s.opts.OnRemoteTrack,
			OnPeerState:   s.onPeerState,
		},
	)

	s.mu.Lock()
	s.stream = stream
	s.peers = peers
	s.mu.Unlock()
	return nil
}

func (s *Session) onPeerState(peerID string, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.startedAt.IsZero() {
			s.startedAt = time.Now()
		}
		s.mu.Unlock()
		s.setState(StateInCall)
		s.startTimer()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		// May arrive after a local hangup already tore down; end is guarded.
		s.end(true)
	}
}

// HandleEvent routes one cross-window event. Events for another call or
// another identity are dropped without side effect.
func (s *Session) HandleEvent(ev bus.Event) {
	decoded, err := ev.Decode()
	if err != nil {
		log.Warnf("session %s: %v", s.params.CallID, err)
		return
	}

	switch ev.Type {
	case bus.TypeCallConnected:
		p := decoded.(*bus.CallConnected)
		if p.CallID != s.params.CallID {
			return
		}
		s.onConnectedNotice(p)

	case bus.TypeCallEndedByUser:
		// Counterpart already ended the call; tear down without echoing.
		s.end(false)

	case bus.TypeOfferReceived:
		p := decoded.(*bus.OfferPayload)
		if !s.fromPeer(p.TargetID, p.SenderID) {
			return
		}
		if peers := s.manager(); peers != nil {
			peers.AcceptOffer(p.SenderID, p.Offer)
		}

	case bus.TypeAnswerReceived:
		p := decoded.(*bus.AnswerPayload)
		if !s.fromPeer(p.TargetID, p.SenderID) {
			return
		}
		if peers := s.manager(); peers != nil {
			peers.AcceptAnswer(p.SenderID, p.Answer)
		}

	case bus.TypeCandidateReceived:
		p := decoded.(*bus.CandidatePayload)
		if !s.fromPeer(p.TargetID, p.SenderID) {
			return
		}
		if peers := s.manager(); peers != nil {
			peers.AddCandidate(p.SenderID, p.Candidate)
		}

	default:
		// Commands travelling the other way (accept/decline/end, send_*)
		// belong to the home window.
	}
}

// onConnectedNotice is the caller's cue that the callee accepted: set up
// media and open negotiation with an offer. The callee ignores it beyond
// the state change, its side reacts to the inbound offer instead.
func (s *Session) onConnectedNotice(p *bus.CallConnected) {
	if s.State().terminal() {
		return
	}
	s.mu.Lock()
	if s.startedAt.IsZero() {
		s.startedAt = p.StartTime
	}
	s.mu.Unlock()

	if s.params.Role == RoleCaller && s.manager() == nil {
		if err := s.setup(); err != nil {
			return
		}
		s.setState(StateConnecting)
		s.manager().MakeOffer(s.params.PeerID)
	}
}

// fromPeer applies the routing filter: a targetId addressed elsewhere, or a
// sender other than the call's counterparty, makes the event a no-op.
func (s *Session) fromPeer(targetID, senderID string) bool {
	if targetID != "" && targetID != s.params.SelfID {
		return false
	}
	return senderID == s.params.PeerID
}

func (s *Session) manager() *rtc.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers
}

func (s *Session) startTimer() {
	s.mu.Lock()
	if s.stopTick != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopTick = stop
	start := s.startedAt
	s.mu.Unlock()

	if s.opts.OnDuration == nil {
		return
	}
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				s.opts.OnDuration(now.Sub(start))
			}
		}
	}()
}

// fail moves to the terminal error state and releases whatever was built.
func (s *Session) fail() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateError
		peers, stream, stop := s.peers, s.stream, s.stopTick
		s.mu.Unlock()
		if stop != nil {
			close(stop)
		}
		if peers != nil {
			peers.CloseAll()
		}
		if stream != nil {
			stream.Close()
		}
		if s.opts.OnState != nil {
			s.opts.OnState(StateError)
		}
		close(s.done)
	})
}

// end runs teardown exactly once: timer, peers, media, then a best-effort
// end_call notice when this side initiated the hangup. Racing local and
// remote hangups collapse into a single pass.
func (s *Session) end(notify bool) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		peers, stream, stop := s.peers, s.stream, s.stopTick
		s.mu.Unlock()

		if stop != nil {
			close(stop)
		}
		if peers != nil {
			peers.CloseAll()
		}
		if stream != nil {
			stream.Close()
		}
		if notify {
			s.ch.Post(bus.EndCall(s.params.CallID))
		}
		if s.opts.OnState != nil {
			s.opts.OnState(StateEnded)
		}
		close(s.done)
	})
}

// busSignaler posts the manager's outbound negotiation onto the cross-window
// channel for the home window to relay.
type busSignaler struct {
	ch     *bus.Channel
	selfID string
}

func (b *busSignaler) SendOffer(peerID string, offer webrtc.SessionDescription) error {
	b.ch.Post(bus.SendOffer(peerID, b.selfID, offer))
	return nil
}

func (b *busSignaler) SendAnswer(peerID string, answer webrtc.SessionDescription) error {
	b.ch.Post(bus.SendAnswer(peerID, b.selfID, answer))
	return nil
}

func (b *busSignaler) SendCandidate(peerID string, cand webrtc.ICECandidateInit) error {
	b.ch.Post(bus.SendCandidate(peerID, b.selfID, cand))
	return nil
}
